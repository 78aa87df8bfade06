package utils

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var ErrEmptyPath = errors.New("path cannot be empty")

// ResolvePath expands `~` and returns a clean absolute path
func ResolvePath(p string) (string, error) {
	if p == "" {
		return "", ErrEmptyPath
	}

	if strings.HasPrefix(p, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("home dir: %w", err)
		}
		p = strings.Replace(p, "~", homeDir, 1)
	}

	absPath, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}

	return filepath.Clean(absPath), nil
}

func EnsureParent(p string) error {
	return EnsureDir(filepath.Dir(p))
}

func EnsureDir(p string) error {
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	return os.MkdirAll(p, 0o755)
}

func DirExists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func FileExists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// IsReadWritableDir checks that dir exists and that a scratch file can be created and removed in it.
func IsReadWritableDir(dir string) error {
	entries, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir: %w", err)
	}
	defer entries.Close()
	if _, err := entries.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read dir: %w", err)
	}

	scratch, err := os.CreateTemp(dir, ".cryptsync-rw-*")
	if err != nil {
		return fmt.Errorf("write scratch file: %w", err)
	}
	name := scratch.Name()
	scratch.Close()
	return os.Remove(name)
}

// ToSlashRel converts an OS specific relative path into the `/` separated form used in trees.
func ToSlashRel(rel string) string {
	rel = filepath.ToSlash(filepath.Clean(rel))
	rel = strings.TrimLeft(rel, "/")
	if rel == "." {
		return ""
	}
	return rel
}

// ParentPath returns the `/` separated parent of p, "" for top level entries.
func ParentPath(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// IsSubPath reports whether child equals parent or is nested somewhere below it.
func IsSubPath(parent, child string) bool {
	if parent == "" {
		return true
	}
	return child == parent || strings.HasPrefix(child, parent+"/")
}

// PathDepth returns the number of segments in a `/` separated path.
func PathDepth(p string) int {
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}
