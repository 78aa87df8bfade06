package sync

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/cryptsync/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

const (
	IgnoreFileName = ".cryptsyncignore"

	maxPathBytes = 512
	maxPathDepth = 64
)

var defaultIgnoreNames = mapset.NewThreadUnsafeSet(
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	"Icon\r",
	"$RECYCLE.BIN",
	"System Volume Information",
	"lost+found",
)

var defaultIgnoreExts = mapset.NewThreadUnsafeSet(
	".tmp",
	".temp",
	".crdownload",
	".part",
	".partial",
	".download",
	".swp",
	".lnk",
)

var defaultIgnoreLines = []string{
	// IDE/Editor-specific
	".vscode",
	".idea",
	// General excludes
	".git",
	"*~",
}

// isDefaultIgnored covers filesystem noise that is never synced, whatever the user configured
func isDefaultIgnored(rel string) bool {
	if len(rel) > maxPathBytes || utils.PathDepth(rel) > maxPathDepth {
		return true
	}

	name := baseName(rel)
	// dotfiles and office lock files
	if name == "" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") {
		return true
	}
	return defaultIgnoreNames.Contains(name) ||
		defaultIgnoreExts.Contains(strings.ToLower(filepath.Ext(name)))
}

// SyncIgnoreList combines the user's ignore file with the location's selective sync exclusions
type SyncIgnoreList struct {
	baseDir  string
	excluded []string
	ignore   *gitignore.GitIgnore
}

func NewSyncIgnoreList(baseDir string, excluded []string) *SyncIgnoreList {
	return &SyncIgnoreList{baseDir: baseDir, excluded: excluded}
}

func (s *SyncIgnoreList) Load() {
	ignorePath := filepath.Join(s.baseDir, IgnoreFileName)
	ignoreLines := append([]string{}, defaultIgnoreLines...)

	if utils.FileExists(ignorePath) {
		rules := 0
		file, err := os.Open(ignorePath)
		if err != nil {
			slog.Warn("ignore file open", "path", ignorePath, "error", err)
		} else {
			defer file.Close()

			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line != "" && !strings.HasPrefix(line, "#") {
					ignoreLines = append(ignoreLines, line)
					rules++
				}
			}

			if err := scanner.Err(); err != nil {
				slog.Warn("ignore file read", "path", ignorePath, "error", err)
			} else {
				slog.Debug("ignore file loaded", "path", ignorePath, "rules", rules)
			}
		}
	}

	valid := s.excluded[:0:0]
	for _, pattern := range s.excluded {
		pattern = strings.Trim(filepath.ToSlash(pattern), "/")
		if pattern == "" || !doublestar.ValidatePattern(pattern) {
			slog.Warn("invalid selective sync pattern", "pattern", pattern)
			continue
		}
		valid = append(valid, pattern)
	}
	s.excluded = valid

	s.ignore = gitignore.CompileIgnoreLines(ignoreLines...)
}

// ShouldIgnore matches a tree path. A selective sync pattern that matches a
// folder excludes everything below it too.
func (s *SyncIgnoreList) ShouldIgnore(path string) bool {
	if s.ignore == nil {
		s.Load()
	}
	if s.ignore.MatchesPath(path) {
		return true
	}
	if len(s.excluded) == 0 {
		return false
	}
	for p := path; p != ""; p = utils.ParentPath(p) {
		for _, pattern := range s.excluded {
			if ok, _ := doublestar.Match(pattern, p); ok {
				return true
			}
		}
	}
	return false
}
