package utils

import (
	"mime"
	"path/filepath"
	"strings"
)

// DetectMime guesses a file's mime type from its name, stored in remote file metadata
func DetectMime(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".md", ".yaml", ".yml", ".toml":
		return "text/plain"
	case "":
		return "application/octet-stream"
	}
	if mimeType := mime.TypeByExtension(ext); mimeType != "" {
		// drop parameters such as charset
		if i := strings.IndexByte(mimeType, ';'); i >= 0 {
			mimeType = strings.TrimSpace(mimeType[:i])
		}
		return mimeType
	}
	return "application/octet-stream"
}
