package utils

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}

// FileExists checks if a file exists and is not a directory
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// IsRemote reports whether src should be fetched over HTTP rather than read from disk
func IsRemote(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// SourceName returns a short name for an image source URL, for file names and logs
func SourceName(src string) string {
	if strings.HasPrefix(src, "data:") {
		return "inline"
	}
	name := src
	if u, err := url.Parse(src); err == nil {
		name = path.Base(u.Path)
	}
	if name == "/" || name == "." {
		name = ""
	}
	name = strings.TrimSuffix(name, path.Ext(name))
	name = SanitizeFilename(name)
	if name == "" {
		return "image"
	}
	return name
}

// SnapshotFilename builds an output path like dir/003_faces_photo.png
func SnapshotFilename(dir string, index int, mode, src, format string) string {
	return filepath.Join(dir, fmt.Sprintf("%03d_%s_%s.%s", index, mode, SourceName(src), strings.ToLower(format)))
}

// SanitizeFilename removes or replaces invalid characters in filenames
func SanitizeFilename(filename string) string {
	invalid := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|"}
	result := filename

	for _, char := range invalid {
		result = strings.ReplaceAll(result, char, "_")
	}

	// Remove leading/trailing spaces and dots
	result = strings.Trim(result, " .")

	return result
}
