// Package validation checks user supplied URLs, hosts and paths before
// they reach the server or the filesystem.
package validation

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ValidatePath validates an app or theme directory given on the command
// line or in .zat.
func ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("path contains a NUL byte")
	}

	cleanPath := filepath.Clean(p)
	for _, char := range []string{";", "&", "|", "$", "`", "<", ">", "\"", "'"} {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}

// ContainedPath joins the slash separated request path rel onto root. It
// reports false when rel is empty, names root itself, or contains a NUL.
// Dot-dot elements are resolved before joining, so the result never
// leaves root.
func ContainedPath(root, rel string) (string, bool) {
	if rel == "" || strings.ContainsRune(rel, 0) {
		return "", false
	}
	cleaned := path.Clean("/" + rel)
	if cleaned == "/" {
		return "", false
	}
	return filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(cleaned, "/"))), true
}
