// Package pathutil provides path manipulation for slash-separated archive paths.
package pathutil

import "strings"

// Split returns the non-empty components of a slash-separated path,
// dropping "." components.
func Split(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" && p != "." {
			parts = append(parts, p)
		}
	}
	return parts
}

// Strip removes the first n components of path. ok is false when nothing
// remains.
func Strip(path string, n int) (rest string, ok bool) {
	parts := Split(path)
	if n >= len(parts) {
		return "", false
	}
	return strings.Join(parts[n:], "/"), true
}

// Safe reports whether every component of path stays inside the
// directory it is extracted to.
func Safe(path string) bool {
	parts := Split(path)
	if len(parts) == 0 {
		return false
	}
	for _, p := range parts {
		if p == ".." || strings.ContainsRune(p, '\\') || strings.ContainsRune(p, 0) {
			return false
		}
	}
	return true
}
