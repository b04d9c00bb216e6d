package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrPathTraversal indicates a path contains or resolves to "..".
	ErrPathTraversal = errors.New("path contains directory traversal")

	// ErrEmptyPath indicates an empty path was provided.
	ErrEmptyPath = errors.New("path cannot be empty")
)

// ValidatePath rejects traversal and returns the cleaned absolute path. When
// allowedRoot is set the path must resolve inside it.
func ValidatePath(path, allowedRoot string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	if hasDotDot(path) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, path)
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	if allowedRoot != "" {
		root, err := filepath.Abs(allowedRoot)
		if err != nil {
			return "", fmt.Errorf("failed to resolve allowed root: %w", err)
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %s escapes %s", ErrPathTraversal, path, root)
		}
	}
	return abs, nil
}

// FileStem returns the base name of an uploaded file without its extension.
// Client-supplied names may carry directories; anything with traversal or
// without a usable stem is rejected.
func FileStem(name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	if name == "" {
		return "", ErrEmptyPath
	}
	if hasDotDot(name) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, name)
	}
	base := filepath.Base(name)
	stem := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if stem == "" || stem == "." || stem == "/" {
		return "", fmt.Errorf("no usable file name in %q", name)
	}
	return stem, nil
}

func hasDotDot(path string) bool {
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return true
		}
	}
	return false
}
