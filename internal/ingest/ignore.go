package ingest

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFile lists glob patterns, one per line, for files in the drop
// folder that should not be ingested. Blank lines and # comments are
// skipped. Patterns match the file's base name.
const IgnoreFile = ".minutesignore"

// loadIgnore reads dir/IgnoreFile. A missing file yields no patterns.
func loadIgnore(dir string) ([]string, error) {
	f, err := os.Open(filepath.Join(dir, IgnoreFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var patterns []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		p := parseIgnoreLine(scanner.Text())
		if p == "" || seen[p] {
			continue
		}
		if _, err := filepath.Match(p, ""); err != nil {
			continue
		}
		seen[p] = true
		patterns = append(patterns, p)
	}
	return patterns, scanner.Err()
}

// parseIgnoreLine returns the pattern on line, or "" for blanks, comments
// and negations (not supported).
func parseIgnoreLine(line string) string {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return ""
	}
	return strings.TrimPrefix(line, "/")
}

func ignored(patterns []string, path string) bool {
	base := filepath.Base(path)
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}
