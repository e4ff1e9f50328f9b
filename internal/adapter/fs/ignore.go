package fs

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

const GitignoreFilename = ".gitignore"

// IgnoreMatcher applies the patterns of a root-level .gitignore.
type IgnoreMatcher struct {
	patterns []gitignore.Pattern
	basePath string
}

// NewIgnoreMatcher reads basePath/.gitignore. A missing file yields a
// matcher that ignores nothing.
func NewIgnoreMatcher(basePath string) (*IgnoreMatcher, error) {
	m := &IgnoreMatcher{basePath: basePath}

	patterns, err := parseIgnoreFile(filepath.Join(basePath, GitignoreFilename))
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	m.patterns = patterns
	return m, nil
}

func (m *IgnoreMatcher) Match(path string, isDir bool) bool {
	if len(m.patterns) == 0 {
		return false
	}

	relPath, err := filepath.Rel(m.basePath, path)
	if err != nil || relPath == "." {
		return false
	}

	parts := strings.Split(relPath, string(filepath.Separator))
	matcher := gitignore.NewMatcher(m.patterns)
	return matcher.Match(parts, isDir)
}

func parseIgnoreFile(path string) ([]gitignore.Pattern, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []gitignore.Pattern
	scanner := bufio.NewScanner(f)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return patterns, nil
}
