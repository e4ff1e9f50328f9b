package usecase

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"imgsearch/internal/adapter/fs"
)

// ScanOptions lists what the project scanner leaves out. Extensions are
// compared case-insensitively and include the leading dot.
type ScanOptions struct {
	ExcludeFolders    []string
	ExcludeExtensions []string
	ExcludeFiles      []string
}

type ScanResult struct {
	Output string
	Files  []string
	// TotalFiles counts files whose content was read.
	TotalFiles int
	TotalLines int
}

const scanSeparator = "================================================================================"

// Scanner concatenates a project's tree and file contents into one text
// document, honouring the root .gitignore.
type Scanner struct {
	opts   ScanOptions
	logger logrus.FieldLogger
}

func NewScanner(opts ScanOptions, logger logrus.FieldLogger) *Scanner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scanner{opts: opts, logger: logger}
}

func (s *Scanner) Scan(root string) (*ScanResult, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", root)
	}

	ignore, err := fs.NewIgnoreMatcher(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fs.GitignoreFilename, err)
	}

	folders := toSet(s.opts.ExcludeFolders, false)
	exts := toSet(s.opts.ExcludeExtensions, true)
	files := toSet(s.opts.ExcludeFiles, false)

	var b strings.Builder
	result := &ScanResult{}

	fmt.Fprintf(&b, "Root folder name: %s\n\n", filepath.Base(root))
	b.WriteString("Project folder and file structure:\n")

	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("skipping unreadable entry")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, _ := filepath.Rel(root, path)
		depth := 0
		if rel != "." {
			depth = strings.Count(rel, string(filepath.Separator)) + 1
		}

		if d.IsDir() {
			if rel != "." {
				if _, skip := folders[d.Name()]; skip || ignore.Match(path, true) {
					return filepath.SkipDir
				}
			}
			fmt.Fprintf(&b, "%s%s/\n", indent(depth), d.Name())
			return nil
		}

		if _, skip := files[d.Name()]; skip {
			return nil
		}
		if ignore.Match(path, false) {
			return nil
		}
		if _, skip := exts[strings.ToLower(filepath.Ext(d.Name()))]; skip {
			return nil
		}

		fmt.Fprintf(&b, "%s%s\n", indent(depth), d.Name())
		result.Files = append(result.Files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk project: %w", err)
	}

	b.WriteString("\nFile Code:\n")
	for _, rel := range result.Files {
		fmt.Fprintf(&b, "\nFile: %s\n", rel)
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			fmt.Fprintf(&b, "Error reading file: %v\n", err)
			b.WriteString("\n" + scanSeparator + "\n")
			continue
		}
		content := strings.ToValidUTF8(string(data), "")
		b.WriteString(content)
		b.WriteString("\n" + scanSeparator + "\n")
		result.TotalFiles++
		result.TotalLines += countLines(content)
	}

	result.Output = b.String()
	return result, nil
}

func indent(depth int) string {
	return strings.Repeat(" ", 4*depth)
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

func toSet(items []string, lower bool) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if lower {
			it = strings.ToLower(it)
		}
		set[it] = struct{}{}
	}
	return set
}

// SplitList parses a comma separated option value.
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
