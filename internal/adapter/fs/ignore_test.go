package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnoreMatcher(t *testing.T) {
	root := t.TempDir()
	content := "# build output\nbuild/\n*.log\n!keep.log\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, GitignoreFilename), []byte(content), 0644))

	m, err := NewIgnoreMatcher(root)
	require.NoError(t, err)

	assert.True(t, m.Match(filepath.Join(root, "build"), true))
	assert.True(t, m.Match(filepath.Join(root, "debug.log"), false))
	assert.True(t, m.Match(filepath.Join(root, "sub", "trace.log"), false))
	assert.False(t, m.Match(filepath.Join(root, "keep.log"), false))
	assert.False(t, m.Match(filepath.Join(root, "main.go"), false))
}

func TestIgnoreMatcherWithoutGitignore(t *testing.T) {
	root := t.TempDir()

	m, err := NewIgnoreMatcher(root)
	require.NoError(t, err)
	assert.False(t, m.Match(filepath.Join(root, "anything.log"), false))
}
