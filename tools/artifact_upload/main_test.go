package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalk(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0775))
	require.NoError(t, os.WriteFile(filepath.Join(root, "z.txt"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "b", "c.txt"), nil, 0644))
	require.NoError(t, os.Symlink("z.txt", filepath.Join(root, "link")))

	files, err := walk(root)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a", "b", "c.txt"),
		filepath.Join(root, "z.txt"),
	}, files)
}
