package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListDirs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, d := range []string{"sub-02", "sub-01", "derivatives", "sub-10"} {
		require.NoError(t, os.Mkdir(filepath.Join(root, d), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub-03.html"), nil, 0o644))

	names, err := ListDirs(root, "sub-")
	require.NoError(t, err)
	assert.Equal(t, []string{"sub-01", "sub-02", "sub-10"}, names)

	_, err = ListDirs(filepath.Join(root, "missing"), "sub-")
	assert.Error(t, err)
}

func TestListNames(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, f := range []string{"b.feat", "a.feat", "a.fsf"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, f), nil, 0o644))
	}

	names, err := ListNames(root, func(n string) bool { return filepath.Ext(n) == ".feat" })
	require.NoError(t, err)
	assert.Equal(t, []string{"a.feat", "b.feat"}, names)

	names, err = ListNames(filepath.Join(root, "nope"), nil)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestCopyFileAndWriteLines(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	src := filepath.Join(root, "ident.mat")
	require.NoError(t, WriteLines(src, []string{"1 0 0 0", "0 1 0 0"}))

	dst := filepath.Join(root, "reg", "example_func2standard.mat")
	require.NoError(t, os.Mkdir(filepath.Dir(dst), 0o755))
	require.NoError(t, CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "1 0 0 0\n0 1 0 0\n", string(data))
	assert.True(t, Exists(dst))
	assert.False(t, IsDir(dst))
	assert.True(t, IsDir(root))
}
