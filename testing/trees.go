package testing

import (
	"path"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// NewSourceTree creates an in-memory file system holding `files` under `root`.
// Keys are slash-separated paths relative to `root`; a key ending in "/"
// creates an empty directory.
func NewSourceTree(t *testing.T, root string, files map[string]string) afero.Fs {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(root, 0o755))

	for name, contents := range files {
		fullPath := path.Join(root, name)
		if name[len(name)-1] == '/' {
			require.NoError(t, fs.MkdirAll(fullPath, 0o755))
			continue
		}
		require.NoError(t, fs.MkdirAll(path.Dir(fullPath), 0o755))
		require.NoError(t, afero.WriteFile(fs, fullPath, []byte(contents), 0o644))
	}
	return fs
}
