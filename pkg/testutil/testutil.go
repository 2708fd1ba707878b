// Package testutil holds helpers shared by the package tests.
package testutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// CreateDummyBuf creates a byte slice that is `size` big.
// It's filled with the repeating numbers [0...254].
func CreateDummyBuf(size int64) []byte {
	buf := make([]byte, size)

	for i := int64(0); i < size; i++ {
		// Be evil and stripe the data:
		buf[i] = byte(i % 255)
	}

	return buf
}

// CreateRandomDummyBuf is like CreateDummyBuf but the content is derived
// from seed, so different seeds give different files.
func CreateRandomDummyBuf(size, seed int64) []byte {
	buf := make([]byte, size)

	state := uint64(seed)*6364136223846793005 + 1442695040888963407
	for i := range buf {
		state = state*6364136223846793005 + 1442695040888963407
		buf[i] = byte(state >> 56)
	}

	return buf
}

// TempDir creates a temporary directory that is removed when t ends.
func TempDir(t testing.TB, pattern string) string {
	dir, err := os.MkdirTemp("", pattern)
	require.NoError(t, err)
	t.Cleanup(func() { Remover(t, dir) })
	return dir
}

// Remover removes all files in paths recursively and errors when it fails.
// It is no error if there's nothing to delete. It's useful in defer statements.
func Remover(t testing.TB, paths ...string) {
	for _, path := range paths {
		if err := os.RemoveAll(path); err != nil {
			t.Errorf("removing temp directory failed: %v", err)
		}
	}
}

// Tree describes a directory layout for CreateTree. Keys are slash paths;
// a nil value creates a directory, anything else a file with that content.
type Tree map[string][]byte

// CreateTree creates the layout of tree below root.
func CreateTree(t testing.TB, root string, tree Tree) {
	for path, data := range tree {
		full := filepath.Join(root, filepath.FromSlash(path))
		if data == nil {
			require.NoError(t, os.MkdirAll(full, 0755))
			continue
		}

		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, data, 0644))
	}
}

// ReadTree returns the layout below root in the format of CreateTree.
// Empty files are returned as empty, non-nil slices.
func ReadTree(t testing.TB, root string) Tree {
	tree := Tree{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			tree[rel] = nil
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if data == nil {
			data = []byte{}
		}
		tree[rel] = data
		return nil
	})
	require.NoError(t, err)
	return tree
}

// RequireSameTree fails t unless both directories have the same layout
// and file contents.
func RequireSameTree(t testing.TB, expected, actual string) {
	want, got := ReadTree(t, expected), ReadTree(t, actual)

	require.Equal(t, len(want), len(got), "number of entries differs")
	for path, data := range want {
		gotData, ok := got[path]
		require.True(t, ok, "missing %s", path)
		if data == nil {
			require.Nil(t, gotData, "%s should be a directory", path)
			continue
		}
		require.NotNil(t, gotData, "%s should be a file", path)
		require.Equal(t, data, gotData, "content of %s differs", path)
	}
}
