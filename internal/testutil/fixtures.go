package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// FolderPair is a local/remote pair of temporary directories.
type FolderPair struct {
	Local  string
	Remote string
}

// NewFolderPair creates two empty sibling directories under t.TempDir().
func NewFolderPair(t *testing.T) FolderPair {
	t.Helper()

	root := t.TempDir()
	pair := FolderPair{
		Local:  filepath.Join(root, "local"),
		Remote: filepath.Join(root, "remote"),
	}
	require.NoError(t, os.Mkdir(pair.Local, 0755))
	require.NoError(t, os.Mkdir(pair.Remote, 0755))
	return pair
}

// NewFolder creates a temporary directory holding files (name -> content).
func NewFolder(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	WriteFiles(t, dir, files)
	return dir
}

// WriteFiles writes each name -> content pair into dir.
func WriteFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()

	for name, content := range files {
		WriteFile(t, dir, name, content)
	}
}

// WriteFile writes one file into dir.
func WriteFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

// RemoveFile deletes one file from dir.
func RemoveFile(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.Remove(filepath.Join(dir, name)))
}
