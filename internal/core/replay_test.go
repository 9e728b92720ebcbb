package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stored(path, content string) (StoredFile, []byte) {
	data := []byte(content)
	return StoredFile{Path: path, Digest: Digest(data), Size: int64(len(data))}, data
}

func TestRestorer_WritesAndSkipsUnchanged(t *testing.T) {
	ws := t.TempDir()
	r := NewRestorer(ws)

	f, data := stored("target/app.jar", "jar bytes")
	wrote, err := r.Restore(f, data)
	require.NoError(t, err)
	assert.True(t, wrote)

	got, err := os.ReadFile(filepath.Join(ws, "target", "app.jar"))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Same content is left alone.
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(ws, "target", "app.jar"), old, old))
	wrote, err = NewRestorer(ws).Restore(f, data)
	require.NoError(t, err)
	assert.False(t, wrote)
	info, err := os.Stat(filepath.Join(ws, "target", "app.jar"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old))
}

func TestRestorer_OverwritesStaleFile(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, "target"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "target", "app.jar"), []byte("stale"), 0o644))

	f, data := stored("target/app.jar", "fresh")
	wrote, err := NewRestorer(ws).Restore(f, data)
	require.NoError(t, err)
	assert.True(t, wrote)
	got, _ := os.ReadFile(filepath.Join(ws, "target", "app.jar"))
	assert.Equal(t, "fresh", string(got))
}

func TestRestorer_RejectsBadInput(t *testing.T) {
	r := NewRestorer(t.TempDir())

	f, data := stored("../escape.txt", "x")
	_, err := r.Restore(f, data)
	assert.Error(t, err)

	f, _ = stored("ok.txt", "x")
	_, err = r.Restore(f, []byte("tampered"))
	assert.ErrorContains(t, err, "digest mismatch")
}

func TestRestorer_Rollback(t *testing.T) {
	ws := t.TempDir()
	r := NewRestorer(ws)
	for _, p := range []string{"a.txt", "dir/b.txt"} {
		f, data := stored(p, p)
		_, err := r.Restore(f, data)
		require.NoError(t, err)
	}
	assert.Len(t, r.Written(), 2)

	require.NoError(t, r.Rollback())
	assert.NoFileExists(t, filepath.Join(ws, "a.txt"))
	assert.NoFileExists(t, filepath.Join(ws, "dir", "b.txt"))
	assert.Empty(t, r.Written())
}
