package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildcache/internal/core"
	"buildcache/internal/lifecycle"
)

var key = core.ProjectKey{GroupID: "org.example", ArtifactID: "app", Version: "1.0"}

func testBackends(t *testing.T) map[string]Backend {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFileStore(filepath.Join(dir, "files"))
	require.NoError(t, err)
	sq, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	bolt, err := NewBoltStore(filepath.Join(dir, "cache.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() {
		sq.Close()
		bolt.Close()
	})
	return map[string]Backend{"file": fs, "sqlite": sq, "bolt": bolt, "memory": NewMemoryStore()}
}

// fragment builds a record at phase holding one extra output per name.
func fragment(sum core.Checksum, phase lifecycle.Phase, names ...string) (*core.CacheRecord, core.Blobs) {
	rec := &core.CacheRecord{Project: key, Checksum: sum, HighestPhase: phase}
	blobs := core.Blobs{}
	for _, n := range names {
		data := []byte("content of " + n)
		d := core.Digest(data)
		blobs[d] = data
		rec.ExtraOutputs = append(rec.ExtraOutputs, core.ExtraOutput{
			Declaration: "out/*", Path: "out/" + n, Cacheable: true, Digest: d, Size: int64(len(data)),
		})
	}
	return rec, blobs
}

func TestStore_SaveFindMaterialize(t *testing.T) {
	lc := lifecycle.Default()
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(lc, b, nil)
			ctx := context.Background()

			got, err := s.Find(ctx, key, "c1")
			require.NoError(t, err)
			assert.Nil(t, got, "absent is not an error")

			rec, blobs := fragment("c1", "package", "a.txt", "b.txt")
			saved, err := s.Save(ctx, rec, blobs, core.SaveMerge)
			require.NoError(t, err)
			assert.NotEmpty(t, saved.StorageLocation)

			found, err := s.Find(ctx, key, "c1")
			require.NoError(t, err)
			require.NotNil(t, found)
			assert.Equal(t, saved, found)

			ext, extBlobs := fragment("c1", "install", "c.txt")
			merged, err := s.Save(ctx, ext, extBlobs, core.SaveMerge)
			require.NoError(t, err)
			assert.Equal(t, lifecycle.Phase("install"), merged.HighestPhase)
			assert.Len(t, merged.ExtraOutputs, 3)

			ws := t.TempDir()
			m, err := s.Materialize(ctx, merged, ws)
			require.NoError(t, err)
			assert.Equal(t, []string{"out/a.txt", "out/b.txt", "out/c.txt"}, m.Files)
			assert.Equal(t, 3, m.Written)
			data, err := os.ReadFile(filepath.Join(ws, "out", "b.txt"))
			require.NoError(t, err)
			assert.Equal(t, "content of b.txt", string(data))

			replaced, blobs := fragment("c1", "compile", "d.txt")
			out, err := s.Save(ctx, replaced, blobs, core.SaveReplace)
			require.NoError(t, err)
			assert.Equal(t, lifecycle.Phase("compile"), out.HighestPhase)
			assert.Len(t, out.ExtraOutputs, 1)

			assert.Equal(t, 0, s.locks.held())
		})
	}
}

func TestStore_SaveRejectsBadInput(t *testing.T) {
	s := New(lifecycle.Default(), NewMemoryStore(), nil)
	ctx := context.Background()

	rec, _ := fragment("c1", "package", "a.txt")
	_, err := s.Save(ctx, rec, core.Blobs{}, core.SaveMerge)
	assert.ErrorContains(t, err, "no content for blob")

	rec, blobs := fragment("c1", "package", "a.txt")
	for d := range blobs {
		blobs[d] = []byte("tampered")
	}
	_, err = s.Save(ctx, rec, blobs, core.SaveMerge)
	assert.Error(t, err)

	rec, blobs = fragment("c1", "package", "a.txt")
	rec.ExtraOutputs[0].Cacheable = false
	_, err = s.Save(ctx, rec, blobs, core.SaveMerge)
	assert.ErrorIs(t, err, core.ErrInvalidRecord)
}

// Concurrent saves of one key serialize; the final record holds every
// fragment.
func TestStore_ConcurrentSavesMerge(t *testing.T) {
	lc := lifecycle.Default()
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(lc, b, nil)
			phases := []lifecycle.Phase{"compile", "test", "package", "verify", "install", "deploy"}

			var wg sync.WaitGroup
			errs := make(chan error, len(phases)*2)
			for i, ph := range phases {
				for j := 0; j < 2; j++ {
					wg.Add(1)
					go func(i, j int, ph lifecycle.Phase) {
						defer wg.Done()
						rec, blobs := fragment("shared", ph, fmt.Sprintf("f-%d-%d.txt", i, j))
						_, err := s.Save(context.Background(), rec, blobs, core.SaveMerge)
						errs <- err
					}(i, j, ph)
				}
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			final, err := s.Find(context.Background(), key, "shared")
			require.NoError(t, err)
			assert.Equal(t, lifecycle.Phase("deploy"), final.HighestPhase)
			assert.Len(t, final.ExtraOutputs, len(phases)*2)

			m, err := s.Materialize(context.Background(), final, t.TempDir())
			require.NoError(t, err)
			assert.Len(t, m.Files, len(phases)*2)
		})
	}
}

func TestStore_MaterializeMissingBlobRollsBack(t *testing.T) {
	mem := NewMemoryStore()
	s := New(lifecycle.Default(), mem, nil)
	ctx := context.Background()

	rec, blobs := fragment("c1", "package", "a.txt", "b.txt", "c.txt")
	saved, err := s.Save(ctx, rec, blobs, core.SaveMerge)
	require.NoError(t, err)
	mem.DeleteBlob(saved.ExtraOutputs[2].Digest)

	ws := t.TempDir()
	_, err = s.Materialize(ctx, saved, ws)
	require.ErrorIs(t, err, ErrBlobNotFound)
	assert.NoFileExists(t, filepath.Join(ws, "out", "a.txt"))
	assert.NoFileExists(t, filepath.Join(ws, "out", "b.txt"))
}

func TestFileStore_Layout(t *testing.T) {
	root := t.TempDir()
	fs, err := NewFileStore(root)
	require.NoError(t, err)
	s := New(lifecycle.Default(), fs, nil)

	rec, blobs := fragment("0123abcd", "package", "a.txt")
	saved, err := s.Save(context.Background(), rec, blobs, core.SaveMerge)
	require.NoError(t, err)

	dir := filepath.Join(root, "org.example", "app", "1.0", "0123abcd")
	assert.Equal(t, filepath.Join(dir, "buildinfo.json"), saved.StorageLocation)
	assert.FileExists(t, filepath.Join(dir, "blobs", saved.ExtraOutputs[0].Digest))

	_, err = fs.Blob(context.Background(), key, "0123abcd", "../buildinfo.json")
	assert.Error(t, err)
}

func TestFileStore_CorruptRecordIsError(t *testing.T) {
	root := t.TempDir()
	fs, err := NewFileStore(root)
	require.NoError(t, err)
	dir := filepath.Join(root, "org.example", "app", "1.0", "c1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "buildinfo.json"), []byte("{"), 0o644))

	_, err = New(lifecycle.Default(), fs, nil).Find(context.Background(), key, "c1")
	assert.Error(t, err)
}

func TestKeyLocks_ReleaseEntries(t *testing.T) {
	l := newKeyLocks()
	unlockA := l.lock("a")
	unlockB := l.rlock("b")
	unlockB2 := l.rlock("b")
	assert.Equal(t, 2, l.held())
	unlockA()
	unlockB()
	unlockB2()
	assert.Equal(t, 0, l.held())
}

func TestBackends_PutRewritesDamagedBlob(t *testing.T) {
	for name, b := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec, blobs := fragment("c1", "package", "a.txt")
			d := rec.ExtraOutputs[0].Digest

			_, err := b.Put(ctx, rec, core.Blobs{d: []byte("bitrot")})
			require.NoError(t, err)
			_, err = b.Put(ctx, rec, blobs)
			require.NoError(t, err)

			got, err := b.Blob(ctx, key, "c1", d)
			require.NoError(t, err)
			assert.Equal(t, blobs[d], got)
		})
	}
}
