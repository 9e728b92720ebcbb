package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"buildcache/internal/core"
)

const buildInfoFile = "buildinfo.json"

// FileStore keeps one directory per record:
//
//	{Root}/
//	  {groupId}/{artifactId}/{version}/{checksum}/
//	    buildinfo.json
//	    blobs/
//	      {digest}
//
// Blobs are written before buildinfo.json and every file is replaced by
// rename, so a crash leaves either the old record or the new one.
type FileStore struct {
	Root string
}

var _ Backend = (*FileStore)(nil)

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("file store: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &FileStore{Root: root}, nil
}

func (f *FileStore) recordDir(key core.ProjectKey, sum core.Checksum) string {
	return filepath.Join(f.Root, key.GroupID, key.ArtifactID, key.Version, sum.String())
}

// Get implements Backend.
func (f *FileStore) Get(ctx context.Context, key core.ProjectKey, sum core.Checksum) (*core.CacheRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(f.recordDir(key, sum), buildInfoFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading build info: %w", err)
	}
	var rec core.CacheRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing build info %s: %w", path, err)
	}
	rec.StorageLocation = path
	return &rec, nil
}

// Put implements Backend.
func (f *FileStore) Put(ctx context.Context, rec *core.CacheRecord, blobs core.Blobs) (string, error) {
	dir := f.recordDir(rec.Project, rec.Checksum)
	blobDir := filepath.Join(dir, "blobs")
	if err := os.MkdirAll(blobDir, 0o755); err != nil {
		return "", fmt.Errorf("creating record directory: %w", err)
	}

	for d, data := range blobs {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		path := filepath.Join(blobDir, d)
		if blobIntact(path, d) {
			continue
		}
		if err := renameio.WriteFile(path, data, 0o644); err != nil {
			return "", fmt.Errorf("writing blob %s: %w", d, err)
		}
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling build info: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(dir, buildInfoFile)
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing build info: %w", err)
	}
	return path, nil
}

// blobIntact reports whether path holds content hashing to digest. A blob
// that rotted on disk is rewritten by the next save that carries it.
func blobIntact(path, digest string) bool {
	data, err := os.ReadFile(path)
	return err == nil && core.Digest(data) == digest
}

// Blob implements Backend.
func (f *FileStore) Blob(ctx context.Context, key core.ProjectKey, sum core.Checksum, digest string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !fs.ValidPath(digest) || filepath.Base(digest) != digest {
		return nil, fmt.Errorf("%w: invalid blob digest %q", core.ErrInvalidRecord, digest)
	}
	data, err := os.ReadFile(filepath.Join(f.recordDir(key, sum), "blobs", digest))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, digest)
		}
		return nil, fmt.Errorf("reading blob %s: %w", digest, err)
	}
	return data, nil
}

// Close implements Backend.
func (f *FileStore) Close() error { return nil }
