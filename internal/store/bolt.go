package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"buildcache/internal/core"
)

var (
	recordsBucket = []byte("records")
	blobsBucket   = []byte("blobs")
)

// BoltStore keeps records and blobs in a bbolt file with one bucket each.
// A Put is one update transaction.
type BoltStore struct {
	db *bbolt.DB
}

var _ Backend = (*BoltStore)(nil)

// NewBoltStore opens or creates the bbolt database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o644, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{recordsBucket, blobsBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func boltKey(key core.ProjectKey, sum core.Checksum) []byte {
	return []byte(lockKey(key, sum))
}

func (b *BoltStore) location(key core.ProjectKey, sum core.Checksum) string {
	return fmt.Sprintf("%s#%s/%s", b.db.Path(), key, sum)
}

// Get implements Backend.
func (b *BoltStore) Get(ctx context.Context, key core.ProjectKey, sum core.Checksum) (*core.CacheRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec *core.CacheRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(recordsBucket).Get(boltKey(key, sum))
		if data == nil {
			return nil
		}
		rec = &core.CacheRecord{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	if rec != nil {
		rec.StorageLocation = b.location(key, sum)
	}
	return rec, nil
}

// Put implements Backend.
func (b *BoltStore) Put(ctx context.Context, rec *core.CacheRecord, blobs core.Blobs) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	err = b.db.Update(func(tx *bbolt.Tx) error {
		bb := tx.Bucket(blobsBucket)
		for d, content := range blobs {
			if existing := bb.Get([]byte(d)); existing != nil && core.Digest(existing) == d {
				continue
			}
			if err := bb.Put([]byte(d), content); err != nil {
				return fmt.Errorf("put blob %s: %w", d, err)
			}
		}
		return tx.Bucket(recordsBucket).Put(boltKey(rec.Project, rec.Checksum), data)
	})
	if err != nil {
		return "", fmt.Errorf("put record: %w", err)
	}
	return b.location(rec.Project, rec.Checksum), nil
}

// Blob implements Backend.
func (b *BoltStore) Blob(ctx context.Context, _ core.ProjectKey, _ core.Checksum, digest string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(blobsBucket).Get([]byte(digest))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrBlobNotFound, digest)
		}
		// Values are only valid for the life of the transaction.
		out = append([]byte(nil), data...)
		return nil
	})
	return out, err
}

// Close closes the database.
func (b *BoltStore) Close() error {
	return b.db.Close()
}
