// Package store implements core.Store on top of pluggable backends.
//
// Store owns the parts every backend shares: per-key locking, record
// merging and validation, and workspace materialization. Backends only
// persist records and content-addressed blobs, atomically.
package store

import (
	"context"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"buildcache/internal/core"
	"buildcache/internal/lifecycle"
)

// ErrBlobNotFound is returned by backends for unknown digests.
var ErrBlobNotFound = core.ErrBlobNotFound

// Backend persists records and blobs.
//
// Put must be atomic: a failed Put leaves the previous record readable, and
// the record is only visible once every blob passed to Put is stored.
type Backend interface {
	// Get returns the record with StorageLocation set, or nil, nil.
	Get(ctx context.Context, key core.ProjectKey, sum core.Checksum) (*core.CacheRecord, error)

	// Put stores blobs, then rec, and returns the storage location.
	Put(ctx context.Context, rec *core.CacheRecord, blobs core.Blobs) (string, error)

	// Blob returns the content stored for digest under (key, sum).
	Blob(ctx context.Context, key core.ProjectKey, sum core.Checksum, digest string) ([]byte, error)

	Close() error
}

var _ core.Store = (*Store)(nil)

// Store is the core.Store implementation shared by all backends.
type Store struct {
	lc      *lifecycle.Lifecycle
	backend Backend
	locks   *keyLocks
	logger  log.Logger
}

// New wraps backend. lc is used to merge and validate records.
func New(lc *lifecycle.Lifecycle, backend Backend, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Store{
		lc:      lc,
		backend: backend,
		locks:   newKeyLocks(),
		logger:  log.With(logger, "component", "store"),
	}
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend { return s.backend }

// Close closes the backend.
func (s *Store) Close() error { return s.backend.Close() }

// Find implements core.Store. It takes no lock.
func (s *Store) Find(ctx context.Context, key core.ProjectKey, sum core.Checksum) (*core.CacheRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := sum.Validate(); err != nil {
		return nil, err
	}
	rec, err := s.backend.Get(ctx, key, sum)
	if err != nil {
		return nil, fmt.Errorf("finding %s/%s: %w", key, sum, err)
	}
	return rec, nil
}

// Save implements core.Store.
//
// With SaveMerge the stored record is read and merged under the key's write
// lock, so concurrent saves of one key serialize and none is lost.
func (s *Store) Save(ctx context.Context, rec *core.CacheRecord, blobs core.Blobs, mode core.SaveMode) (*core.CacheRecord, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: nil record", core.ErrInvalidRecord)
	}
	if err := rec.Validate(s.lc); err != nil {
		return nil, err
	}
	key, sum := rec.Project, rec.Checksum

	unlock := s.locks.lock(lockKey(key, sum))
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var existing *core.CacheRecord
	if mode == core.SaveMerge {
		var err error
		existing, err = s.backend.Get(ctx, key, sum)
		if err != nil {
			return nil, fmt.Errorf("reading %s/%s for merge: %w", key, sum, err)
		}
	}
	merged := core.MergeRecords(s.lc, existing, rec)
	if err := merged.Validate(s.lc); err != nil {
		return nil, err
	}

	// Only blobs of the incoming record are written; blobs of entries kept
	// from the existing record are already stored.
	needed := make(core.Blobs)
	for _, d := range rec.Digests() {
		data, ok := blobs[d]
		if !ok {
			if existing == nil || !contains(existing.Digests(), d) {
				return nil, fmt.Errorf("saving %s/%s: no content for blob %s", key, sum, d)
			}
			continue
		}
		if got := core.Digest(data); got != d {
			return nil, fmt.Errorf("saving %s/%s: blob %s has digest %s", key, sum, d, got)
		}
		needed[d] = data
	}

	loc, err := s.backend.Put(ctx, merged, needed)
	if err != nil {
		return nil, fmt.Errorf("saving %s/%s: %w", key, sum, err)
	}
	merged.StorageLocation = loc
	level.Debug(s.logger).Log("msg", "record saved", "project", key, "checksum", sum, "mode", mode,
		"highest_phase", merged.HighestPhase, "blobs", len(needed), "location", loc)
	return merged, nil
}

// Materialize implements core.Store. It holds the key's read lock so it never
// observes a save of the same key half way.
func (s *Store) Materialize(ctx context.Context, rec *core.CacheRecord, workspace string) (*core.Materialized, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: nil record", core.ErrInvalidRecord)
	}
	unlock := s.locks.rlock(lockKey(rec.Project, rec.Checksum))
	defer unlock()

	return materialize(ctx, rec, workspace, func(ctx context.Context, digest string) ([]byte, error) {
		return s.backend.Blob(ctx, rec.Project, rec.Checksum, digest)
	})
}

func contains(sorted []string, s string) bool {
	for _, v := range sorted {
		if v == s {
			return true
		}
	}
	return false
}
