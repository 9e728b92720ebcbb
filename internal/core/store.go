package core

import "context"

// Store provides persistence of cache records keyed by (project, checksum).
//
// Implementations live in internal/store.
//
// Concurrency:
//   - Find is side-effect free and safe for any number of callers.
//   - Save is exclusive per (project, checksum); different keys never block
//     each other.
//   - Materialize must not race with a Save of the same key.
type Store interface {
	// Find returns the record for (key, sum).
	// Returns nil, nil if no record exists.
	Find(ctx context.Context, key ProjectKey, sum Checksum) (*CacheRecord, error)

	// Save persists rec together with the blobs it references that are not
	// stored yet, and returns the record as stored. With SaveMerge an existing
	// record is extended via MergeRecords and never shrinks.
	//
	// A failed Save leaves any previously stored record intact.
	Save(ctx context.Context, rec *CacheRecord, blobs Blobs, mode SaveMode) (*CacheRecord, error)

	// Materialize writes every restorable file of rec into workspace.
	// On error no file written by this call is left behind.
	Materialize(ctx context.Context, rec *CacheRecord, workspace string) (*Materialized, error)
}

// Materialized reports the outcome of a successful Materialize.
type Materialized struct {
	// Files are the workspace-relative paths the record covers.
	Files []string

	// Written counts the files that had to be (re)written. Files already
	// present with the right content are left alone.
	Written int
}
