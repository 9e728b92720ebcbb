package core

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"buildcache/internal/lifecycle"
)

// BuildContext carries everything the checksum of one project build depends
// on. The requested phase is deliberately absent: one checksum spans every
// phase of the same inputs.
type BuildContext struct {
	// Workspace is the project root.
	Workspace string

	// Inputs and Excludes are doublestar patterns relative to Workspace.
	Inputs   []string
	Excludes []string

	// Units is the full declared binding, regardless of requested phase.
	Units []lifecycle.WorkUnit

	// Config holds build-affecting settings: plugin configuration,
	// dependency versions, unit commands.
	Config map[string]string
}

// ChecksumProvider computes the input fingerprint of a project build.
//
// Compute must be deterministic for identical inputs and must change whenever
// an output-affecting input changes.
type ChecksumProvider interface {
	Compute(ctx context.Context, key ProjectKey, bc BuildContext) (Checksum, error)
}

// ChecksumFunc adapts a function to ChecksumProvider.
type ChecksumFunc func(ctx context.Context, key ProjectKey, bc BuildContext) (Checksum, error)

// Compute calls f.
func (f ChecksumFunc) Compute(ctx context.Context, key ProjectKey, bc BuildContext) (Checksum, error) {
	return f(ctx, key, bc)
}

// Digest returns the content digest blobs are stored under.
func Digest(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// InputChecksummer is the default ChecksumProvider.
//
// The checksum covers, in this order:
//  1. Project key
//  2. Units (id, phase, cacheability) in binding order
//  3. Sorted config entries (key=value)
//  4. For each resolved input (sorted): path + content
//
// All components are length-prefixed to prevent ambiguity.
type InputChecksummer struct{}

// NewInputChecksummer creates an InputChecksummer.
func NewInputChecksummer() *InputChecksummer {
	return &InputChecksummer{}
}

// Compute implements ChecksumProvider.
func (h *InputChecksummer) Compute(ctx context.Context, key ProjectKey, bc BuildContext) (Checksum, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	info, err := os.Stat(bc.Workspace)
	if err != nil {
		return "", fmt.Errorf("workspace: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("workspace %q is not a directory", bc.Workspace)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	inputs, err := NewInputResolver(bc.Workspace).Resolve(bc.Inputs, bc.Excludes)
	if err != nil {
		return "", fmt.Errorf("resolving inputs: %w", err)
	}

	d := xxhash.New()
	var lenBuf [8]byte
	writeField := func(data []byte) {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(data)))
		_, _ = d.Write(lenBuf[:])
		_, _ = d.Write(data)
	}
	writeCount := func(n int) { writeField([]byte(strconv.Itoa(n))) }

	writeField([]byte(key.String()))

	writeCount(len(bc.Units))
	for _, u := range bc.Units {
		writeField([]byte(u.ID()))
		writeField([]byte(u.Phase))
		writeField([]byte(strconv.FormatBool(u.Cacheable)))
	}

	keys := make([]string, 0, len(bc.Config))
	for k := range bc.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writeCount(len(keys))
	for _, k := range keys {
		writeField([]byte(k))
		writeField([]byte(bc.Config[k]))
	}

	writeCount(len(inputs))
	for _, in := range inputs {
		writeField([]byte(in.Path))
		writeField(in.Content)
	}

	return Checksum(fmt.Sprintf("%016x", d.Sum64())), nil
}
