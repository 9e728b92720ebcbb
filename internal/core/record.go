package core

import (
	"errors"
	"fmt"
	"sort"

	"buildcache/internal/lifecycle"
)

var (
	// ErrInvalidRecord is returned for records that violate the record invariants.
	ErrInvalidRecord = errors.New("invalid cache record")

	// ErrBlobNotFound is returned when a blob referenced by a record is not stored.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrDigestMismatch is returned when stored content does not hash to the
	// digest the record holds for it.
	ErrDigestMismatch = errors.New("digest mismatch")
)

// CacheRecord is the persisted, phase-aware result of a build for one
// (project, checksum).
//
// Invariants:
//   - HighestPhase never decreases across saves.
//   - Every artifact and extra output is produced at or before HighestPhase.
//   - Only cacheable extra outputs are stored.
type CacheRecord struct {
	// BuildID identifies the build that last extended the record.
	BuildID string `json:"buildId,omitempty"`

	Project      ProjectKey      `json:"project"`
	Checksum     Checksum        `json:"checksum"`
	HighestPhase lifecycle.Phase `json:"highestPhase"`

	// SkippedUnits are the units satisfied as of HighestPhase, sorted.
	SkippedUnits []lifecycle.UnitID `json:"skippedUnits"`

	PrimaryArtifact     *ArtifactRef           `json:"primaryArtifact,omitempty"`
	ClassifiedArtifacts map[string]ArtifactRef `json:"classifiedArtifacts,omitempty"`

	// ExtraOutputs is sorted by (Path, Declaration).
	ExtraOutputs []ExtraOutput `json:"extraOutputs,omitempty"`

	// StorageLocation is assigned by the store on Find and Save.
	StorageLocation string `json:"-"`
}

// Validate checks the record invariants against lc.
func (r *CacheRecord) Validate(lc *lifecycle.Lifecycle) error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if err := r.Project.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if err := r.Checksum.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if r.HighestPhase == lifecycle.None || !lc.Has(r.HighestPhase) {
		return fmt.Errorf("%w: highest phase %q is not a lifecycle phase", ErrInvalidRecord, string(r.HighestPhase))
	}
	check := func(what, path string, phase lifecycle.Phase, digest string) error {
		if path == "" || digest == "" {
			return fmt.Errorf("%w: %s has no path or digest", ErrInvalidRecord, what)
		}
		if phase == lifecycle.None {
			return nil
		}
		if !lc.Has(phase) {
			return fmt.Errorf("%w: %s %q: unknown phase %q", ErrInvalidRecord, what, path, string(phase))
		}
		if lc.Precedes(r.HighestPhase, phase) {
			return fmt.Errorf("%w: %s %q produced at %s, after highest phase %s", ErrInvalidRecord, what, path, phase, r.HighestPhase)
		}
		return nil
	}
	if a := r.PrimaryArtifact; a != nil {
		if err := check("primary artifact", a.Path, a.Phase, a.Digest); err != nil {
			return err
		}
	}
	for classifier, a := range r.ClassifiedArtifacts {
		if classifier == "" || a.Classifier != classifier {
			return fmt.Errorf("%w: classified artifact %q has mismatched classifier %q", ErrInvalidRecord, classifier, a.Classifier)
		}
		if err := check("artifact "+classifier, a.Path, a.Phase, a.Digest); err != nil {
			return err
		}
	}
	for _, o := range r.ExtraOutputs {
		if !o.Cacheable {
			return fmt.Errorf("%w: non-cacheable extra output %q stored", ErrInvalidRecord, o.Path)
		}
		if err := check("extra output", o.Path, o.Phase, o.Digest); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy.
func (r *CacheRecord) Clone() *CacheRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.SkippedUnits != nil {
		out.SkippedUnits = make([]lifecycle.UnitID, len(r.SkippedUnits))
		copy(out.SkippedUnits, r.SkippedUnits)
	}
	if r.PrimaryArtifact != nil {
		p := *r.PrimaryArtifact
		out.PrimaryArtifact = &p
	}
	if r.ClassifiedArtifacts != nil {
		out.ClassifiedArtifacts = make(map[string]ArtifactRef, len(r.ClassifiedArtifacts))
		for k, v := range r.ClassifiedArtifacts {
			out.ClassifiedArtifacts[k] = v
		}
	}
	if r.ExtraOutputs != nil {
		out.ExtraOutputs = make([]ExtraOutput, len(r.ExtraOutputs))
		copy(out.ExtraOutputs, r.ExtraOutputs)
	}
	return &out
}

// Files returns the entries materialized on restore, sorted by path.
// Non-cacheable extra outputs are never part of it. When two entries share a
// path the first one wins, in the order primary, classified artifacts by
// classifier, extra outputs.
func (r *CacheRecord) Files() []StoredFile {
	if r == nil {
		return nil
	}
	byPath := make(map[string]StoredFile)
	add := func(path, digest string, size int64) {
		if _, ok := byPath[path]; ok {
			return
		}
		byPath[path] = StoredFile{Path: path, Digest: digest, Size: size}
	}
	if a := r.PrimaryArtifact; a != nil {
		add(a.Path, a.Digest, a.Size)
	}
	classifiers := make([]string, 0, len(r.ClassifiedArtifacts))
	for c := range r.ClassifiedArtifacts {
		classifiers = append(classifiers, c)
	}
	sort.Strings(classifiers)
	for _, c := range classifiers {
		a := r.ClassifiedArtifacts[c]
		add(a.Path, a.Digest, a.Size)
	}
	for _, o := range r.ExtraOutputs {
		if o.Cacheable {
			add(o.Path, o.Digest, o.Size)
		}
	}
	out := make([]StoredFile, 0, len(byPath))
	for _, f := range byPath {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Digests returns the distinct digests referenced by the record, sorted.
func (r *CacheRecord) Digests() []string {
	seen := make(map[string]struct{})
	for _, f := range r.Files() {
		seen[f.Digest] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// HasClassifier reports whether the record holds an artifact for classifier.
func (r *CacheRecord) HasClassifier(classifier string) bool {
	if r == nil {
		return false
	}
	_, ok := r.ClassifiedArtifacts[classifier]
	return ok
}

// normalize sorts slices and drops non-cacheable extra outputs.
func (r *CacheRecord) normalize() {
	units := make(map[lifecycle.UnitID]struct{}, len(r.SkippedUnits))
	for _, id := range r.SkippedUnits {
		units[id] = struct{}{}
	}
	r.SkippedUnits = make([]lifecycle.UnitID, 0, len(units))
	for id := range units {
		r.SkippedUnits = append(r.SkippedUnits, id)
	}
	sort.Slice(r.SkippedUnits, func(i, j int) bool { return r.SkippedUnits[i] < r.SkippedUnits[j] })

	extras := r.ExtraOutputs[:0]
	for _, o := range r.ExtraOutputs {
		if o.Cacheable {
			extras = append(extras, o)
		}
	}
	r.ExtraOutputs = extras
	sort.Slice(r.ExtraOutputs, func(i, j int) bool {
		a, b := r.ExtraOutputs[i], r.ExtraOutputs[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Declaration < b.Declaration
	})
	if len(r.ExtraOutputs) == 0 {
		r.ExtraOutputs = nil
	}
	if len(r.ClassifiedArtifacts) == 0 {
		r.ClassifiedArtifacts = nil
	}
}

// SaveMode selects how Store.Save treats an existing record.
type SaveMode int

const (
	// SaveMerge extends the existing record and never shrinks it.
	SaveMerge SaveMode = iota

	// SaveReplace overwrites the existing record. Used only when the stored
	// record was proven unusable by a failed materialization.
	SaveReplace
)

func (m SaveMode) String() string {
	switch m {
	case SaveMerge:
		return "merge"
	case SaveReplace:
		return "replace"
	default:
		return fmt.Sprintf("SaveMode(%d)", int(m))
	}
}

// MergeRecords merges incoming into existing.
//
// The highest phase becomes the later of the two. Skipped units, classified
// artifacts and extra outputs are unioned. On an identity clash the existing
// entry is kept unless incoming is at a strictly higher phase. Neither input
// is modified. existing may be nil.
func MergeRecords(lc *lifecycle.Lifecycle, existing, incoming *CacheRecord) *CacheRecord {
	if existing == nil {
		out := incoming.Clone()
		out.normalize()
		return out
	}
	base, over := existing.Clone(), incoming
	incomingWins := lc.Precedes(existing.HighestPhase, incoming.HighestPhase)

	base.HighestPhase = lc.Max(existing.HighestPhase, incoming.HighestPhase)
	if incomingWins && incoming.BuildID != "" {
		base.BuildID = incoming.BuildID
	}
	base.SkippedUnits = append(base.SkippedUnits, over.SkippedUnits...)

	if over.PrimaryArtifact != nil && (base.PrimaryArtifact == nil || incomingWins) {
		p := *over.PrimaryArtifact
		base.PrimaryArtifact = &p
	}

	if len(over.ClassifiedArtifacts) > 0 && base.ClassifiedArtifacts == nil {
		base.ClassifiedArtifacts = make(map[string]ArtifactRef, len(over.ClassifiedArtifacts))
	}
	for classifier, a := range over.ClassifiedArtifacts {
		if _, exists := base.ClassifiedArtifacts[classifier]; !exists || incomingWins {
			base.ClassifiedArtifacts[classifier] = a
		}
	}

	index := make(map[string]int, len(base.ExtraOutputs))
	for i, o := range base.ExtraOutputs {
		index[o.identity()] = i
	}
	for _, o := range over.ExtraOutputs {
		i, exists := index[o.identity()]
		switch {
		case !exists:
			index[o.identity()] = len(base.ExtraOutputs)
			base.ExtraOutputs = append(base.ExtraOutputs, o)
		case incomingWins:
			base.ExtraOutputs[i] = o
		}
	}

	base.normalize()
	return base
}
