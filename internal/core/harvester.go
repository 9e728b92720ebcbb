package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"

	"github.com/bmatcuk/doublestar/v4"

	"buildcache/internal/lifecycle"
)

// ArtifactDecl declares a build artifact and the phase that produces it.
type ArtifactDecl struct {
	// Classifier is empty for the primary artifact.
	Classifier string
	Path       string
	Phase      lifecycle.Phase
}

// ExtraOutputDecl declares extra files by doublestar pattern together with
// their cacheability. It is part of the static policy table; nothing decides
// cacheability at runtime.
type ExtraOutputDecl struct {
	Pattern   string
	Cacheable bool

	// Phase, when set, is the phase that produces the files. Unset means
	// the files are captured whenever they exist at save time.
	Phase lifecycle.Phase
}

// OutputDecls is the declared output table of a project.
type OutputDecls struct {
	Primary    *ArtifactDecl
	Classified []ArtifactDecl
	Extra      []ExtraOutputDecl
}

// Validate checks patterns, paths and phases against lc.
func (d OutputDecls) Validate(lc *lifecycle.Lifecycle) error {
	check := func(a ArtifactDecl) error {
		if a.Path == "" || path.IsAbs(a.Path) || !fs.ValidPath(a.Path) {
			return fmt.Errorf("artifact %q: path must be a clean relative path", a.Path)
		}
		if !lc.Has(a.Phase) {
			return fmt.Errorf("artifact %q: %w: %q", a.Path, lifecycle.ErrUnknownPhase, string(a.Phase))
		}
		return nil
	}
	paths := make(map[string]string)
	claim := func(a ArtifactDecl) error {
		name := a.Classifier
		if name == "" {
			name = "primary"
		}
		if prev, dup := paths[a.Path]; dup {
			return fmt.Errorf("artifact %q declared by both %s and %s", a.Path, prev, name)
		}
		paths[a.Path] = name
		return nil
	}
	if d.Primary != nil {
		if d.Primary.Classifier != "" {
			return fmt.Errorf("primary artifact must not have a classifier")
		}
		if err := check(*d.Primary); err != nil {
			return err
		}
		if err := claim(*d.Primary); err != nil {
			return err
		}
	}
	seen := make(map[string]struct{})
	for _, a := range d.Classified {
		if a.Classifier == "" {
			return fmt.Errorf("classified artifact %q: classifier is required", a.Path)
		}
		if _, dup := seen[a.Classifier]; dup {
			return fmt.Errorf("duplicate classifier %q", a.Classifier)
		}
		seen[a.Classifier] = struct{}{}
		if err := check(a); err != nil {
			return err
		}
		if err := claim(a); err != nil {
			return err
		}
	}
	for _, e := range d.Extra {
		if !doublestar.ValidatePattern(e.Pattern) || path.IsAbs(e.Pattern) {
			return fmt.Errorf("extra output: invalid pattern %q", e.Pattern)
		}
		if err := lc.Validate(e.Phase); err != nil {
			return fmt.Errorf("extra output %q: %w", e.Pattern, err)
		}
		for p, name := range paths {
			if doublestar.MatchUnvalidated(e.Pattern, p) {
				return fmt.Errorf("extra output %q matches the %s artifact %q", e.Pattern, name, p)
			}
		}
	}
	return nil
}

// Captured is the outcome of a harvest: record fragments plus the blobs they
// reference.
type Captured struct {
	Primary      *ArtifactRef
	Classified   map[string]ArtifactRef
	ExtraOutputs []ExtraOutput
	Blobs        Blobs

	// Missing lists declared artifacts that were due at the requested phase
	// but were not found in the workspace.
	Missing []string
}

// Harvester collects declared outputs from a workspace after a build.
//
// Only declared outputs are collected; there is no scan for modified files.
type Harvester struct {
	// BaseDir is the workspace root outputs are relative to.
	BaseDir string

	Lifecycle *lifecycle.Lifecycle
}

// NewHarvester creates a Harvester for the workspace at baseDir.
func NewHarvester(baseDir string, lc *lifecycle.Lifecycle) *Harvester {
	return &Harvester{BaseDir: baseDir, Lifecycle: lc}
}

// Harvest captures the outputs due at requested:
//   - the primary and classified artifacts whose phase is at or before
//     requested and that exist
//   - every file matched by a cacheable extra output declaration whose phase
//     is unset or at or before requested
//
// Non-cacheable declarations are never captured. Overlapping declarations
// each capture their own copy of a path.
func (h *Harvester) Harvest(decls OutputDecls, requested lifecycle.Phase) (*Captured, error) {
	c := &Captured{Blobs: Blobs{}}
	fsys := os.DirFS(h.BaseDir)

	due := func(p lifecycle.Phase) bool {
		return p == lifecycle.None || h.Lifecycle.AtOrBefore(p, requested)
	}

	readArtifact := func(a ArtifactDecl) (*ArtifactRef, error) {
		data, err := fs.ReadFile(fsys, a.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				c.Missing = append(c.Missing, a.Path)
				return nil, nil
			}
			return nil, fmt.Errorf("reading artifact %q: %w", a.Path, err)
		}
		digest := Digest(data)
		c.Blobs[digest] = data
		return &ArtifactRef{
			Classifier: a.Classifier,
			Path:       a.Path,
			Phase:      a.Phase,
			Digest:     digest,
			Size:       int64(len(data)),
		}, nil
	}

	if p := decls.Primary; p != nil && due(p.Phase) {
		ref, err := readArtifact(*p)
		if err != nil {
			return nil, err
		}
		c.Primary = ref
	}

	for _, a := range decls.Classified {
		if !due(a.Phase) {
			continue
		}
		ref, err := readArtifact(a)
		if err != nil {
			return nil, err
		}
		if ref == nil {
			continue
		}
		if c.Classified == nil {
			c.Classified = make(map[string]ArtifactRef)
		}
		c.Classified[a.Classifier] = *ref
	}

	for _, e := range decls.Extra {
		if !e.Cacheable || !due(e.Phase) {
			continue
		}
		matches, err := doublestar.Glob(fsys, e.Pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expanding extra output %q: %w", e.Pattern, err)
		}
		// doublestar.Glob returns matches in walk order, which is lexical.
		for _, m := range matches {
			data, err := fs.ReadFile(fsys, m)
			if err != nil {
				return nil, fmt.Errorf("reading extra output %q: %w", m, err)
			}
			digest := Digest(data)
			c.Blobs[digest] = data
			c.ExtraOutputs = append(c.ExtraOutputs, ExtraOutput{
				Declaration: e.Pattern,
				Path:        m,
				Phase:       e.Phase,
				Cacheable:   true,
				Digest:      digest,
				Size:        int64(len(data)),
			})
		}
	}

	return c, nil
}

// Record builds the cache record fragment for this capture.
func (c *Captured) Record(key ProjectKey, sum Checksum, phase lifecycle.Phase, units []lifecycle.UnitID) *CacheRecord {
	rec := &CacheRecord{
		Project:      key,
		Checksum:     sum,
		HighestPhase: phase,
		SkippedUnits: append([]lifecycle.UnitID(nil), units...),
		ExtraOutputs: append([]ExtraOutput(nil), c.ExtraOutputs...),
	}
	if c.Primary != nil {
		p := *c.Primary
		rec.PrimaryArtifact = &p
	}
	if len(c.Classified) > 0 {
		rec.ClassifiedArtifacts = make(map[string]ArtifactRef, len(c.Classified))
		for k, v := range c.Classified {
			rec.ClassifiedArtifacts[k] = v
		}
	}
	rec.normalize()
	return rec
}
