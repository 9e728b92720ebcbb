package core

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Input is a resolved file whose content contributes to the checksum.
type Input struct {
	// Path is workspace-relative and slash-separated.
	Path    string
	Content []byte
}

// InputResolver expands declared input patterns to a deterministic file list.
//
// Patterns use doublestar syntax ("src/**/*.java") and are relative to
// BaseDir. Only regular files are returned; ordering never depends on the
// filesystem.
type InputResolver struct {
	BaseDir string
}

// NewInputResolver creates an InputResolver rooted at baseDir.
func NewInputResolver(baseDir string) *InputResolver {
	return &InputResolver{BaseDir: baseDir}
}

// Resolve expands patterns, removes everything matched by excludes, and reads
// the remaining files.
//
// The result is sorted by path and free of duplicates.
func (r *InputResolver) Resolve(patterns, excludes []string) ([]Input, error) {
	paths, err := r.Expand(patterns, excludes)
	if err != nil {
		return nil, err
	}
	fsys := os.DirFS(r.BaseDir)
	inputs := make([]Input, 0, len(paths))
	for _, p := range paths {
		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("reading input %q: %w", p, err)
		}
		inputs = append(inputs, Input{Path: p, Content: content})
	}
	return inputs, nil
}

// Expand returns the sorted, de-duplicated set of files matched by patterns
// and not matched by excludes.
func (r *InputResolver) Expand(patterns, excludes []string) ([]string, error) {
	for _, p := range append(append([]string(nil), patterns...), excludes...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid pattern %q", p)
		}
		if path.IsAbs(p) {
			return nil, fmt.Errorf("pattern %q must be relative to the workspace", p)
		}
	}

	fsys := os.DirFS(r.BaseDir)
	set := make(map[string]struct{})
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expanding pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			set[m] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for p := range set {
		excluded, err := matchAny(excludes, p)
		if err != nil {
			return nil, err
		}
		if !excluded {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func matchAny(patterns []string, name string) (bool, error) {
	for _, p := range patterns {
		ok, err := doublestar.Match(p, name)
		if err != nil {
			return false, fmt.Errorf("matching pattern %q: %w", p, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
