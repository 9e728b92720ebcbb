package core

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/google/renameio/v2"
)

// Restorer writes cached files into a workspace.
//
// Files are written atomically (temp file + rename). A file already present
// with the expected digest is left untouched. Rollback removes every file
// this Restorer wrote, so a failed restore never leaves a partially
// materialized workspace behind.
type Restorer struct {
	// WorkingDir is the workspace root.
	WorkingDir string

	written []string
}

// NewRestorer creates a Restorer for the workspace at workingDir.
func NewRestorer(workingDir string) *Restorer {
	return &Restorer{WorkingDir: workingDir}
}

// Restore writes content to the workspace-relative path after checking it
// against digest.
//
// Returns whether the file had to be written.
func (r *Restorer) Restore(f StoredFile, content []byte) (bool, error) {
	if r == nil {
		return false, fmt.Errorf("restorer is nil")
	}
	if !fs.ValidPath(f.Path) || f.Path == "." {
		return false, fmt.Errorf("restoring %q: %w: path escapes the workspace", f.Path, ErrInvalidRecord)
	}
	if got := Digest(content); got != f.Digest {
		return false, fmt.Errorf("restoring %q: %w: stored blob is %s, record wants %s", f.Path, ErrDigestMismatch, got, f.Digest)
	}

	target := filepath.Join(r.WorkingDir, filepath.FromSlash(f.Path))
	have, ok, err := fileDigestIfExists(target)
	if err != nil {
		return false, fmt.Errorf("restoring %q: hashing existing file: %w", f.Path, err)
	}
	if ok && have == f.Digest {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return false, fmt.Errorf("restoring %q: creating parent directory: %w", f.Path, err)
	}
	if err := renameio.WriteFile(target, content, 0o644); err != nil {
		return false, fmt.Errorf("restoring %q: %w", f.Path, err)
	}
	r.written = append(r.written, target)
	return true, nil
}

// Rollback removes every file written by this Restorer.
func (r *Restorer) Rollback() error {
	var firstErr error
	for i := len(r.written) - 1; i >= 0; i-- {
		if err := os.Remove(r.written[i]); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	r.written = nil
	return firstErr
}

// Written returns the absolute paths written so far.
func (r *Restorer) Written() []string {
	return append([]string(nil), r.written...)
}

func fileDigestIfExists(path string) (digest string, exists bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	defer f.Close()

	d := xxhash.New()
	if _, err := io.Copy(d, f); err != nil {
		return "", true, err
	}
	return fmt.Sprintf("%016x", d.Sum64()), true, nil
}
