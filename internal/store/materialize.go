package store

import (
	"context"
	"fmt"

	"buildcache/internal/core"
)

type blobFunc func(ctx context.Context, digest string) ([]byte, error)

// materialize writes every file of rec into workspace. Files written before a
// failure are removed again.
func materialize(ctx context.Context, rec *core.CacheRecord, workspace string, blob blobFunc) (_ *core.Materialized, err error) {
	r := core.NewRestorer(workspace)
	defer func() {
		if err == nil {
			return
		}
		if rbErr := r.Rollback(); rbErr != nil {
			err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
	}()

	files := rec.Files()
	out := &core.Materialized{Files: make([]string, 0, len(files))}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := blob(ctx, f.Digest)
		if err != nil {
			return nil, fmt.Errorf("restoring %q: %w", f.Path, err)
		}
		wrote, err := r.Restore(f, data)
		if err != nil {
			return nil, err
		}
		if wrote {
			out.Written++
		}
		out.Files = append(out.Files, f.Path)
	}
	return out, nil
}
