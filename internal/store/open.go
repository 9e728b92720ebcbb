package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-kit/log"

	"buildcache/internal/config"
	"buildcache/internal/lifecycle"
)

// Open creates the Store selected by cfg.
func Open(cfg config.CacheConfig, lc *lifecycle.Lifecycle, logger log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	var (
		b   Backend
		err error
	)
	switch cfg.Backend {
	case config.BackendFile, "":
		b, err = NewFileStore(cfg.Dir)
	case config.BackendSQLite, config.BackendBolt:
		path := cfg.DatabasePath()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
		if cfg.Backend == config.BackendSQLite {
			b, err = NewSQLiteStore(path)
		} else {
			b, err = NewBoltStore(path)
		}
	case config.BackendMemory:
		b = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return New(lc, b, log.With(logger, "backend", cfg.Backend)), nil
}
