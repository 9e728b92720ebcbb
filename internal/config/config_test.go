package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(envBackend, "")
	t.Setenv(envCacheDir, "")
	t.Setenv(envLogLevel, "")
	t.Setenv(envListenAddr, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buildcache.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache:
  backend: sqlite
  dir: /var/cache/build
log:
  level: debug
build:
  parallelism: 4
`), 0o644))

	t.Setenv(envBackend, "")
	t.Setenv(envCacheDir, "")
	t.Setenv(envLogLevel, "warn")
	t.Setenv(envListenAddr, "127.0.0.1:9000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Cache.Backend)
	assert.Equal(t, "/var/cache/build", cfg.Cache.Dir)
	assert.Equal(t, "/var/cache/build/cache.db", cfg.Cache.DatabasePath())
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "logfmt", cfg.Log.Format)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.ListenAddr)
	assert.Equal(t, 4, cfg.Build.Parallelism)
	assert.Equal(t, "package", cfg.Build.Phase)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	cfg := Default()
	err := Parse([]byte("cache:\n  backend: file\n  bogus: 1\n"), &cfg)
	require.Error(t, err)
}

func TestParse_EmptyDocument(t *testing.T) {
	cfg := Default()
	require.NoError(t, Parse(nil, &cfg))
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"unknown backend": func(c *Config) { c.Cache.Backend = "s3" },
		"no dir":          func(c *Config) { c.Cache.Dir = "" },
		"bad level":       func(c *Config) { c.Log.Level = "loud" },
		"bad format":      func(c *Config) { c.Log.Format = "xml" },
		"parallelism":     func(c *Config) { c.Build.Parallelism = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.Cache = CacheConfig{Backend: BackendMemory}
	assert.NoError(t, cfg.Validate())
}

func TestNewLogger_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, LogConfig{Level: "warn", Format: "logfmt"})
	require.NoError(t, err)

	require.NoError(t, level.Info(logger).Log("msg", "hidden"))
	require.NoError(t, level.Warn(logger).Log("msg", "shown"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "level=warn")
	assert.Contains(t, out, "ts=")
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	require.NoError(t, level.Debug(logger).Log("msg", "hello"))
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	_, err = NewLogger(&buf, LogConfig{Level: "nope"})
	assert.Error(t, err)
}
