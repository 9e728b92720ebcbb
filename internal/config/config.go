// Package config loads buildcache settings from YAML, the environment and
// command line flags, in that order of precedence (flags win).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultBackend    = BackendFile
	defaultCacheDir   = ".buildcache"
	defaultLogLevel   = "info"
	defaultLogFormat  = "logfmt"
	defaultListenAddr = ":8080"
	defaultPhase      = "package"

	envBackend    = "BUILDCACHE_BACKEND"
	envCacheDir   = "BUILDCACHE_DIR"
	envLogLevel   = "BUILDCACHE_LOG_LEVEL"
	envListenAddr = "BUILDCACHE_LISTEN_ADDR"
)

// Cache backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// Config is the complete buildcache configuration.
type Config struct {
	Cache  CacheConfig  `yaml:"cache"`
	Log    LogConfig    `yaml:"log"`
	Server ServerConfig `yaml:"server"`
	Build  BuildConfig  `yaml:"build"`
}

// CacheConfig selects and locates the cache store.
type CacheConfig struct {
	Backend string `yaml:"backend"`

	// Dir is the file store root and the default home of database files.
	Dir string `yaml:"dir"`

	// Path is the database file of the sqlite and bolt backends. Defaults
	// to a file inside Dir.
	Path string `yaml:"path"`
}

// DatabasePath returns the database file for the sqlite and bolt backends.
func (c CacheConfig) DatabasePath() string {
	if c.Path != "" {
		return c.Path
	}
	switch c.Backend {
	case BackendSQLite:
		return filepath.Join(c.Dir, "cache.db")
	case BackendBolt:
		return filepath.Join(c.Dir, "cache.bolt")
	default:
		return ""
	}
}

// LogConfig configures the go-kit logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig configures the inspection API.
type ServerConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// BuildConfig holds defaults for the build command.
type BuildConfig struct {
	Phase       string `yaml:"phase"`
	Parallelism int    `yaml:"parallelism"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Cache:  CacheConfig{Backend: defaultBackend, Dir: defaultCacheDir},
		Log:    LogConfig{Level: defaultLogLevel, Format: defaultLogFormat},
		Server: ServerConfig{ListenAddr: defaultListenAddr},
		Build:  BuildConfig{Phase: defaultPhase, Parallelism: 1},
	}
}

// Load reads the YAML file at path on top of the defaults, then applies the
// environment. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// Parse decodes YAML into cfg, rejecting unknown fields. Fields absent from
// data keep their current value.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(envBackend); v != "" {
		c.Cache.Backend = v
	}
	if v := getenv(envCacheDir); v != "" {
		c.Cache.Dir = v
	}
	if v := getenv(envLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := getenv(envListenAddr); v != "" {
		c.Server.ListenAddr = v
	}
}

// Validate rejects unknown backends, levels and formats.
func (c Config) Validate() error {
	switch c.Cache.Backend {
	case BackendFile, BackendSQLite, BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend != BackendMemory && c.Cache.Dir == "" && c.Cache.Path == "" {
		return errors.New("cache.dir is required")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "logfmt", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.Build.Parallelism < 1 {
		return fmt.Errorf("build.parallelism must be at least 1, got %d", c.Build.Parallelism)
	}
	return nil
}
