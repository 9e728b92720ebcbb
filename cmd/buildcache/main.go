// Command buildcache builds project modules through a phase-aware local
// build cache and serves a read-only view of it.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log"

	"buildcache/internal/config"
)

const (
	exitSuccess           = 0
	exitBuildFailure      = 1
	exitInvalidInvocation = 2
	exitConfigError       = 3
	exitInternalError     = 4
)

// exitError carries the process exit code of a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// globals are the flags shared by every command.
type globals struct {
	configPath string
	backend    string
	cacheDir   string
	logLevel   string
	logFormat  string

	ctx context.Context
}

func (g *globals) register(app *kingpin.Application) {
	app.Flag("config", "Path to the buildcache configuration file.").Short('c').StringVar(&g.configPath)
	app.Flag("cache.backend", "Cache backend: file, sqlite, bolt or memory.").StringVar(&g.backend)
	app.Flag("cache.dir", "Cache directory.").StringVar(&g.cacheDir)
	app.Flag("log.level", "Log level: debug, info, warn or error.").StringVar(&g.logLevel)
	app.Flag("log.format", "Log format: logfmt or json.").StringVar(&g.logFormat)
}

// load resolves the configuration (file, then environment, then flags) and
// builds the logger.
func (g *globals) load() (config.Config, log.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return config.Config{}, nil, withCode(exitConfigError, err)
	}
	if g.backend != "" {
		cfg.Cache.Backend = g.backend
	}
	if g.cacheDir != "" {
		cfg.Cache.Dir = g.cacheDir
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, withCode(exitConfigError, fmt.Errorf("invalid configuration: %w", err))
	}
	logger, err := config.NewLogger(os.Stderr, cfg.Log)
	if err != nil {
		return config.Config{}, nil, withCode(exitConfigError, err)
	}
	return cfg, logger, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := kingpin.New("buildcache", "Phase-aware build output cache.")
	app.HelpFlag.Short('h')
	g := &globals{ctx: ctx}
	g.register(app)
	addBuildCommand(app, g)
	addInspectCommand(app, g)
	addServeCommand(app, g)

	_, err := app.Parse(os.Args[1:])
	stop()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	fmt.Fprintf(os.Stderr, "buildcache: %v\n", err)
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// Commands wrap their own failures; anything else is a usage error.
	return exitInvalidInvocation
}
