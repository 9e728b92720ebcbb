package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log/level"
	"github.com/google/renameio/v2"

	"buildcache/internal/core"
	"buildcache/internal/host"
	"buildcache/internal/lifecycle"
	"buildcache/internal/project"
	"buildcache/internal/reactor"
	"buildcache/internal/store"
	"buildcache/internal/trace"
)

type buildCommand struct {
	g           *globals
	phase       string
	parallelism int
	traceOut    string
	dirs        []string
}

func addBuildCommand(app *kingpin.Application, g *globals) {
	cmd := &buildCommand{g: g}
	c := app.Command("build", "Build modules up to a lifecycle phase, restoring from the cache where possible.")
	c.Flag("phase", "Lifecycle phase to build up to.").Short('p').StringVar(&cmd.phase)
	c.Flag("parallel", "Maximum number of modules built at once.").Short('j').IntVar(&cmd.parallelism)
	c.Flag("trace-out", "Write the build trace as JSON to this file.").StringVar(&cmd.traceOut)
	c.Arg("dirs", "Module directories containing "+project.FileName+".").Default(".").ExistingDirsVar(&cmd.dirs)
	c.Action(func(_ *kingpin.ParseContext) error { return cmd.run() })
}

func (cmd *buildCommand) run() error {
	cfg, logger, err := cmd.g.load()
	if err != nil {
		return err
	}
	if cmd.phase != "" {
		cfg.Build.Phase = cmd.phase
	}
	if cmd.parallelism != 0 {
		cfg.Build.Parallelism = cmd.parallelism
	}

	lc := lifecycle.Default()
	phase := lifecycle.Phase(cfg.Build.Phase)
	if phase == lifecycle.None {
		return withCode(exitInvalidInvocation, errors.New("a phase is required"))
	}
	if err := lc.Validate(phase); err != nil {
		return withCode(exitInvalidInvocation, err)
	}
	if cfg.Build.Parallelism < 1 {
		return withCode(exitInvalidInvocation, fmt.Errorf("--parallel must be at least 1, got %d", cfg.Build.Parallelism))
	}

	mods, err := project.LoadAll(cmd.dirs, lc)
	if err != nil {
		return withCode(exitConfigError, err)
	}

	st, err := store.Open(cfg.Cache, lc, logger)
	if err != nil {
		return withCode(exitInternalError, err)
	}
	defer st.Close()

	rec := trace.NewRecorder()
	engine := core.NewEngine(lc, st)
	engine.Logger = logger
	engine.Trace = rec

	b := host.NewBuilder(engine, logger)
	b.Stdout = os.Stdout
	b.Stderr = os.Stderr

	report, runErr := b.BuildAll(cmd.g.ctx, mods, phase, cfg.Build.Parallelism)
	for _, m := range mods {
		ga := m.Key.GA()
		if decision, ok := rec.Decision(ga); ok {
			level.Debug(logger).Log("msg", "cache decision", "project", ga, "decision", decision, "events", len(rec.Project(ga).Events))
		}
	}
	if report != nil && report.Reactor != nil {
		for _, name := range report.Reactor.Order {
			if res, ok := report.Results[name]; ok {
				fmt.Printf("%s: %s (%s)\n", name, res.Summary(), res.Duration.Round(time.Millisecond))
			}
		}
		var skipped []string
		for name, state := range report.Reactor.FinalState {
			if state == reactor.ModuleSkipped {
				skipped = append(skipped, name)
			}
		}
		sort.Strings(skipped)
		for _, name := range skipped {
			fmt.Printf("%s: skipped, a dependency failed\n", name)
		}
	}

	if cmd.traceOut != "" {
		data, err := rec.Trace().JSON()
		if err != nil {
			return withCode(exitInternalError, err)
		}
		if err := renameio.WriteFile(cmd.traceOut, data, 0o644); err != nil {
			return withCode(exitInternalError, fmt.Errorf("writing trace: %w", err))
		}
	}

	if runErr != nil {
		return withCode(exitBuildFailure, runErr)
	}
	return withCode(exitBuildFailure, report.Err())
}
