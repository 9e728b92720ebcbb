package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"buildcache/internal/core"
	"buildcache/internal/lifecycle"
	"buildcache/internal/project"
	"buildcache/internal/reactor"
)

// Builder builds modules through the cache engine.
type Builder struct {
	Engine *core.Engine
	Logger log.Logger

	// Stdout and Stderr receive the output of unit commands.
	Stdout io.Writer
	Stderr io.Writer
}

// NewBuilder returns a Builder for engine.
func NewBuilder(engine *core.Engine, logger log.Logger) *Builder {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Builder{Engine: engine, Logger: logger}
}

// BuildModule builds m up to phase.
func (b *Builder) BuildModule(ctx context.Context, m *project.Module, phase lifecycle.Phase) (*core.BuildResult, error) {
	return b.build(ctx, m, m.Request(phase))
}

func (b *Builder) build(ctx context.Context, m *project.Module, req core.BuildRequest) (*core.BuildResult, error) {
	exec := NewShellExecutor(m, b.Logger)
	exec.Stdout = b.Stdout
	exec.Stderr = b.Stderr

	res, err := b.Engine.RequestBuild(ctx, req, exec)
	if err != nil {
		return res, err
	}
	level.Info(b.Logger).Log("msg", "module done", "project", m.Key.String(), "build_id", res.BuildID, "summary", res.Summary())
	return res, nil
}

// Report is the outcome of a multi-module build.
type Report struct {
	// Results holds the engine result of every module that got one, keyed
	// by group:artifact:version.
	Results map[string]*core.BuildResult
	Reactor *reactor.Result
}

// Err returns the module failures, if any.
func (r *Report) Err() error {
	if r == nil || r.Reactor == nil {
		return nil
	}
	return r.Reactor.Err()
}

// BuildAll builds mods up to phase in dependency order with at most
// parallelism modules in flight. A failed module skips its dependents.
//
// The checksum of every built module feeds the checksum of the modules
// depending on it, so a change upstream misses downstream too.
func (b *Builder) BuildAll(ctx context.Context, mods []*project.Module, phase lifecycle.Phase, parallelism int) (*Report, error) {
	if len(mods) == 0 {
		return nil, errors.New("no modules to build")
	}
	byName := make(map[string]*project.Module, len(mods))
	nodes := make([]reactor.Node, 0, len(mods))
	for _, m := range mods {
		name := m.Key.String()
		byName[name] = m
		deps := make([]string, 0, len(m.DependsOn))
		for _, d := range m.DependsOn {
			deps = append(deps, d.String())
		}
		nodes = append(nodes, reactor.Node{Name: name, DependsOn: deps})
	}
	g, err := reactor.NewGraph(nodes)
	if err != nil {
		return nil, fmt.Errorf("module graph: %w", err)
	}

	report := &Report{Results: make(map[string]*core.BuildResult, len(mods))}
	var mu sync.Mutex
	build := func(ctx context.Context, name string) error {
		m := byName[name]
		req := m.Request(phase)
		mu.Lock()
		for _, d := range m.DependsOn {
			res, ok := report.Results[d.String()]
			if !ok || res.Checksum == "" {
				mu.Unlock()
				return fmt.Errorf("module %s: dependency %s has no checksum", name, d)
			}
			req.Context.Config["dep."+d.String()] = res.Checksum.String()
		}
		mu.Unlock()

		res, err := b.build(ctx, m, req)
		if res != nil {
			mu.Lock()
			report.Results[name] = res
			mu.Unlock()
		}
		return err
	}

	r, err := reactor.New(g, build, parallelism, b.Logger)
	if err != nil {
		return nil, err
	}
	report.Reactor, err = r.Run(ctx)
	return report, err
}
