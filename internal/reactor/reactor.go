package reactor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"
)

// BuildFunc builds one module.
type BuildFunc func(ctx context.Context, module string) error

// Reactor builds the modules of a graph, dependencies first, with at most
// Parallelism builds in flight.
type Reactor struct {
	Graph       *Graph
	Build       BuildFunc
	Parallelism int
	Logger      log.Logger

	mu    sync.Mutex
	state State
}

// New creates a Reactor with every module pending.
func New(g *Graph, build BuildFunc, parallelism int, logger log.Logger) (*Reactor, error) {
	if g == nil {
		return nil, errors.New("nil graph")
	}
	if build == nil {
		return nil, errors.New("nil build function")
	}
	if parallelism <= 0 {
		return nil, fmt.Errorf("parallelism must be > 0, got %d", parallelism)
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Reactor{
		Graph:       g,
		Build:       build,
		Parallelism: parallelism,
		Logger:      log.With(logger, "component", "reactor"),
		state:       NewState(g),
	}, nil
}

// Result is the outcome of a reactor run.
type Result struct {
	// FinalState is the terminal state of each module.
	FinalState State

	// Order lists modules in the order they were started.
	Order []string

	// Errors holds the build error of each failed module.
	Errors map[string]error
}

// Err joins the module errors in name order, or returns nil.
func (r *Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.Errors))
	for n := range r.Errors {
		names = append(names, n)
	}
	sort.Strings(names)
	errs := make([]error, 0, len(names))
	for _, n := range names {
		errs = append(errs, fmt.Errorf("%s: %w", n, r.Errors[n]))
	}
	return errors.Join(errs...)
}

// StateSnapshot returns a copy of the current state.
func (r *Reactor) StateSnapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make(State, len(r.state))
	for k, v := range r.state {
		cp[k] = v
	}
	return cp
}

type buildDone struct {
	module string
	err    error
}

// Run builds every module. A module failure skips its dependents but lets
// independent modules finish. When ctx is done no new build starts, running
// builds are awaited and the context error is returned.
func (r *Reactor) Run(ctx context.Context) (*Result, error) {
	var eg errgroup.Group
	eg.SetLimit(r.Parallelism)

	done := make(chan buildDone, len(r.Graph.names))
	res := &Result{Errors: make(map[string]error)}
	inFlight := 0

	for {
		r.mu.Lock()
		if ctx.Err() == nil {
			for _, m := range Ready(r.Graph, r.state) {
				if inFlight >= r.Parallelism {
					break
				}
				if err := Transition(r.state, m, ModulePending, ModuleRunning); err != nil {
					r.mu.Unlock()
					_ = eg.Wait()
					return nil, err
				}
				res.Order = append(res.Order, m)
				inFlight++
				level.Info(r.Logger).Log("msg", "building module", "module", m)

				module := m
				eg.Go(func() error {
					done <- buildDone{module: module, err: r.Build(ctx, module)}
					return nil
				})
			}
		}
		r.mu.Unlock()

		if inFlight == 0 {
			break
		}

		d := <-done
		inFlight--
		r.mu.Lock()
		if d.err == nil {
			err := Transition(r.state, d.module, ModuleRunning, ModuleBuilt)
			r.mu.Unlock()
			if err != nil {
				_ = eg.Wait()
				return nil, err
			}
			level.Info(r.Logger).Log("msg", "module built", "module", d.module)
			continue
		}
		res.Errors[d.module] = d.err
		err := FailAndPropagate(r.Graph, r.state, d.module)
		r.mu.Unlock()
		if err != nil {
			_ = eg.Wait()
			return nil, err
		}
		level.Error(r.Logger).Log("msg", "module failed, skipping dependents", "module", d.module, "err", d.err)
	}
	_ = eg.Wait()

	r.mu.Lock()
	for n, st := range r.state {
		if st == ModulePending {
			r.state[n] = ModuleSkipped
		}
	}
	r.mu.Unlock()
	res.FinalState = r.StateSnapshot()

	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("reactor build cancelled: %w", err)
	}
	return res, nil
}
