package reactor

import (
	"container/heap"
	"fmt"
	"sort"
)

// ModuleState is the runtime state of one module in a reactor run.
type ModuleState string

const (
	ModulePending ModuleState = "PENDING"
	ModuleRunning ModuleState = "RUNNING"
	ModuleBuilt   ModuleState = "BUILT"
	ModuleFailed  ModuleState = "FAILED"
	ModuleSkipped ModuleState = "SKIPPED"
)

// State maps module name to its current state.
type State map[string]ModuleState

// NewState returns a state with every module of g pending.
func NewState(g *Graph) State {
	s := make(State, len(g.names))
	for _, n := range g.names {
		s[n] = ModulePending
	}
	return s
}

// IsTerminal reports whether the module is finished.
func IsTerminal(s ModuleState) bool {
	switch s {
	case ModuleBuilt, ModuleFailed, ModuleSkipped:
		return true
	default:
		return false
	}
}

// Transition performs a validated transition for one module. The caller
// passes the expected prior state so races surface as errors.
func Transition(state State, name string, from, to ModuleState) error {
	cur, ok := state[name]
	if !ok {
		return fmt.Errorf("unknown module in state: %q", name)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", name, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", name, from, to)
	}
	state[name] = to
	return nil
}

func isAllowedTransition(from, to ModuleState) bool {
	switch from {
	case ModulePending:
		return to == ModuleRunning || to == ModuleSkipped
	case ModuleRunning:
		return to == ModuleBuilt || to == ModuleFailed
	default:
		return false
	}
}

// FailAndPropagate marks name FAILED and every module downstream of it
// SKIPPED. A downstream module that is RUNNING is an invariant violation.
func FailAndPropagate(g *Graph, state State, name string) error {
	start, ok := g.index[name]
	if !ok {
		return fmt.Errorf("unknown module: %q", name)
	}
	switch state[name] {
	case ModuleRunning:
		state[name] = ModuleFailed
	case ModuleFailed:
	default:
		return fmt.Errorf("cannot fail %q from state %s", name, state[name])
	}

	visited := make([]bool, len(g.names))
	visited[start] = true
	hq := &intMinHeap{}
	for _, d := range g.outgoing[start] {
		heap.Push(hq, d)
	}
	for hq.Len() > 0 {
		u := heap.Pop(hq).(int)
		if visited[u] {
			continue
		}
		visited[u] = true

		n := g.names[u]
		switch state[n] {
		case ModulePending:
			state[n] = ModuleSkipped
		case ModuleRunning:
			return fmt.Errorf("invariant violation: downstream module %q is RUNNING during failure propagation", n)
		}
		for _, v := range g.outgoing[u] {
			if !visited[v] {
				heap.Push(hq, v)
			}
		}
	}
	return nil
}

// Ready returns the pending modules whose dependencies are all built, sorted
// by (depth, name). It does not modify state.
func Ready(g *Graph, state State) []string {
	var ready []string
	for i, n := range g.names {
		if state[n] != ModulePending {
			continue
		}
		ok := true
		for _, p := range g.incoming[i] {
			if state[g.names[p]] != ModuleBuilt {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, n)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		di, dj := g.depth[g.index[ready[i]]], g.depth[g.index[ready[j]]]
		if di != dj {
			return di < dj
		}
		return ready[i] < ready[j]
	})
	return ready
}
