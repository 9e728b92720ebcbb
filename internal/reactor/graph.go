package reactor

import (
	"container/heap"
	"sort"
)

// Node is a module and the names of the modules it depends on.
type Node struct {
	Name      string
	DependsOn []string
}

// Graph is an immutable, validated module dependency graph.
//
// It is safe for concurrent read access.
type Graph struct {
	index map[string]int
	names []string // canonical order: by name

	outgoing [][]int // dependents, sorted ascending
	incoming [][]int // dependencies, sorted ascending
	indeg    []int
	depth    []int
}

// NewGraph builds and validates a Graph.
//
// Validation rejects:
//   - empty or duplicate module names
//   - dependencies on unknown modules
//   - duplicate dependencies
//   - self-dependencies
//   - any cycle (direct or indirect)
func NewGraph(nodes []Node) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, invalidf("no modules")
	}

	names := make([]string, 0, len(nodes))
	byName := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		if n.Name == "" {
			return nil, invalidf("module name is required")
		}
		if _, exists := byName[n.Name]; exists {
			return nil, invalidf("duplicate module: %q", n.Name)
		}
		byName[n.Name] = n
		names = append(names, n.Name)
	}
	sort.Strings(names)

	index := make(map[string]int, len(names))
	for i, name := range names {
		index[name] = i
	}

	outgoing := make([][]int, len(names))
	incoming := make([][]int, len(names))
	indeg := make([]int, len(names))
	for _, name := range names {
		to := index[name]
		seen := make(map[string]struct{})
		for _, dep := range byName[name].DependsOn {
			from, ok := index[dep]
			if !ok {
				return nil, invalidf("module %q depends on unknown module %q", name, dep)
			}
			if dep == name {
				return nil, invalidf("module %q depends on itself", name)
			}
			if _, dup := seen[dep]; dup {
				return nil, invalidf("module %q lists dependency %q twice", name, dep)
			}
			seen[dep] = struct{}{}
			outgoing[from] = append(outgoing[from], to)
			incoming[to] = append(incoming[to], from)
			indeg[to]++
		}
	}
	for i := range names {
		sort.Ints(outgoing[i])
		sort.Ints(incoming[i])
	}

	g := &Graph{
		index:    index,
		names:    names,
		outgoing: outgoing,
		incoming: incoming,
		indeg:    indeg,
	}
	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}
	g.depth = g.computeDepth()
	return g, nil
}

// Names returns the module names in canonical order.
func (g *Graph) Names() []string {
	return append([]string(nil), g.names...)
}

// Has reports whether name is a module of the graph.
func (g *Graph) Has(name string) bool {
	_, ok := g.index[name]
	return ok
}

// Dependencies returns the direct dependencies of name, sorted.
func (g *Graph) Dependencies(name string) []string {
	i, ok := g.index[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.incoming[i]))
	for _, p := range g.incoming[i] {
		out = append(out, g.names[p])
	}
	return out
}

// Depth returns the length of the longest dependency chain below name.
func (g *Graph) Depth(name string) (int, bool) {
	i, ok := g.index[name]
	if !ok {
		return 0, false
	}
	return g.depth[i], true
}

// TopologicalOrder returns a deterministic build order: dependencies first,
// ties broken by name.
func (g *Graph) TopologicalOrder() []string {
	order := g.topoOrderIndices()
	out := make([]string, 0, len(order))
	for _, i := range order {
		out = append(out, g.names[i])
	}
	return out
}

func (g *Graph) computeDepth() []int {
	depth := make([]int, len(g.names))
	for _, u := range g.topoOrderIndices() {
		for _, p := range g.incoming[u] {
			if d := depth[p] + 1; d > depth[u] {
				depth[u] = d
			}
		}
	}
	return depth
}

// validateAcyclic proves the graph has no cycles using Kahn's algorithm and
// reports one cycle if it has.
func (g *Graph) validateAcyclic() error {
	if len(g.topoOrderIndices()) == len(g.names) {
		return nil
	}
	return cycleError(g.findCycle())
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrderIndices returns a topological order with a min-heap ready queue.
func (g *Graph) topoOrderIndices() []int {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)

	ready := &intMinHeap{}
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycle returns one cycle as a closed path of names, found by DFS in
// canonical order.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(g.names))
	parent := make([]int, len(g.names))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range g.outgoing[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				// Back edge u -> v closes v ... u -> v.
				cycle = append(cycle, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := range g.names {
		if color[i] == white && dfs(i) {
			break
		}
	}

	out := make([]string, 0, len(cycle))
	for i := len(cycle) - 1; i >= 0; i-- {
		out = append(out, g.names[cycle[i]])
	}
	return out
}
