package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGraph_CanonicalOrder(t *testing.T) {
	g, err := NewGraph([]Node{
		{Name: "web", DependsOn: []string{"core", "api"}},
		{Name: "core"},
		{Name: "api", DependsOn: []string{"core"}},
		{Name: "cli", DependsOn: []string{"core"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"api", "cli", "core", "web"}, g.Names())
	assert.Equal(t, []string{"core", "api", "cli", "web"}, g.TopologicalOrder())
	assert.Equal(t, []string{"api", "core"}, g.Dependencies("web"))
	assert.Nil(t, g.Dependencies("missing"))

	d, ok := g.Depth("web")
	assert.True(t, ok)
	assert.Equal(t, 2, d)
	d, _ = g.Depth("core")
	assert.Equal(t, 0, d)
	_, ok = g.Depth("missing")
	assert.False(t, ok)
}

func TestNewGraph_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		nodes []Node
	}{
		{"empty", nil},
		{"unnamed", []Node{{Name: ""}}},
		{"duplicate module", []Node{{Name: "a"}, {Name: "a"}}},
		{"unknown dependency", []Node{{Name: "a", DependsOn: []string{"b"}}}},
		{"self dependency", []Node{{Name: "a", DependsOn: []string{"a"}}}},
		{"duplicate dependency", []Node{{Name: "a"}, {Name: "b", DependsOn: []string{"a", "a"}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewGraph(tc.nodes)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidGraph)
		})
	}
}

func TestNewGraph_CycleReported(t *testing.T) {
	_, err := NewGraph([]Node{
		{Name: "a", DependsOn: []string{"c"}},
		{Name: "b", DependsOn: []string{"a"}},
		{Name: "c", DependsOn: []string{"b"}},
		{Name: "d"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycleFound)
	assert.Contains(t, err.Error(), "a -> b -> c -> a")
}
