package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildcache/internal/lifecycle"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func checksumContext(ws string) BuildContext {
	return BuildContext{
		Workspace: ws,
		Inputs:    []string{"src/**/*.java", "pom.xml"},
		Excludes:  []string{"src/**/generated/**"},
		Units: []lifecycle.WorkUnit{
			{Plugin: "compiler", Goal: "compile", ExecutionID: "default-compile", Phase: "compile", Cacheable: true},
			{Plugin: "jar", Goal: "jar", ExecutionID: "default-jar", Phase: "package", Cacheable: true},
		},
		Config: map[string]string{"release": "21", "encoding": "UTF-8"},
	}
}

func compute(t *testing.T, bc BuildContext) Checksum {
	t.Helper()
	sum, err := NewInputChecksummer().Compute(context.Background(), testKey, bc)
	require.NoError(t, err)
	return sum
}

func TestInputChecksummer_StableAndSensitive(t *testing.T) {
	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{
		"pom.xml":                          "<project/>",
		"src/main/java/Main.java":          "class Main {}",
		"src/main/java/generated/Gen.java": "class Gen {}",
	})
	bc := checksumContext(ws)
	base := compute(t, bc)
	assert.Len(t, base.String(), 16)
	assert.Equal(t, base, compute(t, bc))

	// Pattern order does not matter.
	reordered := checksumContext(ws)
	reordered.Inputs = []string{"pom.xml", "src/**/*.java"}
	assert.Equal(t, base, compute(t, reordered))

	// Excluded files do not matter.
	writeFiles(t, ws, map[string]string{"src/main/java/generated/Gen.java": "class Gen { int x; }"})
	assert.Equal(t, base, compute(t, bc))

	changedConfig := checksumContext(ws)
	changedConfig.Config["release"] = "17"
	assert.NotEqual(t, base, compute(t, changedConfig))

	changedUnits := checksumContext(ws)
	changedUnits.Units[1].Cacheable = false
	assert.NotEqual(t, base, compute(t, changedUnits))

	writeFiles(t, ws, map[string]string{"src/main/java/Main.java": "class Main { }"})
	assert.NotEqual(t, base, compute(t, bc))
}

func TestInputChecksummer_Errors(t *testing.T) {
	c := NewInputChecksummer()

	_, err := c.Compute(context.Background(), testKey, BuildContext{Workspace: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	_, err = c.Compute(context.Background(), ProjectKey{}, BuildContext{Workspace: t.TempDir()})
	assert.Error(t, err)

	_, err = c.Compute(context.Background(), testKey, BuildContext{Workspace: t.TempDir(), Inputs: []string{"/abs/**"}})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Compute(ctx, testKey, BuildContext{Workspace: t.TempDir()})
	assert.ErrorIs(t, err, context.Canceled)
}
