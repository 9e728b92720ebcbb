package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildcache/internal/lifecycle"
)

func harvestDecls() OutputDecls {
	return OutputDecls{
		Primary: &ArtifactDecl{Path: "target/app.jar", Phase: "package"},
		Classified: []ArtifactDecl{
			{Classifier: "sources", Path: "target/app-sources.jar", Phase: "deploy"},
			{Classifier: "tests", Path: "target/app-tests.jar", Phase: "package"},
		},
		Extra: []ExtraOutputDecl{
			{Pattern: "target/extra/*.md", Cacheable: true},
			{Pattern: "target/other/*.md", Cacheable: false},
			{Pattern: "target/site/**", Cacheable: true, Phase: "deploy"},
		},
	}
}

func TestHarvester_CapturesDueOutputs(t *testing.T) {
	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{
		"target/app.jar":         "jar",
		"target/app-sources.jar": "sources",
		"target/extra/b.md":      "b",
		"target/extra/a.md":      "a",
		"target/other/c.md":      "c",
		"target/site/index.html": "site",
	})
	lc := lifecycle.Default()
	require.NoError(t, harvestDecls().Validate(lc))

	c, err := NewHarvester(ws, lc).Harvest(harvestDecls(), "install")
	require.NoError(t, err)

	require.NotNil(t, c.Primary)
	assert.Equal(t, Digest([]byte("jar")), c.Primary.Digest)
	assert.Empty(t, c.Classified, "sources is due at deploy, tests is missing")
	assert.Equal(t, []string{"target/app-tests.jar"}, c.Missing)

	paths := make([]string, 0, len(c.ExtraOutputs))
	for _, o := range c.ExtraOutputs {
		paths = append(paths, o.Path)
		assert.True(t, o.Cacheable)
	}
	assert.Equal(t, []string{"target/extra/a.md", "target/extra/b.md"}, paths)
	assert.Len(t, c.Blobs, 3)

	rec := c.Record(testKey, "abc", "install", []lifecycle.UnitID{"jar:jar@default-jar"})
	require.NoError(t, rec.Validate(lc))
	assert.Len(t, rec.Files(), 3)

	c, err = NewHarvester(ws, lc).Harvest(harvestDecls(), "deploy")
	require.NoError(t, err)
	assert.True(t, c.Record(testKey, "abc", "deploy", nil).HasClassifier("sources"))
	assert.Len(t, c.ExtraOutputs, 3)
}

func TestOutputDecls_Validate(t *testing.T) {
	lc := lifecycle.Default()
	for name, d := range map[string]OutputDecls{
		"absolute":      {Primary: &ArtifactDecl{Path: "/tmp/app.jar", Phase: "package"}},
		"unknown phase": {Primary: &ArtifactDecl{Path: "app.jar", Phase: "ship"}},
		"no classifier": {Classified: []ArtifactDecl{{Path: "a.jar", Phase: "package"}}},
		"duplicate": {Classified: []ArtifactDecl{
			{Classifier: "x", Path: "a.jar", Phase: "package"},
			{Classifier: "x", Path: "b.jar", Phase: "package"},
		}},
		"bad pattern": {Extra: []ExtraOutputDecl{{Pattern: "target/[", Cacheable: true}}},
		"primary path reused": {
			Primary:    &ArtifactDecl{Path: "target/app.jar", Phase: "package"},
			Classified: []ArtifactDecl{{Classifier: "shaded", Path: "target/app.jar", Phase: "package"}},
		},
		"classified path reused": {Classified: []ArtifactDecl{
			{Classifier: "sources", Path: "target/app-src.jar", Phase: "deploy"},
			{Classifier: "javadoc", Path: "target/app-src.jar", Phase: "deploy"},
		}},
		"extra covers artifact": {
			Primary: &ArtifactDecl{Path: "target/app.jar", Phase: "package"},
			Extra:   []ExtraOutputDecl{{Pattern: "target/*.jar", Cacheable: true}},
		},
	} {
		assert.Error(t, d.Validate(lc), name)
	}
	require.NoError(t, harvestDecls().Validate(lc))
}
