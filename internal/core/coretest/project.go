// Package coretest provides a small multi-phase project for exercising the
// build cache end to end.
package coretest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"buildcache/internal/core"
	"buildcache/internal/lifecycle"
)

// Unit ids of the default binding.
const (
	Resources       lifecycle.UnitID = "resources:resources@default-resources"
	Compile         lifecycle.UnitID = "compiler:compile@default-compile"
	Test            lifecycle.UnitID = "surefire:test@default-test"
	ExtraResources  lifecycle.UnitID = "resources:copy-resources@extra-resources"
	Jar             lifecycle.UnitID = "jar:jar@default-jar"
	IntegrationTest lifecycle.UnitID = "failsafe:integration-test@default"
	Verify          lifecycle.UnitID = "failsafe:verify@default"
	Install         lifecycle.UnitID = "install:install@default-install"
	Sources         lifecycle.UnitID = "source:jar-no-fork@attach-sources"
	Javadoc         lifecycle.UnitID = "javadoc:jar@attach-javadocs"
	Deploy          lifecycle.UnitID = "deploy:deploy@default-deploy"
)

// Workspace-relative outputs.
const (
	PrimaryJar = "target/app.jar"
	SourcesJar = "target/app-sources.jar"
	JavadocJar = "target/app-javadoc.jar"
)

// CacheableExtras and NonCacheableExtras are the files the extra resources
// unit writes, split by declared policy.
var (
	CacheableExtras = []string{
		"target/extra-resources/extra-readme-1.md",
		"target/extra-resources/extra-readme-2.md",
		"target/other-resources/other-readme-1.md",
	}
	NonCacheableExtras = []string{
		"target/extra-resources/other-readme-1.md",
		"target/other-resources/extra-readme-1.md",
		"target/other-resources/extra-readme-2.md",
	}
)

// DefaultUnits returns the binding of the fixture project, all cacheable.
func DefaultUnits() []lifecycle.WorkUnit {
	return []lifecycle.WorkUnit{
		{Plugin: "resources", Goal: "resources", ExecutionID: "default-resources", Phase: "process-resources", Cacheable: true},
		{Plugin: "compiler", Goal: "compile", ExecutionID: "default-compile", Phase: "compile", Cacheable: true},
		{Plugin: "surefire", Goal: "test", ExecutionID: "default-test", Phase: "test", Cacheable: true},
		{Plugin: "resources", Goal: "copy-resources", ExecutionID: "extra-resources", Phase: "package", Cacheable: true},
		{Plugin: "jar", Goal: "jar", ExecutionID: "default-jar", Phase: "package", Cacheable: true},
		{Plugin: "failsafe", Goal: "integration-test", ExecutionID: "default", Phase: "integration-test", Cacheable: true},
		{Plugin: "failsafe", Goal: "verify", ExecutionID: "default", Phase: "verify", Cacheable: true},
		{Plugin: "install", Goal: "install", ExecutionID: "default-install", Phase: "install", Cacheable: true},
		{Plugin: "source", Goal: "jar-no-fork", ExecutionID: "attach-sources", Phase: "deploy", Cacheable: true},
		{Plugin: "javadoc", Goal: "jar", ExecutionID: "attach-javadocs", Phase: "deploy", Cacheable: true},
		{Plugin: "deploy", Goal: "deploy", ExecutionID: "default-deploy", Phase: "deploy", Cacheable: true},
	}
}

// DefaultOutputs returns the declared output policy of the fixture project.
func DefaultOutputs() core.OutputDecls {
	return core.OutputDecls{
		Primary: &core.ArtifactDecl{Path: PrimaryJar, Phase: "package"},
		Classified: []core.ArtifactDecl{
			{Classifier: "sources", Path: SourcesJar, Phase: "deploy"},
			{Classifier: "javadoc", Path: JavadocJar, Phase: "deploy"},
		},
		Extra: []core.ExtraOutputDecl{
			{Pattern: "target/extra-resources/extra-readme-*.md", Cacheable: true},
			{Pattern: "target/extra-resources/other-readme-*.md", Cacheable: false},
			{Pattern: "target/other-resources/extra-readme-*.md", Cacheable: false},
			{Pattern: "target/other-resources/other-readme-*.md", Cacheable: true},
		},
	}
}

// Project is a fixture project with a workspace, a local repository for
// install and deploy side effects, and a recording executor.
type Project struct {
	Key       core.ProjectKey
	Workspace string
	Repo      string
	Lifecycle *lifecycle.Lifecycle
	Binding   *lifecycle.Binding
	Outputs   core.OutputDecls

	mu       sync.Mutex
	executed []lifecycle.UnitID
	fail     map[lifecycle.UnitID]error
}

// NewProject creates the fixture under a fresh temp directory.
func NewProject(t testing.TB) *Project {
	t.Helper()
	root := t.TempDir()
	p := &Project{
		Key:       core.ProjectKey{GroupID: "org.example", ArtifactID: "app", Version: "1.0"},
		Workspace: filepath.Join(root, "ws"),
		Repo:      filepath.Join(root, "repo"),
		Lifecycle: lifecycle.Default(),
		Outputs:   DefaultOutputs(),
		fail:      make(map[lifecycle.UnitID]error),
	}
	require.NoError(t, os.MkdirAll(filepath.Join(p.Workspace, "src"), 0o755))
	p.WriteSource(t, "class Main {}")
	p.Rebind(t, DefaultUnits())
	return p
}

// Rebind replaces the unit binding.
func (p *Project) Rebind(t testing.TB, units []lifecycle.WorkUnit) {
	t.Helper()
	b, err := lifecycle.NewBinding(p.Lifecycle, units)
	require.NoError(t, err)
	p.Binding = b
}

// WriteSource replaces the only input file, changing the checksum.
func (p *Project) WriteSource(t testing.TB, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(p.Workspace, "src", "Main.java"), []byte(content), 0o644))
}

// Request returns a build request up to phase.
func (p *Project) Request(phase lifecycle.Phase) core.BuildRequest {
	return core.BuildRequest{
		Project: p.Key,
		Phase:   phase,
		Binding: p.Binding,
		Outputs: p.Outputs,
		Context: core.BuildContext{
			Workspace: p.Workspace,
			Inputs:    []string{"src/**"},
			Config:    map[string]string{"maven.compiler.release": "21"},
		},
	}
}

// Clean removes the build directory, like a clean build would.
func (p *Project) Clean(t testing.TB) {
	t.Helper()
	require.NoError(t, os.RemoveAll(filepath.Join(p.Workspace, "target")))
	p.mu.Lock()
	p.executed = nil
	p.mu.Unlock()
}

// FailOn makes the executor fail unit id with err.
func (p *Project) FailOn(id lifecycle.UnitID, err error) {
	p.mu.Lock()
	p.fail[id] = err
	p.mu.Unlock()
}

// Executed returns the units run since the last Clean, in order.
func (p *Project) Executed() []lifecycle.UnitID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]lifecycle.UnitID(nil), p.executed...)
}

// Exists reports whether the workspace-relative path exists.
func (p *Project) Exists(rel string) bool {
	_, err := os.Stat(filepath.Join(p.Workspace, filepath.FromSlash(rel)))
	return err == nil
}

// Installed reports whether the install side effect happened.
func (p *Project) Installed() bool {
	_, err := os.Stat(filepath.Join(p.Repo, "org", "example", "app", "1.0", "app-1.0.jar"))
	return err == nil
}

// Executor returns the executor producing the fixture outputs.
func (p *Project) Executor() core.UnitExecutor {
	return core.UnitExecutorFunc(func(ctx context.Context, u lifecycle.WorkUnit) error {
		id := u.ID()
		p.mu.Lock()
		err := p.fail[id]
		p.executed = append(p.executed, id)
		p.mu.Unlock()
		if err != nil {
			return err
		}
		return p.run(id)
	})
}

func (p *Project) run(id lifecycle.UnitID) error {
	src, err := os.ReadFile(filepath.Join(p.Workspace, "src", "Main.java"))
	if err != nil {
		return err
	}
	write := func(dir, rel, content string) error {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		return os.WriteFile(path, []byte(content), 0o644)
	}

	switch id {
	case Compile:
		return write(p.Workspace, "target/classes/Main.class", "compiled:"+string(src))
	case ExtraResources:
		files := append(append([]string(nil), CacheableExtras...), NonCacheableExtras...)
		sort.Strings(files)
		for _, f := range files {
			if err := write(p.Workspace, f, "readme "+f); err != nil {
				return err
			}
		}
	case Jar:
		return write(p.Workspace, PrimaryJar, "jar:"+string(src))
	case Install:
		jar, err := os.ReadFile(filepath.Join(p.Workspace, filepath.FromSlash(PrimaryJar)))
		if err != nil {
			return fmt.Errorf("install: %w", err)
		}
		return write(p.Repo, "org/example/app/1.0/app-1.0.jar", string(jar))
	case Sources:
		return write(p.Workspace, SourcesJar, "sources:"+string(src))
	case Javadoc:
		return write(p.Workspace, JavadocJar, "javadoc:"+string(src))
	case Deploy:
		return write(p.Repo, "remote/org/example/app/1.0/deployed", "ok")
	}
	return nil
}
