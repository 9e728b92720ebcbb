// Package project loads the per-module build descriptor (buildcache.yaml)
// into the inputs the build engine consumes.
package project

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"buildcache/internal/core"
	"buildcache/internal/lifecycle"
)

// FileName is the descriptor file looked up in each module directory.
const FileName = "buildcache.yaml"

// Descriptor is the on-disk shape of buildcache.yaml.
type Descriptor struct {
	Project   Coordinates       `yaml:"project"`
	DependsOn []string          `yaml:"dependsOn"`
	Inputs    []string          `yaml:"inputs"`
	Excludes  []string          `yaml:"excludes"`
	Env       map[string]string `yaml:"env"`
	Config    map[string]string `yaml:"config"`
	Units     []UnitSpec        `yaml:"units"`
	Outputs   OutputSpec        `yaml:"outputs"`
}

// Coordinates identify the module.
type Coordinates struct {
	GroupID    string `yaml:"groupId"`
	ArtifactID string `yaml:"artifactId"`
	Version    string `yaml:"version"`
}

// UnitSpec binds a shell command to a lifecycle phase.
type UnitSpec struct {
	Plugin    string `yaml:"plugin"`
	Goal      string `yaml:"goal"`
	Execution string `yaml:"execution"`
	Phase     string `yaml:"phase"`
	Run       string `yaml:"run"`

	// Cacheable defaults to true when omitted.
	Cacheable *bool `yaml:"cacheable"`
}

// OutputSpec declares what a build produces.
type OutputSpec struct {
	Primary    *ArtifactSpec  `yaml:"primary"`
	Classified []ArtifactSpec `yaml:"classified"`
	Extra      []ExtraSpec    `yaml:"extra"`
}

type ArtifactSpec struct {
	Classifier string `yaml:"classifier"`
	Path       string `yaml:"path"`
	Phase      string `yaml:"phase"`
}

type ExtraSpec struct {
	Pattern   string `yaml:"pattern"`
	Cacheable bool   `yaml:"cacheable"`
	Phase     string `yaml:"phase"`
}

// ValidationError lists every problem found in one descriptor.
type ValidationError struct {
	File     string
	Problems []string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("invalid descriptor %s: %s", e.File, strings.Join(e.Problems, "; "))
}

// Module is a validated descriptor bound to its directory.
type Module struct {
	Dir       string
	Key       core.ProjectKey
	DependsOn []core.ProjectKey
	Inputs    []string
	Excludes  []string
	Env       map[string]string
	Config    map[string]string
	Binding   *lifecycle.Binding
	Outputs   core.OutputDecls

	// Commands maps each unit to its shell command.
	Commands map[lifecycle.UnitID]string
}

// Load reads and validates dir/buildcache.yaml.
func Load(dir string, lc *lifecycle.Lifecycle) (*Module, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve module directory: %w", err)
	}
	path := filepath.Join(abs, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	return Parse(data, path, abs, lc)
}

// Parse decodes a descriptor strictly and validates it. file is used in
// error messages only.
func Parse(data []byte, file, dir string, lc *lifecycle.Lifecycle) (*Module, error) {
	var d Descriptor
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ValidationError{File: file, Problems: []string{"descriptor is empty"}}
		}
		return nil, fmt.Errorf("parse descriptor %s: %w", file, err)
	}
	return d.Module(file, dir, lc)
}

// Module validates d and converts it. All problems are reported together.
func (d Descriptor) Module(file, dir string, lc *lifecycle.Lifecycle) (*Module, error) {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	key := core.ProjectKey{
		GroupID:    d.Project.GroupID,
		ArtifactID: d.Project.ArtifactID,
		Version:    d.Project.Version,
	}
	if err := key.Validate(); err != nil {
		addf("project: %v", err)
	}

	var deps []core.ProjectKey
	for _, s := range d.DependsOn {
		dep, err := core.ParseProjectKey(s)
		if err != nil {
			addf("dependsOn %q: %v", s, err)
			continue
		}
		deps = append(deps, dep)
	}

	if len(d.Inputs) == 0 {
		addf("inputs: at least one pattern is required")
	}

	units := make([]lifecycle.WorkUnit, 0, len(d.Units))
	commands := make(map[lifecycle.UnitID]string, len(d.Units))
	for i, u := range d.Units {
		if u.Plugin == "" || u.Goal == "" {
			addf("units[%d]: plugin and goal are required", i)
			continue
		}
		if u.Execution == "" {
			u.Execution = "default-" + u.Goal
		}
		if strings.TrimSpace(u.Run) == "" {
			addf("units[%d] %s:%s@%s: run is required", i, u.Plugin, u.Goal, u.Execution)
			continue
		}
		wu := lifecycle.WorkUnit{
			Plugin:      u.Plugin,
			Goal:        u.Goal,
			ExecutionID: u.Execution,
			Phase:       lifecycle.Phase(u.Phase),
			Cacheable:   u.Cacheable == nil || *u.Cacheable,
		}
		units = append(units, wu)
		commands[wu.ID()] = u.Run
	}
	binding, err := lifecycle.NewBinding(lc, units)
	if err != nil {
		addf("units: %v", err)
	}

	outputs := d.Outputs.decls()
	if err := outputs.Validate(lc); err != nil {
		addf("outputs: %v", err)
	}

	if len(problems) > 0 {
		return nil, &ValidationError{File: file, Problems: problems}
	}
	return &Module{
		Dir:       dir,
		Key:       key,
		DependsOn: deps,
		Inputs:    d.Inputs,
		Excludes:  d.Excludes,
		Env:       d.Env,
		Config:    d.Config,
		Binding:   binding,
		Outputs:   outputs,
		Commands:  commands,
	}, nil
}

func (o OutputSpec) decls() core.OutputDecls {
	var out core.OutputDecls
	if o.Primary != nil {
		out.Primary = &core.ArtifactDecl{
			Classifier: o.Primary.Classifier,
			Path:       o.Primary.Path,
			Phase:      lifecycle.Phase(o.Primary.Phase),
		}
	}
	for _, c := range o.Classified {
		out.Classified = append(out.Classified, core.ArtifactDecl{
			Classifier: c.Classifier,
			Path:       c.Path,
			Phase:      lifecycle.Phase(c.Phase),
		})
	}
	for _, e := range o.Extra {
		out.Extra = append(out.Extra, core.ExtraOutputDecl{
			Pattern:   e.Pattern,
			Cacheable: e.Cacheable,
			Phase:     lifecycle.Phase(e.Phase),
		})
	}
	return out
}

// Request returns the build request for phase. Unit commands and the
// declared environment are part of the checksummed configuration, so editing
// either invalidates the cache.
func (m *Module) Request(phase lifecycle.Phase) core.BuildRequest {
	cfg := make(map[string]string, len(m.Config)+len(m.Commands)+len(m.Env))
	for k, v := range m.Config {
		cfg["config."+k] = v
	}
	for id, run := range m.Commands {
		cfg["run."+id.String()] = run
	}
	for k, v := range m.Env {
		cfg["env."+k] = v
	}
	return core.BuildRequest{
		Project: m.Key,
		Phase:   phase,
		Binding: m.Binding,
		Outputs: m.Outputs,
		Context: core.BuildContext{
			Workspace: m.Dir,
			Inputs:    m.Inputs,
			Excludes:  m.Excludes,
			Units:     m.Binding.Units(),
			Config:    cfg,
		},
	}
}

// Command returns the shell command bound to unit id.
func (m *Module) Command(id lifecycle.UnitID) (string, bool) {
	run, ok := m.Commands[id]
	return run, ok
}

// LoadAll loads every module directory. Project keys must be unique and
// dependencies must name loaded modules. Modules are returned sorted by key.
func LoadAll(dirs []string, lc *lifecycle.Lifecycle) ([]*Module, error) {
	byKey := make(map[string]*Module, len(dirs))
	mods := make([]*Module, 0, len(dirs))
	for _, dir := range dirs {
		m, err := Load(dir, lc)
		if err != nil {
			return nil, err
		}
		k := m.Key.String()
		if prev, dup := byKey[k]; dup {
			return nil, fmt.Errorf("project %s declared twice: %s and %s", k, prev.Dir, m.Dir)
		}
		byKey[k] = m
		mods = append(mods, m)
	}
	for _, m := range mods {
		for _, dep := range m.DependsOn {
			if _, ok := byKey[dep.String()]; !ok {
				return nil, fmt.Errorf("project %s depends on %s, which is not part of the build", m.Key, dep)
			}
		}
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i].Key.String() < mods[j].Key.String() })
	return mods, nil
}
