package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/alecthomas/kingpin/v2"
	"github.com/dustin/go-humanize"

	"buildcache/internal/core"
	"buildcache/internal/lifecycle"
	"buildcache/internal/store"
)

type inspectCommand struct {
	g        *globals
	project  string
	checksum string
	asJSON   bool
}

func addInspectCommand(app *kingpin.Application, g *globals) {
	cmd := &inspectCommand{g: g}
	c := app.Command("inspect", "Print the cache record of a project build.")
	c.Flag("project", "Project key as group:artifact:version.").Required().StringVar(&cmd.project)
	c.Flag("checksum", "Input checksum of the build.").Required().StringVar(&cmd.checksum)
	c.Flag("json", "Print the raw record as JSON.").BoolVar(&cmd.asJSON)
	c.Action(func(_ *kingpin.ParseContext) error { return cmd.run() })
}

func (cmd *inspectCommand) run() error {
	key, err := core.ParseProjectKey(cmd.project)
	if err != nil {
		return withCode(exitInvalidInvocation, err)
	}
	sum := core.Checksum(cmd.checksum)
	if err := sum.Validate(); err != nil {
		return withCode(exitInvalidInvocation, err)
	}

	cfg, logger, err := cmd.g.load()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Cache, lifecycle.Default(), logger)
	if err != nil {
		return withCode(exitInternalError, err)
	}
	defer st.Close()

	rec, err := st.Find(cmd.g.ctx, key, sum)
	if err != nil {
		return withCode(exitInternalError, err)
	}
	if rec == nil {
		return withCode(exitBuildFailure, fmt.Errorf("no cached build of %s with checksum %s", key, sum))
	}

	if cmd.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return withCode(exitInternalError, enc.Encode(rec))
	}
	printRecord(rec)
	return nil
}

func printRecord(rec *core.CacheRecord) {
	fmt.Printf("Project:        %s\n", rec.Project)
	fmt.Printf("Checksum:       %s\n", rec.Checksum)
	fmt.Printf("Highest phase:  %s\n", rec.HighestPhase)
	if rec.BuildID != "" {
		fmt.Printf("Build id:       %s\n", rec.BuildID)
	}
	fmt.Printf("Location:       %s\n", rec.StorageLocation)
	fmt.Printf("Skipped units:  %d\n", len(rec.SkippedUnits))

	var total uint64
	if a := rec.PrimaryArtifact; a != nil {
		fmt.Printf("Primary:        %s (%s, %s)\n", a.Path, a.Phase, humanize.Bytes(uint64(a.Size)))
		total += uint64(a.Size)
	}
	classifiers := make([]string, 0, len(rec.ClassifiedArtifacts))
	for c := range rec.ClassifiedArtifacts {
		classifiers = append(classifiers, c)
	}
	sort.Strings(classifiers)
	for _, c := range classifiers {
		a := rec.ClassifiedArtifacts[c]
		fmt.Printf("Classified:     %s: %s (%s, %s)\n", c, a.Path, a.Phase, humanize.Bytes(uint64(a.Size)))
		total += uint64(a.Size)
	}
	for _, e := range rec.ExtraOutputs {
		fmt.Printf("Extra:          %s (%s)\n", e.Path, humanize.Bytes(uint64(e.Size)))
		total += uint64(e.Size)
	}
	fmt.Printf("Total size:     %s\n", humanize.Bytes(total))
}
