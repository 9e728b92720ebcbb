package core

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"buildcache/internal/lifecycle"
)

func deciderUnits() []lifecycle.WorkUnit {
	return []lifecycle.WorkUnit{
		{Plugin: "compiler", Goal: "compile", ExecutionID: "default-compile", Phase: "compile", Cacheable: true},
		{Plugin: "buildnumber", Goal: "create", ExecutionID: "default", Phase: "compile", Cacheable: false},
		{Plugin: "jar", Goal: "jar", ExecutionID: "default-jar", Phase: "package", Cacheable: true},
		{Plugin: "failsafe", Goal: "verify", ExecutionID: "default", Phase: "verify", Cacheable: true},
		{Plugin: "install", Goal: "install", ExecutionID: "default-install", Phase: "install", Cacheable: true},
	}
}

func actions(ds []Decision) map[lifecycle.UnitID]Action {
	out := make(map[lifecycle.UnitID]Action, len(ds))
	for _, d := range ds {
		out[d.Unit.ID()] = d.Action
	}
	return out
}

func TestDecide_MissExecutesEverything(t *testing.T) {
	ds := Decide(lifecycle.Default(), lifecycle.None, "verify", deciderUnits())
	assert.Len(t, ds, 4, "install is beyond the request")
	for _, d := range ds {
		assert.Equal(t, ActionExecute, d.Action, d.Unit.ID())
	}
	assert.Equal(t, ReasonCacheMiss, ds[0].Reason)
	assert.Equal(t, ReasonNotCacheable, ds[1].Reason)
}

func TestDecide_FullHitSkipsCacheableUnits(t *testing.T) {
	ds := Decide(lifecycle.Default(), "deploy", "package", deciderUnits())
	assert.Equal(t, map[lifecycle.UnitID]Action{
		"compiler:compile@default-compile": ActionSkip,
		"buildnumber:create@default":       ActionExecute,
		"jar:jar@default-jar":              ActionSkip,
	}, actions(ds))
}

// Units up to the cached phase are skipped and every unit in
// (cached, requested] runs.
func TestDecide_PartialHit(t *testing.T) {
	ds := Decide(lifecycle.Default(), "package", "install", deciderUnits())
	assert.Equal(t, map[lifecycle.UnitID]Action{
		"compiler:compile@default-compile": ActionSkip,
		"buildnumber:create@default":       ActionExecute,
		"jar:jar@default-jar":              ActionSkip,
		"failsafe:verify@default":          ActionExecute,
		"install:install@default-install":  ActionExecute,
	}, actions(ds))
	assert.Equal(t, ReasonBeyondCache, ds[3].Reason)

	skipped, executed := Split(ds)
	assert.Equal(t, []lifecycle.UnitID{"compiler:compile@default-compile", "jar:jar@default-jar"}, skipped)
	assert.Equal(t, []lifecycle.UnitID{"buildnumber:create@default", "failsafe:verify@default", "install:install@default-install"}, executed)
}
