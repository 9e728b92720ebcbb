package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUnits() []WorkUnit {
	return []WorkUnit{
		{Plugin: "deploy", Goal: "deploy", ExecutionID: "default-deploy", Phase: "deploy", Cacheable: true},
		{Plugin: "resources", Goal: "resources", ExecutionID: "default-resources", Phase: "process-resources", Cacheable: true},
		{Plugin: "compiler", Goal: "compile", ExecutionID: "default-compile", Phase: "compile", Cacheable: true},
		{Plugin: "resources", Goal: "copy-resources", ExecutionID: "copy-extra", Phase: "process-resources", Cacheable: true},
		{Plugin: "jar", Goal: "jar", ExecutionID: "default-jar", Phase: "package", Cacheable: true},
		{Plugin: "failsafe", Goal: "integration-test", ExecutionID: "default", Phase: "integration-test", Cacheable: true},
		{Plugin: "failsafe", Goal: "verify", ExecutionID: "default", Phase: "verify", Cacheable: true},
		{Plugin: "install", Goal: "install", ExecutionID: "default-install", Phase: "install", Cacheable: true},
	}
}

func ids(units []WorkUnit) []UnitID {
	out := make([]UnitID, 0, len(units))
	for _, u := range units {
		out = append(out, u.ID())
	}
	return out
}

func TestLifecycle_Order(t *testing.T) {
	lc := Default()

	assert.True(t, lc.Precedes("compile", "test"))
	assert.True(t, lc.Precedes("package", "verify"))
	assert.True(t, lc.AtOrBefore("install", "install"))
	assert.False(t, lc.Precedes("deploy", "install"))
	assert.Equal(t, Phase("deploy"), lc.Max("install", "deploy"))
	assert.Equal(t, Phase("verify"), lc.Max("verify", "package"))

	// None precedes everything.
	assert.True(t, lc.Precedes(None, "validate"))
	assert.Equal(t, Phase("validate"), lc.Max(None, "validate"))
	assert.Equal(t, 0, lc.Compare(None, None))
}

func TestLifecycle_UnknownPhase(t *testing.T) {
	lc := Default()

	_, err := lc.Index("publish")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownPhase))
	assert.Error(t, lc.Validate("publish"))
	assert.NoError(t, lc.Validate(None))

	assert.Panics(t, func() { lc.Precedes("publish", "compile") })
}

func TestLifecycle_RejectsInvalidLists(t *testing.T) {
	_, err := New()
	assert.ErrorIs(t, err, ErrInvalidPhases)

	_, err = New("a", "b", "a")
	assert.ErrorIs(t, err, ErrInvalidPhases)

	_, err = New("a", None)
	assert.ErrorIs(t, err, ErrInvalidPhases)
}

func TestBinding_SortsByPhaseStably(t *testing.T) {
	b, err := NewBinding(Default(), testUnits())
	require.NoError(t, err)

	want := []UnitID{
		"resources:resources@default-resources",
		"resources:copy-resources@copy-extra",
		"compiler:compile@default-compile",
		"jar:jar@default-jar",
		"failsafe:integration-test@default",
		"failsafe:verify@default",
		"install:install@default-install",
		"deploy:deploy@default-deploy",
	}
	assert.Equal(t, want, ids(b.Units()))
}

func TestBinding_UnitsUpToAndBetween(t *testing.T) {
	b, err := NewBinding(Default(), testUnits())
	require.NoError(t, err)

	assert.Equal(t, []UnitID{
		"resources:resources@default-resources",
		"resources:copy-resources@copy-extra",
		"compiler:compile@default-compile",
		"jar:jar@default-jar",
	}, ids(b.UnitsUpTo("package")))

	assert.Equal(t, []UnitID{
		"failsafe:integration-test@default",
		"failsafe:verify@default",
	}, ids(b.UnitsBetween("package", "verify")))

	assert.Empty(t, b.UnitsBetween("deploy", "deploy"))
	assert.Len(t, b.UnitsBetween(None, "deploy"), len(testUnits()))
}

func TestBinding_Validation(t *testing.T) {
	_, err := NewBinding(Default(), []WorkUnit{{Plugin: "x", Goal: "y", Phase: "publish"}})
	assert.ErrorIs(t, err, ErrInvalidBinding)
	assert.ErrorIs(t, err, ErrUnknownPhase)

	dup := []WorkUnit{
		{Plugin: "x", Goal: "y", ExecutionID: "e", Phase: "compile"},
		{Plugin: "x", Goal: "y", ExecutionID: "e", Phase: "test"},
	}
	_, err = NewBinding(Default(), dup)
	assert.ErrorIs(t, err, ErrInvalidBinding)

	b, err := NewBinding(Default(), []WorkUnit{{Plugin: "jar", Goal: "jar", Phase: "package"}})
	require.NoError(t, err)
	u, ok := b.Unit("jar:jar@default-jar")
	require.True(t, ok)
	assert.Equal(t, "jar:jar", u.Qualifier())
}
