package lifecycle

import (
	"fmt"
	"sort"
)

// UnitID is the stable identity of a work unit: plugin:goal@execution.
type UnitID string

// String returns the id.
func (id UnitID) String() string { return string(id) }

// WorkUnit is one schedulable unit of build work bound to a phase.
type WorkUnit struct {
	Plugin      string
	Goal        string
	ExecutionID string
	Phase       Phase

	// Cacheable units have their effects captured by the cache and may be
	// skipped. Non-cacheable units always run.
	Cacheable bool
}

// Qualifier returns plugin:goal.
func (u WorkUnit) Qualifier() string { return u.Plugin + ":" + u.Goal }

// ID returns the unit identity.
func (u WorkUnit) ID() UnitID {
	return UnitID(u.Qualifier() + "@" + u.ExecutionID)
}

// String renders the unit like a build log header: goal (execution) @ phase.
func (u WorkUnit) String() string {
	return fmt.Sprintf("%s (%s) @ %s", u.Goal, u.ExecutionID, u.Phase)
}

// Binding is the validated, phase-ordered list of work units of one project.
type Binding struct {
	lc    *Lifecycle
	units []WorkUnit
}

// NewBinding validates units against lc and orders them by phase.
//
// Units bound to the same phase keep their declaration order.
func NewBinding(lc *Lifecycle, units []WorkUnit) (*Binding, error) {
	if lc == nil {
		return nil, fmt.Errorf("%w: nil lifecycle", ErrInvalidBinding)
	}
	seen := make(map[UnitID]struct{}, len(units))
	sorted := make([]WorkUnit, 0, len(units))
	for i, u := range units {
		if u.Plugin == "" || u.Goal == "" {
			return nil, fmt.Errorf("%w: unit %d: plugin and goal are required", ErrInvalidBinding, i)
		}
		if u.ExecutionID == "" {
			u.ExecutionID = "default-" + u.Goal
		}
		if !lc.Has(u.Phase) {
			return nil, fmt.Errorf("%w: unit %s: %w: %q", ErrInvalidBinding, u.ID(), ErrUnknownPhase, string(u.Phase))
		}
		if _, dup := seen[u.ID()]; dup {
			return nil, fmt.Errorf("%w: duplicate unit %s", ErrInvalidBinding, u.ID())
		}
		seen[u.ID()] = struct{}{}
		sorted = append(sorted, u)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return lc.Precedes(sorted[i].Phase, sorted[j].Phase)
	})
	return &Binding{lc: lc, units: sorted}, nil
}

// Lifecycle returns the lifecycle the binding was validated against.
func (b *Binding) Lifecycle() *Lifecycle { return b.lc }

// Units returns all units in phase order.
func (b *Binding) Units() []WorkUnit {
	out := make([]WorkUnit, len(b.units))
	copy(out, b.units)
	return out
}

// Unit looks a unit up by id.
func (b *Binding) Unit(id UnitID) (WorkUnit, bool) {
	for _, u := range b.units {
		if u.ID() == id {
			return u, true
		}
	}
	return WorkUnit{}, false
}

// UnitsUpTo returns the units whose phase is at or before phase.
func (b *Binding) UnitsUpTo(phase Phase) []WorkUnit {
	return b.UnitsBetween(None, phase)
}

// UnitsBetween returns the units whose phase lies in (low, high].
func (b *Binding) UnitsBetween(low, high Phase) []WorkUnit {
	var out []WorkUnit
	for _, u := range b.units {
		if b.lc.Precedes(low, u.Phase) && b.lc.AtOrBefore(u.Phase, high) {
			out = append(out, u)
		}
	}
	return out
}
