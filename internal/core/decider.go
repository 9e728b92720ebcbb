package core

import "buildcache/internal/lifecycle"

// Action is the decision for one work unit.
type Action string

const (
	ActionSkip    Action = "skip"
	ActionExecute Action = "execute"
)

// Decision reasons.
const (
	ReasonCached       = "Cached"
	ReasonCacheMiss    = "CacheMiss"
	ReasonBeyondCache  = "BeyondCachedPhase"
	ReasonNotCacheable = "NotCacheable"
)

// Decision classifies one unit of the requested build.
type Decision struct {
	Unit   lifecycle.WorkUnit
	Action Action
	Reason string
}

// Decide classifies every unit of units that belongs to the requested build
// (phase at or before requested). Units after requested are not part of the
// build and are left out.
//
// Policy:
//   - non-cacheable units always execute
//   - cached == None (miss): every unit executes
//   - otherwise cacheable units at or before cached are skipped and the rest
//     execute
//
// Decisions keep the order of units.
func Decide(lc *lifecycle.Lifecycle, cached, requested lifecycle.Phase, units []lifecycle.WorkUnit) []Decision {
	out := make([]Decision, 0, len(units))
	for _, u := range units {
		if lc.Precedes(requested, u.Phase) {
			continue
		}
		d := Decision{Unit: u, Action: ActionExecute}
		switch {
		case !u.Cacheable:
			d.Reason = ReasonNotCacheable
		case cached == lifecycle.None:
			d.Reason = ReasonCacheMiss
		case lc.AtOrBefore(u.Phase, cached):
			d.Action = ActionSkip
			d.Reason = ReasonCached
		default:
			d.Reason = ReasonBeyondCache
		}
		out = append(out, d)
	}
	return out
}

// Split partitions decisions into skipped and executed unit ids.
func Split(decisions []Decision) (skipped, executed []lifecycle.UnitID) {
	for _, d := range decisions {
		if d.Action == ActionSkip {
			skipped = append(skipped, d.Unit.ID())
		} else {
			executed = append(executed, d.Unit.ID())
		}
	}
	return skipped, executed
}
