// Package trace records the logical decisions of cache-aware builds.
//
// Events describe what the engine decided (miss, restore, skip, execute,
// save), never timing. They are the structured form of the build log lines
// and the thing tests assert on.
package trace

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Kind is the stable discriminator of an Event. The string values appear in
// serialized traces; do not rename.
type Kind string

const (
	EventCacheMiss      Kind = "CacheMiss"
	EventLookupFailed   Kind = "LookupFailed"
	EventFullRestore    Kind = "FullRestore"
	EventPartialRestore Kind = "PartialRestore"
	EventRestoreFailed  Kind = "RestoreFailed"
	EventUnitSkipped    Kind = "UnitSkipped"
	EventUnitExecuted   Kind = "UnitExecuted"
	EventUnitFailed     Kind = "UnitFailed"
	EventSaved          Kind = "Saved"
	EventSaveFailed     Kind = "SaveFailed"
)

// Event is a single logical decision.
//
// No timestamps, no error strings. Optional fields are omitted when empty.
type Event struct {
	Kind Kind `json:"kind"`

	// Project is group:artifact of the build the event belongs to.
	Project  string `json:"project,omitempty"`
	Checksum string `json:"checksum,omitempty"`

	// UnitID is set for unit-level events.
	UnitID string `json:"unitId,omitempty"`

	CachedPhase    string `json:"cachedPhase,omitempty"`
	RequestedPhase string `json:"requestedPhase,omitempty"`

	// Location is the storage location for save events.
	Location string `json:"location,omitempty"`

	// Artifacts lists workspace paths restored or saved.
	Artifacts []string `json:"artifacts,omitempty"`
}

func isUnitEvent(k Kind) bool {
	switch k {
	case EventUnitSkipped, EventUnitExecuted, EventUnitFailed:
		return true
	default:
		return false
	}
}

// BuildTrace is an ordered list of events.
type BuildTrace struct {
	Events []Event `json:"events"`
}

// Validate checks basic invariants.
func (t *BuildTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	for i, e := range t.Events {
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if isUnitEvent(e.Kind) && e.UnitID == "" {
			return fmt.Errorf("events[%d].unitId is required for kind %q", i, e.Kind)
		}
		for j, a := range e.Artifacts {
			if a == "" {
				return fmt.Errorf("events[%d].artifacts[%d] is empty", i, j)
			}
		}
	}
	return nil
}

// ForProject returns the events of one project, in order.
func (t BuildTrace) ForProject(project string) BuildTrace {
	var out BuildTrace
	for _, e := range t.Events {
		if e.Project == project {
			out.Events = append(out.Events, e)
		}
	}
	return out
}

// Has reports whether an event of kind k was recorded.
func (t BuildTrace) Has(k Kind) bool {
	for _, e := range t.Events {
		if e.Kind == k {
			return true
		}
	}
	return false
}

// First returns the first event of kind k.
func (t BuildTrace) First(k Kind) (Event, bool) {
	for _, e := range t.Events {
		if e.Kind == k {
			return e, true
		}
	}
	return Event{}, false
}

// Units returns the unit ids of all events of kind k, in order.
func (t BuildTrace) Units(k Kind) []string {
	var out []string
	for _, e := range t.Events {
		if e.Kind == k {
			out = append(out, e.UnitID)
		}
	}
	return out
}

// JSON returns the trace encoding with artifact lists sorted, so that two
// traces of the same decisions encode identically.
func (t BuildTrace) JSON() ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	cp := BuildTrace{Events: make([]Event, len(t.Events))}
	for i, e := range t.Events {
		if len(e.Artifacts) > 0 {
			e.Artifacts = append([]string(nil), e.Artifacts...)
			sort.Strings(e.Artifacts)
		}
		cp.Events[i] = e
	}
	return json.Marshal(cp)
}
