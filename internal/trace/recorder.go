package trace

import (
	"sort"
	"sync"
)

// Sink receives the decisions of the engine. Record must not panic and has
// nothing to report back; the engine treats it as fire and forget.
type Sink interface {
	Record(event Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Record(Event) {}

// SafeRecord hands event to s. A panicking sink loses the event, never the
// build.
func SafeRecord(s Sink, event Event) {
	if s == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	s.Record(event)
}

// Recorder collects the events of one or more concurrent project builds.
//
// Besides the global order it keeps an index per project, so the trace of a
// single module can be read back without scanning the events of the others.
type Recorder struct {
	mu        sync.Mutex
	events    []Event
	byProject map[string][]int
}

func NewRecorder() *Recorder { return &Recorder{byProject: make(map[string][]int)} }

func (r *Recorder) Record(event Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byProject == nil {
		r.byProject = make(map[string][]int)
	}
	r.byProject[event.Project] = append(r.byProject[event.Project], len(r.events))
	r.events = append(r.events, event)
}

// Snapshot returns a copy of all events in recording order.
func (r *Recorder) Snapshot() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Trace returns the recorded events as a BuildTrace.
func (r *Recorder) Trace() BuildTrace {
	return BuildTrace{Events: r.Snapshot()}
}

// Projects returns the projects that recorded at least one event, sorted.
// Events without a project are not listed.
func (r *Recorder) Projects() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.byProject))
	for p := range r.byProject {
		if p != "" {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Project returns the events of project in recording order.
func (r *Recorder) Project(project string) BuildTrace {
	if r == nil {
		return BuildTrace{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.byProject[project]
	if len(idx) == 0 {
		return BuildTrace{}
	}
	out := BuildTrace{Events: make([]Event, 0, len(idx))}
	for _, i := range idx {
		out.Events = append(out.Events, r.events[i])
	}
	return out
}

// Decision returns the cache decision taken for project: the first miss,
// restore or restore failure it recorded. ok is false when the project has
// not reached a decision.
func (r *Recorder) Decision(project string) (Kind, bool) {
	for _, e := range r.Project(project).Events {
		switch e.Kind {
		case EventCacheMiss, EventLookupFailed, EventFullRestore, EventPartialRestore, EventRestoreFailed:
			return e.Kind, true
		}
	}
	return "", false
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.events = nil
	r.byProject = make(map[string][]int)
	r.mu.Unlock()
}
