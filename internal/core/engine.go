package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/ulid/v2"

	"buildcache/internal/lifecycle"
	"buildcache/internal/trace"
)

// ErrInvalidTransition is returned when a session is driven out of order.
var ErrInvalidTransition = errors.New("invalid session state transition")

// State is a step of the restore/extend protocol.
type State string

const (
	StateStart          State = "START"
	StateLookedUp       State = "LOOKED_UP"
	StateFullRestore    State = "FULL_RESTORE"
	StatePartialRestore State = "PARTIAL_RESTORE"
	StateFullBuild      State = "FULL_BUILD"
	StateExecuting      State = "EXECUTING_REMAINDER"
	StateSaving         State = "SAVING"
	StateDone           State = "DONE"
	StateFailed         State = "FAILED"
)

// transitions lists the legal successor states. A failed restore moves from
// FULL_RESTORE or PARTIAL_RESTORE to FULL_BUILD.
var transitions = map[State][]State{
	StateStart:          {StateLookedUp, StateFailed},
	StateLookedUp:       {StateFullRestore, StatePartialRestore, StateFullBuild, StateFailed},
	StateFullRestore:    {StateExecuting, StateFullBuild, StateFailed},
	StatePartialRestore: {StateExecuting, StateFullBuild, StateFailed},
	StateFullBuild:      {StateExecuting, StateFailed},
	StateExecuting:      {StateSaving, StateDone, StateFailed},
	StateSaving:         {StateDone, StateFailed},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Outcome is how the cache served a build.
type Outcome string

const (
	OutcomeFullBuild      Outcome = "FULL_BUILD"
	OutcomeFullRestore    Outcome = "FULL_RESTORE"
	OutcomePartialRestore Outcome = "PARTIAL_RESTORE"
)

// UnitExecutor runs one work unit on behalf of the host.
type UnitExecutor interface {
	ExecuteUnit(ctx context.Context, unit lifecycle.WorkUnit) error
}

// UnitExecutorFunc adapts a function to UnitExecutor.
type UnitExecutorFunc func(ctx context.Context, unit lifecycle.WorkUnit) error

// ExecuteUnit calls f.
func (f UnitExecutorFunc) ExecuteUnit(ctx context.Context, unit lifecycle.WorkUnit) error {
	return f(ctx, unit)
}

// UnitError reports a failed work unit.
type UnitError struct {
	Unit lifecycle.UnitID
	Err  error
}

func (e *UnitError) Error() string { return fmt.Sprintf("unit %s failed: %v", e.Unit, e.Err) }

func (e *UnitError) Unwrap() error { return e.Err }

// BuildRequest asks for one project to be built up to Phase.
type BuildRequest struct {
	Project ProjectKey
	Phase   lifecycle.Phase

	// Binding is the full declared unit binding of the project.
	Binding *lifecycle.Binding

	// Outputs is the declared output policy table.
	Outputs OutputDecls

	// Context feeds the checksum. Context.Workspace is also where outputs
	// are restored to and harvested from. Context.Units defaults to the
	// binding's units.
	Context BuildContext

	// Checksum, when set, is used instead of computing one.
	Checksum Checksum
}

// BuildResult is the structured outcome of a build.
type BuildResult struct {
	BuildID        string
	Project        ProjectKey
	Checksum       Checksum
	Outcome        Outcome
	CachedPhase    lifecycle.Phase
	RequestedPhase lifecycle.Phase

	// RestoreFailed is set when a found record could not be materialized
	// and the build fell back to a full build.
	RestoreFailed bool

	Decisions     []Decision
	Executed      []lifecycle.UnitID
	Skipped       []lifecycle.UnitID
	RestoredFiles []string

	// Saved is set when the record was written. SaveErr holds the error of
	// a failed save; the build itself still succeeded.
	Saved   bool
	SaveErr error

	// Record is the stored record after the build, if any.
	Record          *CacheRecord
	StorageLocation string

	Duration time.Duration
}

// Summary renders the observability signals of the build.
func (r *BuildResult) Summary() string {
	var s string
	switch {
	case r.RestoreFailed:
		s = "restore failed, built without cache"
	case r.Outcome == OutcomeFullRestore:
		s = "restored fully"
	case r.Outcome == OutcomePartialRestore:
		s = fmt.Sprintf("restored partially, highest cached phase = %s, requested = %s", r.CachedPhase, r.RequestedPhase)
	default:
		s = "not found by checksum"
	}
	switch {
	case r.Saved:
		s += "; saved build to local cache: " + r.StorageLocation
	case r.SaveErr != nil:
		s += "; cache save failed: " + r.SaveErr.Error()
	}
	return s
}

// Engine drives cache-aware builds: lookup, restore, remainder execution and
// save. It holds no per-build state; every build is a Session.
type Engine struct {
	Lifecycle *lifecycle.Lifecycle
	Store     Store
	Checksums ChecksumProvider
	Logger    log.Logger
	Metrics   *Metrics
	Trace     trace.Sink

	// NewID returns build ids. Defaults to ULIDs.
	NewID func() string
}

// NewEngine creates an Engine with the default checksum provider, a no-op
// logger and trace sink, and unregistered metrics.
func NewEngine(lc *lifecycle.Lifecycle, store Store) *Engine {
	return &Engine{
		Lifecycle: lc,
		Store:     store,
		Checksums: NewInputChecksummer(),
		Logger:    log.NewNopLogger(),
		Trace:     trace.NopSink{},
		NewID:     func() string { return ulid.Make().String() },
	}
}

// Session is one build moving through the restore/extend protocol.
// A Session is not safe for concurrent use.
type Session struct {
	engine *Engine
	req    BuildRequest
	logger log.Logger
	start  time.Time

	state    State
	saveMode SaveMode
	result   *BuildResult
}

// RequestBuild runs the whole protocol for req with exec running the units
// that are not satisfied by the cache.
//
// A non-nil result is returned whenever the lookup succeeded, also on unit
// failure.
func (e *Engine) RequestBuild(ctx context.Context, req BuildRequest, exec UnitExecutor) (*BuildResult, error) {
	s, err := e.Begin(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.Execute(ctx, exec); err != nil {
		return s.Result(), err
	}
	return s.Finish(ctx)
}

// Begin computes the checksum, looks the record up and restores it. The
// returned session holds the unit decisions; no unit has run yet.
//
// Only an invalid request or a checksum failure is an error. Lookup and
// restore failures degrade to a full build.
func (e *Engine) Begin(ctx context.Context, req BuildRequest) (*Session, error) {
	if err := e.validate(req); err != nil {
		return nil, err
	}
	lc := e.Lifecycle
	logger := log.With(e.logger(), "project", req.Project.String())

	s := &Session{
		engine:   e,
		req:      req,
		logger:   logger,
		start:    time.Now(),
		state:    StateStart,
		saveMode: SaveMerge,
		result: &BuildResult{
			BuildID:        e.newID(),
			Project:        req.Project,
			RequestedPhase: req.Phase,
		},
	}

	sum := req.Checksum
	if sum == "" {
		bc := req.Context
		if bc.Units == nil {
			bc.Units = req.Binding.Units()
		}
		var err error
		sum, err = e.Checksums.Compute(ctx, req.Project, bc)
		if err != nil {
			s.state = StateFailed
			return nil, fmt.Errorf("computing checksum for %s: %w", req.Project, err)
		}
	}
	if err := sum.Validate(); err != nil {
		s.state = StateFailed
		return nil, fmt.Errorf("computing checksum for %s: %w", req.Project, err)
	}
	s.result.Checksum = sum
	s.logger = log.With(logger, "checksum", sum.String())

	if err := s.transition(StateLookedUp); err != nil {
		return nil, err
	}
	rec := s.lookup(ctx)

	cached := lifecycle.None
	if rec != nil {
		s.result.Record = rec
		s.result.StorageLocation = rec.StorageLocation
		cached = rec.HighestPhase

		next, outcome, lookupResult := StatePartialRestore, OutcomePartialRestore, lookupPartialHit
		if lc.AtOrBefore(req.Phase, rec.HighestPhase) {
			next, outcome, lookupResult = StateFullRestore, OutcomeFullRestore, lookupFullHit
		}
		e.Metrics.lookup(lookupResult)
		level.Info(s.logger).Log("msg", fmt.Sprintf("Found cached build, restoring %s from cache by checksum", req.Project.GA()))
		if err := s.transition(next); err != nil {
			return nil, err
		}
		s.result.Outcome = outcome
		s.result.CachedPhase = cached

		if !s.restore(ctx, rec) {
			cached = lifecycle.None
		} else if outcome == OutcomePartialRestore {
			level.Info(s.logger).Log("msg", fmt.Sprintf("Project %s restored partially. Highest cached goal: %s, requested: %s",
				req.Project.GA(), rec.HighestPhase, req.Phase))
		}
	} else {
		if err := s.transition(StateFullBuild); err != nil {
			return nil, err
		}
		s.result.Outcome = OutcomeFullBuild
	}

	s.result.Decisions = Decide(lc, cached, req.Phase, req.Binding.Units())
	return s, nil
}

func (e *Engine) validate(req BuildRequest) error {
	if e.Lifecycle == nil || e.Store == nil || e.Checksums == nil {
		return errors.New("engine is not configured")
	}
	if err := req.Project.Validate(); err != nil {
		return err
	}
	if req.Phase == lifecycle.None {
		return fmt.Errorf("%s: requested phase is required", req.Project)
	}
	if err := e.Lifecycle.Validate(req.Phase); err != nil {
		return fmt.Errorf("%s: %w", req.Project, err)
	}
	if req.Binding == nil {
		return fmt.Errorf("%s: unit binding is required", req.Project)
	}
	if req.Context.Workspace == "" {
		return fmt.Errorf("%s: workspace is required", req.Project)
	}
	if err := req.Outputs.Validate(e.Lifecycle); err != nil {
		return fmt.Errorf("%s: %w", req.Project, err)
	}
	return nil
}

func (e *Engine) logger() log.Logger {
	if e.Logger == nil {
		return log.NewNopLogger()
	}
	return log.With(e.Logger, "component", "engine")
}

func (e *Engine) newID() string {
	if e.NewID == nil {
		return ulid.Make().String()
	}
	return e.NewID()
}

// lookup returns the usable stored record or nil. Errors and unusable records
// count as a miss. An unusable record is replaced by the next save.
func (s *Session) lookup(ctx context.Context) *CacheRecord {
	e, req := s.engine, s.req
	rec, err := e.Store.Find(ctx, req.Project, s.result.Checksum)
	if err != nil {
		level.Warn(s.logger).Log("msg", "Cannot lookup build in cache, building without cache", "err", err)
		e.Metrics.lookup(lookupError)
		s.record(trace.Event{Kind: trace.EventLookupFailed})
		return nil
	}
	if rec != nil && (rec.Project != req.Project || rec.Checksum != s.result.Checksum) {
		err = fmt.Errorf("%w: stored under %s/%s", ErrInvalidRecord, rec.Project, rec.Checksum)
	} else if rec != nil {
		err = rec.Validate(e.Lifecycle)
	}
	if err != nil {
		level.Warn(s.logger).Log("msg", "Cached build is not usable, building without cache", "err", err)
		e.Metrics.lookup(lookupError)
		s.record(trace.Event{Kind: trace.EventLookupFailed})
		s.saveMode = SaveReplace
		return nil
	}
	if rec == nil {
		level.Info(s.logger).Log("msg", "Local build was not found by checksum")
		e.Metrics.lookup(lookupMiss)
		s.record(trace.Event{Kind: trace.EventCacheMiss, RequestedPhase: string(req.Phase)})
		return nil
	}
	return rec
}

// restore materializes rec. On failure the session falls back to a full
// build. The save replaces the record only when the failure shows the record
// itself is unusable; a workspace-side failure keeps merging so a lower phase
// never overwrites a higher stored one.
func (s *Session) restore(ctx context.Context, rec *CacheRecord) bool {
	e, req := s.engine, s.req
	kind := trace.EventFullRestore
	if s.state == StatePartialRestore {
		kind = trace.EventPartialRestore
	}

	m, err := e.Store.Materialize(ctx, rec, req.Context.Workspace)
	if err != nil {
		level.Warn(s.logger).Log("msg", "Cannot restore project artifacts, continuing with non cached build", "err", err)
		e.Metrics.restored(0, true)
		s.record(trace.Event{
			Kind:           trace.EventRestoreFailed,
			CachedPhase:    string(rec.HighestPhase),
			RequestedPhase: string(req.Phase),
		})
		// A transition out of a restore state into FULL_BUILD is always legal.
		_ = s.transition(StateFullBuild)
		if recordUnusable(err) {
			s.saveMode = SaveReplace
		}
		s.result.Outcome = OutcomeFullBuild
		s.result.RestoreFailed = true
		s.result.CachedPhase = lifecycle.None
		s.result.Record = nil
		s.result.StorageLocation = ""
		return false
	}

	e.Metrics.restored(m.Written, false)
	s.result.RestoredFiles = m.Files
	s.record(trace.Event{
		Kind:           kind,
		CachedPhase:    string(rec.HighestPhase),
		RequestedPhase: string(req.Phase),
		Location:       rec.StorageLocation,
		Artifacts:      m.Files,
	})
	return true
}

func recordUnusable(err error) bool {
	return errors.Is(err, ErrBlobNotFound) ||
		errors.Is(err, ErrDigestMismatch) ||
		errors.Is(err, ErrInvalidRecord)
}

// State returns the current protocol state.
func (s *Session) State() State { return s.state }

// Decisions returns the skip/execute decision of every unit of the request,
// in phase order.
func (s *Session) Decisions() []Decision {
	return append([]Decision(nil), s.result.Decisions...)
}

// Result returns the result collected so far.
func (s *Session) Result() *BuildResult { return s.result }

// Execute runs every unit marked for execution, in phase order. It stops at
// the first failure or when ctx is done; the record is then left untouched.
func (s *Session) Execute(ctx context.Context, exec UnitExecutor) error {
	if err := s.transition(StateExecuting); err != nil {
		return err
	}
	e := s.engine
	for _, d := range s.result.Decisions {
		id := d.Unit.ID()
		e.Metrics.decision(d.Action)

		if d.Action == ActionSkip {
			level.Info(s.logger).Log("msg", "Skipping plugin execution (cached): "+d.Unit.Qualifier(), "unit", id)
			s.result.Skipped = append(s.result.Skipped, id)
			s.record(trace.Event{Kind: trace.EventUnitSkipped, UnitID: string(id)})
			continue
		}

		if err := ctx.Err(); err != nil {
			return s.fail(fmt.Errorf("building %s: %w", s.req.Project, err))
		}
		level.Debug(s.logger).Log("msg", "executing unit", "unit", id, "phase", d.Unit.Phase, "reason", d.Reason)
		if err := exec.ExecuteUnit(ctx, d.Unit); err != nil {
			s.record(trace.Event{Kind: trace.EventUnitFailed, UnitID: string(id)})
			return s.fail(&UnitError{Unit: id, Err: err})
		}
		s.result.Executed = append(s.result.Executed, id)
		s.record(trace.Event{Kind: trace.EventUnitExecuted, UnitID: string(id)})
	}
	return nil
}

// Finish saves the extended record and completes the session. A full restore
// completes without saving. A failed save is reported in the result only.
func (s *Session) Finish(ctx context.Context) (*BuildResult, error) {
	if s.state != StateExecuting {
		return nil, fmt.Errorf("%w: finish from %s", ErrInvalidTransition, s.state)
	}
	if s.result.Outcome == OutcomeFullRestore {
		if err := s.transition(StateDone); err != nil {
			return nil, err
		}
		return s.done(), nil
	}
	if err := s.transition(StateSaving); err != nil {
		return nil, err
	}
	s.save(ctx)
	if err := s.transition(StateDone); err != nil {
		return nil, err
	}
	return s.done(), nil
}

func (s *Session) save(ctx context.Context) {
	e, req := s.engine, s.req

	captured, err := NewHarvester(req.Context.Workspace, e.Lifecycle).Harvest(req.Outputs, req.Phase)
	if err != nil {
		s.saveFailed(fmt.Errorf("collecting outputs: %w", err))
		return
	}
	for _, p := range captured.Missing {
		level.Warn(s.logger).Log("msg", "declared artifact was not produced", "path", p)
	}

	var satisfied []lifecycle.UnitID
	for _, u := range req.Binding.UnitsUpTo(req.Phase) {
		if u.Cacheable {
			satisfied = append(satisfied, u.ID())
		}
	}
	rec := captured.Record(req.Project, s.result.Checksum, req.Phase, satisfied)
	rec.BuildID = s.result.BuildID

	stored, err := e.Store.Save(ctx, rec, captured.Blobs, s.saveMode)
	if err != nil {
		s.saveFailed(err)
		return
	}

	e.Metrics.save(saveResultOK)
	s.result.Saved = true
	s.result.Record = stored
	s.result.StorageLocation = stored.StorageLocation
	level.Info(s.logger).Log("msg", "Saved Build to local file: "+stored.StorageLocation,
		"highest_phase", stored.HighestPhase, "mode", s.saveMode)

	files := stored.Files()
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	s.record(trace.Event{
		Kind:           trace.EventSaved,
		CachedPhase:    string(stored.HighestPhase),
		RequestedPhase: string(req.Phase),
		Location:       stored.StorageLocation,
		Artifacts:      paths,
	})
}

func (s *Session) saveFailed(err error) {
	level.Warn(s.logger).Log("msg", "Cannot save project in cache, the build result stands", "err", err)
	s.engine.Metrics.save(saveResultFailure)
	s.result.SaveErr = err
	s.record(trace.Event{Kind: trace.EventSaveFailed, RequestedPhase: string(s.req.Phase)})
}

func (s *Session) done() *BuildResult {
	s.result.Duration = time.Since(s.start)
	s.engine.Metrics.observeBuild(s.result.Outcome, s.result.Duration.Seconds())
	level.Debug(s.logger).Log("msg", "build finished", "outcome", s.result.Outcome, "executed", len(s.result.Executed),
		"skipped", len(s.result.Skipped), "duration", s.result.Duration)
	return s.result
}

func (s *Session) fail(err error) error {
	s.state = StateFailed
	level.Error(s.logger).Log("msg", "build failed, cache not extended", "err", err)
	return err
}

func (s *Session) transition(to State) error {
	if !canTransition(s.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
	}
	s.state = to
	return nil
}

func (s *Session) record(ev trace.Event) {
	ev.Project = s.req.Project.GA()
	ev.Checksum = s.result.Checksum.String()
	trace.SafeRecord(s.engine.Trace, ev)
}
