// Package engine is the race-timing core. A single goroutine owns all
// race state (flag, clock, entrants, tag index, limits) and applies
// commands one at a time, so concurrent ingest and operator calls are
// serialized without exposing locks. The race clock is the canonical
// time domain for every per-entrant value; wall time is used only for
// journal stamps and the frozen-result header.
package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hybridsix/chronocore/model"
)

// Error kinds surfaced by engine commands. Ingestion soft-failures are
// reasons in the IngestResult envelope, never errors.
var (
	ErrInvalidFlag     = errors.New("engine: invalid flag")
	ErrInvalidEntrant  = errors.New("engine: invalid entrant")
	ErrInvalidMode     = errors.New("engine: invalid race mode")
	ErrEntrantNotFound = errors.New("engine: entrant not found")
	ErrTagConflict     = errors.New("engine: tag already held by an enabled entrant")
	ErrStateViolation  = errors.New("engine: operation not valid in this race state")
	ErrEngineClosed    = errors.New("engine: closed")
)

// Journal receives durable records from the engine. Put must admit the
// record quickly (batched behind the scenes); Checkpoint may block for
// one bounded store write. A nil Journal disables persistence.
type Journal interface {
	Put(rec model.Record)
	Checkpoint(cp model.Checkpoint)
}

// Options configures a new Engine. The zero value is usable for tests:
// no journal, no modes, real clocks.
type Options struct {
	// Modes is the race mode catalog; Load resolves race types against it.
	Modes map[string]model.Mode

	// MinLapS / MinLapDupS are the global lap thresholds in seconds,
	// applied when the mode does not override them.
	MinLapS    float64
	MinLapDupS float64

	// PitTiming re-routes track passes through Route as a defense in
	// depth when the caller did not already classify the device.
	PitTiming bool
	// Route maps a device id to its logical source, normally the
	// decoder router's Route method. Ignored when nil.
	Route func(deviceID string) model.Source

	// AutoProvisional synthesizes "Unknown XXXX" entrants for unknown
	// tags, up to ProvisionalCap per race.
	AutoProvisional bool
	// ProvisionalCap bounds synthesized entrants. Defaults to 50.
	ProvisionalCap int

	// Journal receives records and checkpoints; nil disables both.
	Journal Journal
	// CheckpointEvery is the wall-clock checkpoint cadence, driven off
	// accepted pass traffic. Defaults to 15s.
	CheckpointEvery time.Duration

	// OnFreeze is invoked once per race, synchronously from the engine
	// goroutine, at the moment the race becomes final.
	OnFreeze func(model.FinalState)

	// EventLabel / SessionLabel are stamped onto snapshots and carried
	// into frozen results.
	EventLabel   string
	SessionLabel string

	// NowMono returns a monotonic clock reading in milliseconds. Tests
	// inject a fake; the default derives from the process start.
	NowMono func() int64
	// NowWall returns wall time for journal stamps and freeze headers.
	NowWall func() time.Time

	Log zerolog.Logger

	// QueueDepth bounds the command channel. Defaults to 64.
	QueueDepth int
}

// Engine is the race-timing actor. All exported methods are safe for
// concurrent use and synchronous: they return once the command has been
// applied by the state-owning goroutine.
type Engine struct {
	opts Options
	log  zerolog.Logger

	cmds chan func()
	quit chan struct{}
	done chan struct{}

	closeOnce sync.Once

	// st is owned by the loop goroutine; command closures are the only
	// code that touches it.
	st *raceState
}

var processStart = time.Now()

// New starts the engine goroutine and returns a ready engine in the
// pre-race state. Close releases it.
func New(opts Options) *Engine {
	if opts.MinLapS <= 0 {
		opts.MinLapS = 5.0
	}
	if opts.MinLapDupS <= 0 {
		opts.MinLapDupS = 1.0
	}
	if opts.ProvisionalCap <= 0 {
		opts.ProvisionalCap = 50
	}
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = 15 * time.Second
	}
	if opts.NowMono == nil {
		opts.NowMono = func() int64 { return time.Since(processStart).Milliseconds() }
	}
	if opts.NowWall == nil {
		opts.NowWall = time.Now
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 64
	}

	e := &Engine{
		opts: opts,
		log:  opts.Log.With().Str("comp", "engine").Logger(),
		cmds: make(chan func(), opts.QueueDepth),
		quit: make(chan struct{}),
		done: make(chan struct{}),
		st:   newRaceState(),
	}
	go e.loop()
	return e
}

func (e *Engine) loop() {
	defer close(e.done)
	for {
		select {
		case fn := <-e.cmds:
			fn()
		case <-e.quit:
			return
		}
	}
}

// do runs fn on the engine goroutine and waits for it.
func (e *Engine) do(fn func()) error {
	ran := make(chan struct{})
	wrapped := func() {
		defer close(ran)
		fn()
	}
	select {
	case e.cmds <- wrapped:
	case <-e.quit:
		return ErrEngineClosed
	}
	select {
	case <-ran:
		return nil
	case <-e.done:
		// The loop may have executed fn just before exiting.
		select {
		case <-ran:
			return nil
		default:
			return ErrEngineClosed
		}
	}
}

// Close stops the engine goroutine. Pending commands are abandoned and
// report ErrEngineClosed. The journal is not flushed here; callers own
// that ordering.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() { close(e.quit) })
	<-e.done
	return nil
}

// Reset returns the engine to the pre-race state: no race, no entrants,
// clock at zero, limits cleared.
func (e *Engine) Reset() error {
	return e.do(func() {
		e.st = newRaceState()
		e.log.Info().Msg("engine reset")
	})
}

// Load installs a race: roster, race type (mode) and per-session
// overrides. The previous race state is discarded. Fails with
// ErrInvalidEntrant, ErrInvalidMode or ErrTagConflict; on success the
// race is in flag "pre" with the clock at zero.
func (e *Engine) Load(raceID, raceType string, entrants []model.EntrantSpec, session *model.SessionConfig) error {
	var err error
	if doErr := e.do(func() { err = e.load(raceID, raceType, entrants, session) }); doErr != nil {
		return doErr
	}
	return err
}

// SetFlag applies an operator flag change by name. The green edge arms
// the race clock; checkered ends the race (subject to the soft-end
// window). Returns ErrInvalidFlag or ErrStateViolation.
func (e *Engine) SetFlag(name string) error {
	var err error
	if doErr := e.do(func() { err = e.setFlag(name) }); doErr != nil {
		return doErr
	}
	return err
}

// IngestPass runs one normalized pass through the lap/pit pipeline and
// reports the outcome. Soft failures (unknown tag, dup, min-lap, pit
// events, post-checkered crossings) come back as reasons, not errors.
func (e *Engine) IngestPass(p model.Pass) (IngestResult, error) {
	var res IngestResult
	if doErr := e.do(func() { res = e.ingest(p) }); doErr != nil {
		return IngestResult{}, doErr
	}
	return res, nil
}

// UpdateEntrantEnable enables or disables a roster row and rebuilds the
// tag index. Re-enabling an entrant whose tag is now held by another
// enabled entrant fails with ErrTagConflict.
func (e *Engine) UpdateEntrantEnable(id int64, enabled bool) error {
	var err error
	if doErr := e.do(func() { err = e.updateEnable(id, enabled) }); doErr != nil {
		return doErr
	}
	return err
}

// UpdateEntrantStatus sets an entrant's classification status.
func (e *Engine) UpdateEntrantStatus(id int64, status model.Status) error {
	var err error
	if doErr := e.do(func() { err = e.updateStatus(id, status) }); doErr != nil {
		return doErr
	}
	return err
}

// AssignTag binds a transponder tag to an entrant (empty clears it) and
// rebuilds the tag index. Fails with ErrTagConflict when another
// enabled entrant holds the tag, or ErrStateViolation on a frozen race.
func (e *Engine) AssignTag(id int64, tag string) error {
	var err error
	if doErr := e.do(func() { err = e.assignTag(id, tag) }); doErr != nil {
		return doErr
	}
	return err
}

// Snapshot advances the clock, applies any automatic flag transitions
// that are due, and returns a copied view of the race.
func (e *Engine) Snapshot() (model.Snapshot, error) {
	var snap model.Snapshot
	if doErr := e.do(func() {
		e.tick()
		snap = e.buildSnapshot()
	}); doErr != nil {
		return model.Snapshot{}, doErr
	}
	return snap, nil
}

// SetSimActive marks snapshots as simulator-driven. Observability only.
func (e *Engine) SetSimActive(active bool, label string) error {
	return e.do(func() {
		e.st.simActive = active
		e.st.simLabel = label
	})
}

// CheckpointNow writes a full-state checkpoint immediately, regardless
// of the cadence. No-op without a journal or a loaded race.
func (e *Engine) CheckpointNow() error {
	return e.do(func() {
		if e.opts.Journal == nil || e.st.raceID == "" {
			return
		}
		e.checkpointNow(e.opts.NowWall())
	})
}

// RequestCheckpoint writes a full-state checkpoint only if the cadence
// has elapsed since the last one. The journal's post-flush hook calls
// this so fsync deployments keep durable state close to the log
// without checkpointing on every batch.
func (e *Engine) RequestCheckpoint() error {
	return e.do(func() {
		if e.opts.Journal == nil || e.st.raceID == "" {
			return
		}
		e.maybeCheckpoint()
	})
}

// Restore rebuilds race state from a checkpoint blob and re-applies the
// journal tail recorded after it. The engine resumes paused unless the
// race was already final or inside its soft-end window.
func (e *Engine) Restore(state []byte, recs []model.Record) error {
	var err error
	if doErr := e.do(func() { err = e.restore(state, recs) }); doErr != nil {
		return doErr
	}
	return err
}
