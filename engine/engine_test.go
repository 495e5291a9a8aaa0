package engine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hybridsix/chronocore/model"
)

// testClock drives both engine clocks from the test goroutine. The
// engine reads it only inside synchronous commands, so plain fields are
// safe.
type testClock struct {
	ms   int64
	wall time.Time
}

func newTestClock() *testClock {
	return &testClock{wall: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) NowMono() int64     { return c.ms }
func (c *testClock) NowWall() time.Time { return c.wall }

func (c *testClock) advance(d time.Duration) {
	c.ms += d.Milliseconds()
	c.wall = c.wall.Add(d)
}

// memJournal collects records and checkpoints in memory.
type memJournal struct {
	mu      sync.Mutex
	records []model.Record
	cps     []model.Checkpoint
}

func (j *memJournal) Put(rec model.Record) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
}

func (j *memJournal) Checkpoint(cp model.Checkpoint) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cps = append(j.cps, cp)
}

func (j *memJournal) recordsOfType(t model.RecordType) []model.Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []model.Record
	for _, rec := range j.records {
		if rec.Type == t {
			out = append(out, rec)
		}
	}
	return out
}

func (j *memJournal) allRecords() []model.Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]model.Record(nil), j.records...)
}

func (j *memJournal) lastCheckpoint() (model.Checkpoint, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.cps) == 0 {
		return model.Checkpoint{}, false
	}
	return j.cps[len(j.cps)-1], true
}

func testModes() map[string]model.Mode {
	return map[string]model.Mode{
		"sprint":    {Limit: model.Limit{Type: model.LimitLaps, Laps: 3}},
		"timed":     {Limit: model.Limit{Type: model.LimitTime, TimeS: 180}},
		"endurance": {Limit: model.Limit{Type: model.LimitTime, TimeS: 180}, SoftEnd: true, SoftEndTimeoutS: 30},
		"practice":  {Limit: model.Limit{Type: model.LimitNone}},
	}
}

func testRoster() []model.EntrantSpec {
	return []model.EntrantSpec{
		{ID: 1, Number: "7", Name: "Alpha", Tag: "1111111"},
		{ID: 2, Number: "12", Name: "Bravo", Tag: "2222222"},
		{ID: 3, Number: "33", Name: "Charlie", Tag: "3333333"},
	}
}

func newTestEngine(t *testing.T, opts Options) (*Engine, *testClock) {
	t.Helper()
	clk := newTestClock()
	opts.NowMono = clk.NowMono
	opts.NowWall = clk.NowWall
	opts.Log = zerolog.Nop()
	if opts.Modes == nil {
		opts.Modes = testModes()
	}
	e := New(opts)
	t.Cleanup(func() { _ = e.Close() })
	return e, clk
}

func mustLoad(t *testing.T, e *Engine, raceID, raceType string) {
	t.Helper()
	if err := e.Load(raceID, raceType, testRoster(), nil); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func mustFlag(t *testing.T, e *Engine, name string) {
	t.Helper()
	if err := e.SetFlag(name); err != nil {
		t.Fatalf("set flag %s: %v", name, err)
	}
}

func ingest(t *testing.T, e *Engine, p model.Pass) IngestResult {
	t.Helper()
	res, err := e.IngestPass(p)
	if err != nil {
		t.Fatalf("ingest %+v: %v", p, err)
	}
	return res
}

func snap(t *testing.T, e *Engine) model.Snapshot {
	t.Helper()
	s, err := e.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return s
}

func TestBaselineThenLapCredit(t *testing.T) {
	e, clk := newTestEngine(t, Options{})
	mustLoad(t, e, "race-1", "practice")
	mustFlag(t, e, "green")

	res := ingest(t, e, model.Pass{Tag: "1111111"})
	if res.LapAdded || res.Reason != ReasonBaseline {
		t.Fatalf("first pass = %+v, want baseline", res)
	}

	clk.advance(90 * time.Second)
	res = ingest(t, e, model.Pass{Tag: "1111111"})
	if !res.LapAdded || res.Laps != 1 || res.LastMs != 90_000 || res.BestMs != 90_000 {
		t.Fatalf("second pass = %+v, want lap 1 at 90000ms", res)
	}
}

func TestDupAndMinLapSlideBaseline(t *testing.T) {
	e, clk := newTestEngine(t, Options{MinLapS: 5, MinLapDupS: 1})
	mustLoad(t, e, "race-1", "practice")
	mustFlag(t, e, "green")

	ingest(t, e, model.Pass{Tag: "1111111"})

	clk.advance(500 * time.Millisecond)
	res := ingest(t, e, model.Pass{Tag: "1111111"})
	if res.LapAdded || res.Reason != ReasonDup {
		t.Fatalf("0.5s crossing = %+v, want dup", res)
	}

	clk.advance(3 * time.Second)
	res = ingest(t, e, model.Pass{Tag: "1111111"})
	if res.LapAdded || res.Reason != ReasonMinLap {
		t.Fatalf("3s crossing = %+v, want min_lap", res)
	}

	// The rejected crossings moved the baseline, so the credited lap
	// measures from the min_lap hit, not the original baseline.
	clk.advance(90 * time.Second)
	res = ingest(t, e, model.Pass{Tag: "1111111"})
	if !res.LapAdded || res.LastMs != 90_000 {
		t.Fatalf("lap after rejections = %+v, want 90000ms", res)
	}
}

func TestMinLapBoundaryAccepted(t *testing.T) {
	e, clk := newTestEngine(t, Options{MinLapS: 5, MinLapDupS: 1})
	mustLoad(t, e, "race-1", "practice")
	mustFlag(t, e, "green")

	ingest(t, e, model.Pass{Tag: "1111111"})
	clk.advance(5 * time.Second)
	res := ingest(t, e, model.Pass{Tag: "1111111"})
	if !res.LapAdded || res.LastMs != 5_000 {
		t.Fatalf("exact-threshold lap = %+v, want credited at 5000ms", res)
	}
}

func TestLapsAccumulatePerEntrant(t *testing.T) {
	e, clk := newTestEngine(t, Options{})
	mustLoad(t, e, "race-1", "practice")
	mustFlag(t, e, "green")

	ingest(t, e, model.Pass{Tag: "1111111"})
	ingest(t, e, model.Pass{Tag: "2222222"})

	laps := []time.Duration{62 * time.Second, 58 * time.Second, 65 * time.Second}
	for _, d := range laps {
		clk.advance(d)
		ingest(t, e, model.Pass{Tag: "1111111"})
	}

	res := ingest(t, e, model.Pass{Tag: "2222222"})
	if !res.LapAdded || res.Laps != 1 {
		t.Fatalf("entrant 2 = %+v, want its own lap 1", res)
	}

	s := snap(t, e)
	if s.Standings[0].EntrantID != 1 || s.Standings[0].Laps != 3 {
		t.Fatalf("leader = %+v, want entrant 1 with 3 laps", s.Standings[0])
	}
	if s.Standings[0].BestMs != 58_000 || s.Standings[0].LastMs != 65_000 {
		t.Errorf("leader best/last = %d/%d, want 58000/65000", s.Standings[0].BestMs, s.Standings[0].LastMs)
	}
}

func TestUnknownTagWithoutProvisioning(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	mustLoad(t, e, "race-1", "practice")
	mustFlag(t, e, "green")

	res := ingest(t, e, model.Pass{Tag: "9999999"})
	if res.Reason != ReasonUnknownTag || res.EntrantID != 0 {
		t.Fatalf("unknown tag = %+v, want unknown_tag", res)
	}
}

func TestProvisionalEntrants(t *testing.T) {
	e, clk := newTestEngine(t, Options{AutoProvisional: true, ProvisionalCap: 2})
	mustLoad(t, e, "race-1", "practice")
	mustFlag(t, e, "green")

	res := ingest(t, e, model.Pass{Tag: "9998887"})
	if res.Reason != ReasonBaseline || res.EntrantID == 0 {
		t.Fatalf("first unknown = %+v, want baseline on a provisional entrant", res)
	}
	provisionalID := res.EntrantID

	clk.advance(30 * time.Second)
	res = ingest(t, e, model.Pass{Tag: "9998887"})
	if !res.LapAdded || res.EntrantID != provisionalID {
		t.Fatalf("provisional lap = %+v, want lap on entrant %d", res, provisionalID)
	}

	s := snap(t, e)
	var name string
	for _, row := range s.Standings {
		if row.EntrantID == provisionalID {
			name = row.Name
		}
	}
	if name != "Unknown 8887" {
		t.Errorf("provisional name = %q, want Unknown 8887", name)
	}

	ingest(t, e, model.Pass{Tag: "8887776"})
	res = ingest(t, e, model.Pass{Tag: "7776665"})
	if res.Reason != ReasonProvisionalCap {
		t.Fatalf("third unknown = %+v, want provisional_cap", res)
	}
}

func TestDisabledEntrantIgnored(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	mustLoad(t, e, "race-1", "practice")
	mustFlag(t, e, "green")

	if err := e.UpdateEntrantEnable(1, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	// The tag left the index with the entrant, so the pass is now an
	// unknown tag, not a disabled hit.
	res := ingest(t, e, model.Pass{Tag: "1111111"})
	if res.Reason != ReasonUnknownTag {
		t.Fatalf("pass for disabled entrant = %+v, want unknown_tag", res)
	}

	s := snap(t, e)
	for _, row := range s.Standings {
		if row.EntrantID == 1 {
			t.Fatalf("disabled entrant still in standings: %+v", row)
		}
	}
	if len(s.Standings) != 2 {
		t.Errorf("standings size = %d, want 2", len(s.Standings))
	}
}

func TestIngestWithoutRace(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	res := ingest(t, e, model.Pass{Tag: "1111111"})
	if res.Reason != ReasonNoRace {
		t.Fatalf("pass without race = %+v, want no_race", res)
	}
}

func TestPitStintTiming(t *testing.T) {
	e, clk := newTestEngine(t, Options{PitTiming: true})
	mustLoad(t, e, "race-1", "practice")
	mustFlag(t, e, "green")

	ingest(t, e, model.Pass{Tag: "1111111"})

	clk.advance(30 * time.Second)
	res := ingest(t, e, model.Pass{Tag: "1111111", Source: model.SourcePitIn})
	if res.Reason != ReasonPitEvent || res.LapAdded {
		t.Fatalf("pit_in = %+v, want pit_event", res)
	}
	s := snap(t, e)
	if !s.Standings[0].InPit {
		t.Fatalf("entrant not shown in pit: %+v", s.Standings[0])
	}

	clk.advance(20 * time.Second)
	res = ingest(t, e, model.Pass{Tag: "1111111", Source: model.SourcePitOut})
	if res.Reason != ReasonPitEvent {
		t.Fatalf("pit_out = %+v, want pit_event", res)
	}
	s = snap(t, e)
	if s.Standings[0].InPit || s.Standings[0].PitCount != 1 {
		t.Fatalf("after pit_out = %+v, want closed stint, pit_count 1", s.Standings[0])
	}

	// Pit passes never touch the lap baseline: the next track crossing
	// measures from the pre-stop crossing, pit time included.
	clk.advance(40 * time.Second)
	res = ingest(t, e, model.Pass{Tag: "1111111"})
	if !res.LapAdded || res.LastMs != 90_000 {
		t.Fatalf("lap around pit stop = %+v, want 90000ms", res)
	}
}

func TestPitOutWithoutPitIn(t *testing.T) {
	e, _ := newTestEngine(t, Options{PitTiming: true})
	mustLoad(t, e, "race-1", "practice")
	mustFlag(t, e, "green")

	res := ingest(t, e, model.Pass{Tag: "1111111", Source: model.SourcePitOut})
	if res.Reason != ReasonPitEvent {
		t.Fatalf("orphan pit_out = %+v, want pit_event", res)
	}
	if s := snap(t, e); s.Standings[0].PitCount != 0 {
		t.Errorf("orphan pit_out counted a stint: %+v", s.Standings[0])
	}
}

func TestDeviceMapReroutesTrackPass(t *testing.T) {
	route := func(deviceID string) model.Source {
		if deviceID == "pit-loop-1" {
			return model.SourcePitIn
		}
		return model.SourceTrack
	}
	e, _ := newTestEngine(t, Options{PitTiming: true, Route: route})
	mustLoad(t, e, "race-1", "practice")
	mustFlag(t, e, "green")

	res := ingest(t, e, model.Pass{Tag: "1111111", Source: model.SourceTrack, DeviceID: "pit-loop-1"})
	if res.Reason != ReasonPitEvent {
		t.Fatalf("rerouted pass = %+v, want pit_event", res)
	}
	if s := snap(t, e); !s.Standings[0].InPit {
		t.Errorf("reroute did not open a stint: %+v", s.Standings[0])
	}
}

func TestClosedEngineRejectsCommands(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := e.Snapshot(); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("snapshot after close = %v, want ErrEngineClosed", err)
	}
	if err := e.SetFlag("green"); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("set flag after close = %v, want ErrEngineClosed", err)
	}
}

func TestSnapshotWithoutRace(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	s := snap(t, e)
	if s.RaceID != "" || s.Flag != model.FlagPre || s.Running || s.ClockMs != 0 {
		t.Fatalf("empty snapshot = %+v, want pre-race zero state", s)
	}
}

func TestSnapshotCarriesLabels(t *testing.T) {
	e, _ := newTestEngine(t, Options{EventLabel: "Club Night", SessionLabel: "Heat 2"})
	mustLoad(t, e, "race-1", "practice")
	if err := e.SetSimActive(true, "sim-abc123"); err != nil {
		t.Fatalf("set sim: %v", err)
	}
	s := snap(t, e)
	if s.EventLabel != "Club Night" || s.SessionLabel != "Heat 2" {
		t.Errorf("labels = %q/%q", s.EventLabel, s.SessionLabel)
	}
	if !s.SimActive || s.SimLabel != "sim-abc123" {
		t.Errorf("sim marker = %v/%q", s.SimActive, s.SimLabel)
	}
	if s.RaceCode == "" {
		t.Errorf("race code empty")
	}
}
