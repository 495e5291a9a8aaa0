package engine

import (
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hybridsix/chronocore/model"
)

// tailAfter filters records the way recovery does: everything stamped
// at or after the checkpoint.
func tailAfter(recs []model.Record, cp model.Checkpoint) []model.Record {
	var out []model.Record
	for _, rec := range recs {
		if rec.WallMs >= cp.WallMs {
			out = append(out, rec)
		}
	}
	return out
}

func TestLoadWritesImmediateCheckpoint(t *testing.T) {
	j := &memJournal{}
	e, _ := newTestEngine(t, Options{Journal: j})
	mustLoad(t, e, "race-1", "practice")

	cp, ok := j.lastCheckpoint()
	if !ok {
		t.Fatal("no checkpoint after load")
	}
	if cp.RaceID != "race-1" || cp.ClockMs != 0 {
		t.Fatalf("checkpoint = %+v", cp)
	}
	var dump stateDump
	if err := json.Unmarshal(cp.State, &dump); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if dump.RaceID != "race-1" || dump.Flag != model.FlagPre || len(dump.Entrants) != 3 {
		t.Fatalf("state dump = %+v", dump)
	}
}

func TestCheckpointCadence(t *testing.T) {
	j := &memJournal{}
	e, clk := newTestEngine(t, Options{Journal: j, CheckpointEvery: 10 * time.Second})
	mustLoad(t, e, "race-1", "practice")
	mustFlag(t, e, "green")

	ingest(t, e, model.Pass{Tag: "1111111"})
	j.mu.Lock()
	after := len(j.cps)
	j.mu.Unlock()
	if after != 1 {
		t.Fatalf("checkpoints after first pass = %d, want 1 (load only)", after)
	}

	clk.advance(11 * time.Second)
	ingest(t, e, model.Pass{Tag: "1111111"})
	j.mu.Lock()
	after = len(j.cps)
	j.mu.Unlock()
	if after != 2 {
		t.Fatalf("checkpoints after cadence = %d, want 2", after)
	}
}

func TestRestoreRoundtrip(t *testing.T) {
	j := &memJournal{}
	e1, clk1 := newTestEngine(t, Options{Journal: j})
	mustLoad(t, e1, "race-1", "practice")
	mustFlag(t, e1, "green")

	ingest(t, e1, model.Pass{Tag: "1111111"})
	ingest(t, e1, model.Pass{Tag: "2222222"})
	clk1.advance(60 * time.Second)
	ingest(t, e1, model.Pass{Tag: "1111111"})
	clk1.advance(2 * time.Second)
	ingest(t, e1, model.Pass{Tag: "2222222"})
	clk1.advance(58 * time.Second)
	ingest(t, e1, model.Pass{Tag: "1111111"})
	want := snap(t, e1)

	cp, ok := j.lastCheckpoint()
	if !ok {
		t.Fatal("no checkpoint")
	}

	e2, clk2 := newTestEngine(t, Options{})
	if err := e2.Restore(cp.State, tailAfter(j.allRecords(), cp)); err != nil {
		t.Fatalf("restore: %v", err)
	}

	got := snap(t, e2)
	if got.RaceID != "race-1" || got.ClockMs != want.ClockMs {
		t.Fatalf("restored clock = %d, want %d", got.ClockMs, want.ClockMs)
	}
	// Paused on resume: the flag survives but the clock waits for an
	// operator green.
	if got.Running || got.Flag != model.FlagGreen {
		t.Fatalf("restored posture = flag %s running %v, want paused green", got.Flag, got.Running)
	}
	if len(got.Standings) != len(want.Standings) {
		t.Fatalf("standings size = %d, want %d", len(got.Standings), len(want.Standings))
	}
	for i := range want.Standings {
		w, g := want.Standings[i], got.Standings[i]
		if g.EntrantID != w.EntrantID || g.Laps != w.Laps || g.BestMs != w.BestMs || g.LastMs != w.LastMs {
			t.Fatalf("standings row %d = %+v, want %+v", i, g, w)
		}
	}

	// Racing continues after an operator green.
	mustFlag(t, e2, "green")
	clk2.advance(61 * time.Second)
	res := ingest(t, e2, model.Pass{Tag: "1111111"})
	if !res.LapAdded || res.Laps != 3 {
		t.Fatalf("post-resume lap = %+v, want lap 3", res)
	}
}

func TestRestoreFromMidRaceCheckpoint(t *testing.T) {
	j := &memJournal{}
	e1, clk1 := newTestEngine(t, Options{Journal: j})
	mustLoad(t, e1, "race-1", "practice")
	mustFlag(t, e1, "green")

	ingest(t, e1, model.Pass{Tag: "1111111"})
	clk1.advance(60 * time.Second)
	ingest(t, e1, model.Pass{Tag: "1111111"})

	// Checkpoint here, then more racing lands in the journal tail.
	if err := e1.CheckpointNow(); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	cp, _ := j.lastCheckpoint()

	clk1.advance(55 * time.Second)
	ingest(t, e1, model.Pass{Tag: "1111111"})
	want := snap(t, e1)

	e2, _ := newTestEngine(t, Options{})
	if err := e2.Restore(cp.State, tailAfter(j.allRecords(), cp)); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got := snap(t, e2)
	row := got.Standings[0]
	if row.EntrantID != 1 || row.Laps != 2 || row.LastMs != 55_000 {
		t.Fatalf("restored row = %+v, want lap 2 at 55000", row)
	}
	if got.ClockMs != want.ClockMs {
		t.Fatalf("restored clock = %d, want %d", got.ClockMs, want.ClockMs)
	}
}

func TestRestoreFrozenRace(t *testing.T) {
	j := &memJournal{}
	e1, clk1 := newTestEngine(t, Options{Journal: j})
	mustLoad(t, e1, "race-1", "practice")
	mustFlag(t, e1, "green")
	ingest(t, e1, model.Pass{Tag: "1111111"})
	clk1.advance(60 * time.Second)
	ingest(t, e1, model.Pass{Tag: "1111111"})
	mustFlag(t, e1, "checkered")

	cp, _ := j.lastCheckpoint()

	var freezes atomic.Int32
	e2, _ := newTestEngine(t, Options{OnFreeze: func(model.FinalState) { freezes.Add(1) }})
	if err := e2.Restore(cp.State, tailAfter(j.allRecords(), cp)); err != nil {
		t.Fatalf("restore: %v", err)
	}

	s := snap(t, e2)
	if s.Flag != model.FlagCheckered || s.Running {
		t.Fatalf("restored frozen race = %+v", s)
	}
	if freezes.Load() != 1 {
		t.Fatalf("OnFreeze on restore = %d, want 1 (downstream dedupes)", freezes.Load())
	}
	if err := e2.SetFlag("green"); !errors.Is(err, ErrStateViolation) {
		t.Fatalf("green on restored frozen race = %v, want ErrStateViolation", err)
	}
}

func TestRestoreReopensSoftEndWindow(t *testing.T) {
	j := &memJournal{}
	e1, clk1 := newTestEngine(t, Options{Journal: j})
	mustLoad(t, e1, "race-1", "endurance")
	mustFlag(t, e1, "green")
	ingest(t, e1, model.Pass{Tag: "1111111"})
	ingest(t, e1, model.Pass{Tag: "2222222"})

	clk1.advance(180 * time.Second)
	snap(t, e1) // auto-checkered, window opens
	clk1.advance(15 * time.Second)
	ingest(t, e1, model.Pass{Tag: "1111111"}) // finish_order 1 at 195s

	cp, _ := j.lastCheckpoint()

	var final model.FinalState
	var freezes atomic.Int32
	e2, clk2 := newTestEngine(t, Options{
		OnFreeze: func(fs model.FinalState) {
			freezes.Add(1)
			final = fs
		},
	})
	if err := e2.Restore(cp.State, tailAfter(j.allRecords(), cp)); err != nil {
		t.Fatalf("restore: %v", err)
	}

	// The finishing window is still open, so the clock keeps running
	// without operator input.
	s := snap(t, e2)
	if s.Flag != model.FlagCheckered || !s.Running || !s.InSoftEnd {
		t.Fatalf("restored window = %+v, want running checkered", s)
	}
	if freezes.Load() != 0 {
		t.Fatal("froze during restore with the window still open")
	}

	// A straggler can still finish.
	clk2.advance(5 * time.Second)
	res := ingest(t, e2, model.Pass{Tag: "2222222"})
	if !res.LapAdded || res.FinishOrder != 2 {
		t.Fatalf("straggler crossing = %+v, want finish_order 2", res)
	}

	// And the window still times out on its own.
	clk2.advance(15 * time.Second)
	s = snap(t, e2)
	if s.Running || s.InSoftEnd {
		t.Fatalf("window did not close: %+v", s)
	}
	if freezes.Load() != 1 || final.CheckeredStartMs != 180_000 {
		t.Fatalf("freeze after restore = %d calls, checkered %d", freezes.Load(), final.CheckeredStartMs)
	}
}

func TestRestoreValidation(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	if err := e.Restore(nil, nil); !errors.Is(err, ErrStateViolation) {
		t.Fatalf("restore without checkpoint = %v, want ErrStateViolation", err)
	}
	if err := e.Restore([]byte("{"), nil); err == nil {
		t.Fatal("restore accepted a corrupt checkpoint")
	}
}
