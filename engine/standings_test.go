package engine

import (
	"testing"
	"time"

	"github.com/hybridsix/chronocore/model"
)

func TestStandingLessOrdering(t *testing.T) {
	tests := []struct {
		name string
		a, b model.StandingRow
		want bool // a before b
	}{
		{
			"more laps first",
			model.StandingRow{EntrantID: 2, Laps: 5},
			model.StandingRow{EntrantID: 1, Laps: 4, BestMs: 1},
			true,
		},
		{
			"finish order beats best lap",
			model.StandingRow{EntrantID: 1, Laps: 5, FinishOrder: 1, BestMs: 100_000},
			model.StandingRow{EntrantID: 2, Laps: 5, FinishOrder: 2, BestMs: 90_000},
			true,
		},
		{
			"finish order ignored unless both set",
			model.StandingRow{EntrantID: 1, Laps: 5, FinishOrder: 1, BestMs: 100_000},
			model.StandingRow{EntrantID: 2, Laps: 5, BestMs: 90_000},
			false,
		},
		{
			"best lap ascending",
			model.StandingRow{EntrantID: 2, Laps: 3, BestMs: 58_000},
			model.StandingRow{EntrantID: 1, Laps: 3, BestMs: 60_000},
			true,
		},
		{
			"no best sorts last",
			model.StandingRow{EntrantID: 1, Laps: 0, BestMs: 95_000},
			model.StandingRow{EntrantID: 2, Laps: 0},
			true,
		},
		{
			"last lap breaks best tie",
			model.StandingRow{EntrantID: 2, Laps: 3, BestMs: 60_000, LastMs: 61_000},
			model.StandingRow{EntrantID: 1, Laps: 3, BestMs: 60_000, LastMs: 62_000},
			true,
		},
		{
			"entrant id is the final tiebreak",
			model.StandingRow{EntrantID: 1, Laps: 3, BestMs: 60_000, LastMs: 61_000},
			model.StandingRow{EntrantID: 2, Laps: 3, BestMs: 60_000, LastMs: 61_000},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := standingLess(tt.a, tt.b); got != tt.want {
				t.Errorf("standingLess = %v, want %v", got, tt.want)
			}
			// Strict weak ordering: a<b and b<a cannot both hold.
			if tt.want && standingLess(tt.b, tt.a) {
				t.Errorf("ordering not antisymmetric")
			}
		})
	}
}

func TestStandingsGapAndDeficit(t *testing.T) {
	e, clk := newTestEngine(t, Options{})
	mustLoad(t, e, "race-1", "practice")
	mustFlag(t, e, "green")

	for _, tag := range []string{"1111111", "2222222", "3333333"} {
		ingest(t, e, model.Pass{Tag: tag})
	}

	// Entrant 1: laps of 55s and 60s. Entrant 2: laps of 60s and 58s.
	// Entrant 3: a single 65s lap.
	clk.advance(55 * time.Second)
	ingest(t, e, model.Pass{Tag: "1111111"})
	clk.advance(5 * time.Second)
	ingest(t, e, model.Pass{Tag: "2222222"})
	clk.advance(5 * time.Second)
	ingest(t, e, model.Pass{Tag: "3333333"})
	clk.advance(50 * time.Second)
	ingest(t, e, model.Pass{Tag: "1111111"})
	clk.advance(3 * time.Second)
	ingest(t, e, model.Pass{Tag: "2222222"})

	rows := snap(t, e).Standings
	if len(rows) != 3 {
		t.Fatalf("standings size = %d, want 3", len(rows))
	}

	if rows[0].EntrantID != 1 || rows[0].Position != 1 || rows[0].GapMs != 0 || rows[0].LapDeficit != 0 {
		t.Fatalf("leader row = %+v", rows[0])
	}
	if rows[0].BestMs != 55_000 || rows[0].LastMs != 60_000 {
		t.Errorf("leader best/last = %d/%d, want 55000/60000", rows[0].BestMs, rows[0].LastMs)
	}

	// Entrant 2 is on the lead lap: gap is best-vs-best.
	if rows[1].EntrantID != 2 || rows[1].GapMs != 3_000 || rows[1].LapDeficit != 0 {
		t.Fatalf("second row = %+v, want gap 3000", rows[1])
	}

	// Entrant 3 is a lap down: deficit, no gap.
	if rows[2].EntrantID != 3 || rows[2].LapDeficit != 1 || rows[2].GapMs != 0 {
		t.Fatalf("third row = %+v, want lap deficit 1", rows[2])
	}
}

func TestStandingsSecondsRendering(t *testing.T) {
	e, clk := newTestEngine(t, Options{})
	mustLoad(t, e, "race-1", "practice")
	mustFlag(t, e, "green")

	ingest(t, e, model.Pass{Tag: "1111111"})
	clk.advance(61500 * time.Millisecond)
	ingest(t, e, model.Pass{Tag: "1111111"})

	row := snap(t, e).Standings[0]
	if row.LastMs != 61_500 || row.LastS != 61.5 || row.BestS != 61.5 {
		t.Fatalf("row times = %+v", row)
	}
}
