package results

import (
	"context"
	"fmt"
	"sort"

	"github.com/hybridsix/chronocore/model"
	"github.com/hybridsix/chronocore/store"
)

// gridRow is the builder's working row before ordering is assigned.
type gridRow struct {
	entrantID int64
	bestMs    int64
	brakeOK   bool
	exclude   bool
	demote    bool
}

// BuildGrid computes a starting grid from a frozen qualifying race.
// Verdicts map entrant ids to brake-check outcomes; an entrant absent
// from the map has no verdict and ranks on its fastest lap. The policy
// decides what a failed verdict costs:
//
//	demote          keep the fastest lap, rank behind every passing entrant
//	use_next_valid  rank on the second-fastest lap when one exists
//	exclude         drop the entrant from the grid
//
// Entrants without any frozen laps never appear.
func BuildGrid(ctx context.Context, db *store.DB, raceID string, policy model.GridPolicy, verdicts map[int64]bool) (model.QualifyingGrid, error) {
	exists, err := db.HasResult(ctx, raceID)
	if err != nil {
		return model.QualifyingGrid{}, err
	}
	if !exists {
		return model.QualifyingGrid{}, fmt.Errorf("results: race %s is not frozen, cannot build a grid", raceID)
	}

	laps, err := db.ResultLaps(ctx, raceID)
	if err != nil {
		return model.QualifyingGrid{}, err
	}

	rows := make([]gridRow, 0, len(laps))
	for id, times := range laps {
		if len(times) == 0 {
			continue
		}
		sorted := append([]int64(nil), times...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		verdict, hasVerdict := verdicts[id]
		failed := hasVerdict && !verdict

		best := sorted[0]
		if failed && policy == model.PolicyUseNextValid && len(sorted) >= 2 {
			best = sorted[1]
		}
		rows = append(rows, gridRow{
			entrantID: id,
			bestMs:    best,
			brakeOK:   hasVerdict && verdict,
			exclude:   failed && policy == model.PolicyExclude,
			demote:    failed && policy == model.PolicyDemote,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.exclude != b.exclude {
			return !a.exclude
		}
		if a.demote != b.demote {
			return !a.demote
		}
		if a.bestMs != b.bestMs {
			return a.bestMs < b.bestMs
		}
		return a.entrantID < b.entrantID
	})

	grid := model.QualifyingGrid{SourceHeatID: raceID, Policy: policy}
	for _, r := range rows {
		if r.exclude {
			continue
		}
		grid.Grid = append(grid.Grid, model.GridEntry{
			EntrantID: r.entrantID,
			BestMs:    r.bestMs,
			BrakeOK:   r.brakeOK,
			Order:     len(grid.Grid) + 1,
		})
	}
	return grid, nil
}

// FreezeGrid builds the grid and persists it to the event config under
// QualifyingKey, replacing any previous grid.
func FreezeGrid(ctx context.Context, db *store.DB, raceID string, policy model.GridPolicy, verdicts map[int64]bool) (model.QualifyingGrid, error) {
	grid, err := BuildGrid(ctx, db, raceID, policy, verdicts)
	if err != nil {
		return model.QualifyingGrid{}, err
	}
	if err := db.PutEventConfig(ctx, QualifyingKey, grid); err != nil {
		return model.QualifyingGrid{}, err
	}
	return grid, nil
}
