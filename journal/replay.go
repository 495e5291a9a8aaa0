package journal

import (
	"context"

	"github.com/hybridsix/chronocore/model"
	"github.com/hybridsix/chronocore/store"
)

// Recovered bundles what recovery found for one race: the newest
// checkpoint plus every journal record written at or after it. Records
// the checkpoint already contains replay as no-ops in the engine, so
// the over-inclusive wall-clock cut is safe.
type Recovered struct {
	Checkpoint model.Checkpoint
	Records    []model.Record
}

// Replay loads the recovery bundle for raceID. The second return is
// false when the race has no checkpoint, in which case it cannot be
// restored.
func Replay(ctx context.Context, db *store.DB, raceID string) (Recovered, bool, error) {
	cp, ok, err := db.LatestCheckpoint(ctx, raceID)
	if err != nil || !ok {
		return Recovered{}, false, err
	}
	recs, err := db.EventsSince(ctx, raceID, cp.WallMs)
	if err != nil {
		return Recovered{}, false, err
	}
	return Recovered{Checkpoint: cp, Records: recs}, true, nil
}
