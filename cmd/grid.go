package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hybridsix/chronocore/model"
	"github.com/hybridsix/chronocore/results"
	"github.com/hybridsix/chronocore/store"
)

// runGrid builds a starting grid from a frozen qualifying race, stores
// it as the event grid and prints the slots.
func runGrid(cli Config, log zerolog.Logger) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	if cli.RaceID == "" {
		return fmt.Errorf("-grid needs -race (the frozen qualifying race id)")
	}
	policy, ok := model.ParseGridPolicy(cli.Policy)
	if !ok {
		return fmt.Errorf("-policy %q: pick demote, use_next_valid or exclude", cli.Policy)
	}
	verdicts, err := parseVerdicts(cli.Verdicts)
	if err != nil {
		return err
	}

	pers := cfg.App.Engine.Persistence
	if !pers.Enabled || pers.SQLitePath == "" {
		return fmt.Errorf("-grid needs persistence enabled in %s", cli.ConfigPath)
	}
	// Never recreate here: the grid reads results serve wrote earlier.
	db, err := store.Open(pers.SQLitePath, store.Options{Fsync: pers.Fsync})
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	grid, err := results.FreezeGrid(ctx, db, cli.RaceID, policy, verdicts)
	if err != nil {
		return err
	}

	rows := map[int64]model.FrozenStanding{}
	if standings, err := db.ResultStandings(ctx, cli.RaceID); err == nil {
		for _, s := range standings {
			rows[s.EntrantID] = s
		}
	}

	fmt.Printf("starting grid from %s (policy %s, %d slots)\n\n",
		grid.SourceHeatID, grid.Policy, len(grid.Grid))
	for _, slot := range grid.Grid {
		s := rows[slot.EntrantID]
		fmt.Printf("  P%-3d #%-4s %-24s best %9s  brake %s\n",
			slot.Order, s.Number, s.Name, fmtLapMs(slot.BestMs),
			verdictLabel(verdicts, slot.EntrantID))
	}
	log.Info().Str("race_id", grid.SourceHeatID).Str("policy", string(grid.Policy)).
		Int("slots", len(grid.Grid)).Msg("grid frozen")
	return nil
}

// parseVerdicts parses "3=pass,5=fail" pairs. An explicit "unknown"
// verdict is legal and leaves the entrant unset, same as omitting it.
func parseVerdicts(s string) (map[int64]bool, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	verdicts := make(map[int64]bool)
	for _, pair := range strings.Split(s, ",") {
		id, verdict, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found {
			return nil, fmt.Errorf("-verdicts %q: want entrant=pass|fail pairs", pair)
		}
		entrant, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("-verdicts: bad entrant id %q", id)
		}
		v, ok := model.ParseBrakeVerdict(verdict)
		if !ok {
			return nil, fmt.Errorf("-verdicts: bad verdict %q for entrant %d", verdict, entrant)
		}
		if v == model.BrakeUnknown {
			continue
		}
		verdicts[entrant] = v == model.BrakePass
	}
	return verdicts, nil
}

// fmtLapMs renders a lap time the way a timing screen does.
func fmtLapMs(ms int64) string {
	switch {
	case ms <= 0:
		return "-"
	case ms < 60_000:
		return fmt.Sprintf("%.3f", float64(ms)/1000)
	default:
		return fmt.Sprintf("%d:%06.3f", ms/60_000, float64(ms%60_000)/1000)
	}
}

func verdictLabel(verdicts map[int64]bool, id int64) string {
	v, ok := verdicts[id]
	switch {
	case !ok:
		return "unknown"
	case v:
		return "pass"
	default:
		return "FAIL"
	}
}
