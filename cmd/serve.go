package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	channerics "github.com/niceyeti/channerics/channels"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hybridsix/chronocore/config"
	"github.com/hybridsix/chronocore/decoder"
	"github.com/hybridsix/chronocore/engine"
	"github.com/hybridsix/chronocore/journal"
	"github.com/hybridsix/chronocore/model"
	"github.com/hybridsix/chronocore/results"
	"github.com/hybridsix/chronocore/sim"
	"github.com/hybridsix/chronocore/store"
	"github.com/hybridsix/chronocore/util"
)

// runServe boots the timing core: store, journal, engine, decoder
// feeds, and the optional simulator, then runs until a signal arrives.
func runServe(cli Config, log zerolog.Logger) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	if cli.RaceID != "" && !cli.Resume && cli.Mode == "" {
		return fmt.Errorf("-race needs -mode (one of the modes in %s)", cli.ConfigPath)
	}

	bootID := uuid.NewString()[:8]
	log = log.With().Str("boot", bootID).Logger()
	log.Info().Str("version", Version).Str("config", cli.ConfigPath).Msg("chronocore starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistence. A disabled journal still runs a full race, it just
	// cannot survive a crash or freeze results.
	var (
		db *store.DB
		jw *journal.Writer
	)
	pers := cfg.App.Engine.Persistence
	if pers.Enabled {
		db, err = store.Open(pers.SQLitePath, store.Options{
			RecreateOnBoot: pers.RecreateOnBoot,
			Fsync:          pers.Fsync,
		})
		if err != nil {
			return err
		}
		defer db.Close()
		jw = journal.New(db, journal.Options{
			BatchMax: pers.BatchMax,
			BatchMs:  time.Duration(pers.BatchMs) * time.Millisecond,
			Fsync:    pers.Fsync,
			Log:      log,
		})
		log.Info().Str("path", db.Path()).Bool("fsync", pers.Fsync).Msg("journal open")
	} else {
		log.Warn().Msg("persistence disabled: no journal, no recovery, no frozen results")
	}

	router := decoder.NewRouter(cfg.App.Pits.Receivers.PitIn, cfg.App.Pits.Receivers.PitOut)
	counters := decoder.NewCounters()
	norm := decoder.NewNormalizer(decoder.NormalizerConfig{
		MinTagLen:     cfg.App.Ingest.MinTagLen,
		DedupWindow:   time.Duration(cfg.App.Ingest.DedupWindowS * float64(time.Second)),
		MaxPassesPerS: cfg.App.Ingest.MaxPassesPerS,
	}, router, counters, log)

	engOpts := engine.Options{
		Modes:           cfg.EngineModes(),
		MinLapS:         cfg.App.Timing.MinLapS,
		MinLapDupS:      cfg.App.Timing.MinLapSDup,
		PitTiming:       cfg.App.Features.PitTiming,
		Route:           router.Route,
		AutoProvisional: cfg.App.Features.AutoProvisional,
		CheckpointEvery: time.Duration(pers.CheckpointS) * time.Second,
		EventLabel:      cfg.App.Event.Label,
		SessionLabel:    cfg.App.Event.Session,
		Log:             log,
	}
	if jw != nil {
		engOpts.Journal = jw
	}
	if db != nil {
		freezer := results.NewFreezer(db, log)
		engOpts.OnFreeze = func(final model.FinalState) {
			fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := freezer.Freeze(fctx, final); err != nil {
				log.Error().Err(err).Str("race_id", final.Snapshot.RaceID).Msg("result freeze failed")
			}
		}
	}
	eng := engine.New(engOpts)
	defer eng.Close()

	if jw != nil && pers.Fsync {
		jw.SetOnFlush(func() {
			if err := eng.RequestCheckpoint(); err != nil && !errors.Is(err, engine.ErrEngineClosed) {
				log.Warn().Err(err).Msg("checkpoint request failed")
			}
		})
	}

	if err := bootRace(ctx, cli, db, eng, log); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	emit := func(raw decoder.RawDetection) {
		pass, reason := norm.Normalize(raw)
		if reason != decoder.ReasonAccepted {
			return
		}
		res, err := eng.IngestPass(pass)
		if err != nil {
			log.Warn().Err(err).Str("tag", pass.Tag).Msg("pass not ingested")
			return
		}
		if res.LapAdded {
			log.Debug().Int64("entrant", res.EntrantID).Int("laps", res.Laps).
				Int64("last_ms", res.LastMs).Msg("lap")
		}
	}

	if addr := cfg.App.Ingest.Listeners.TCP; addr != "" {
		src := decoder.NewTCPSource(addr, log)
		g.Go(func() error { return src.Run(gctx, emit) })
	}
	if addr := cfg.App.Ingest.Listeners.UDP; addr != "" {
		src := decoder.NewUDPSource(addr, log)
		g.Go(func() error { return src.Run(gctx, emit) })
	}

	if cli.Sim {
		tags, err := rosterTags(eng)
		if err != nil {
			return err
		}
		if len(tags) == 0 {
			return fmt.Errorf("-sim needs a loaded race with tagged entrants")
		}
		s := sim.New(eng, tags, sim.Options{Log: log})
		g.Go(func() error { return s.Run(gctx) })
	}

	if cli.DigestS > 0 {
		interval := time.Duration(cli.DigestS) * time.Second
		g.Go(func() error {
			digestLoop(gctx, eng, counters, interval, log)
			return nil
		})
	}

	err = g.Wait()

	// Shutdown order matters: flush the journal while the engine can
	// still checkpoint, checkpoint, then stop the writer.
	log.Info().Msg("shutting down")
	if jw != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if ferr := jw.ForceFlush(sctx); ferr != nil {
			log.Error().Err(ferr).Msg("final flush failed")
		}
		if cerr := eng.CheckpointNow(); cerr != nil {
			log.Error().Err(cerr).Msg("final checkpoint failed")
		}
		if cerr := jw.Close(sctx); cerr != nil {
			log.Error().Err(cerr).Msg("journal close failed")
		}
		cancel()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// bootRace puts the engine in its starting posture: restored from the
// journal, loaded fresh, or idle awaiting an operator.
func bootRace(ctx context.Context, cli Config, db *store.DB, eng *engine.Engine, log zerolog.Logger) error {
	switch {
	case cli.Resume:
		if db == nil {
			return fmt.Errorf("-resume needs persistence enabled")
		}
		raceID := cli.RaceID
		if raceID == "" {
			var ok bool
			var err error
			raceID, ok, err = db.LatestCheckpointRace(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("nothing to resume: the journal has no checkpoints")
			}
		}
		rec, ok, err := journal.Replay(ctx, db, raceID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("race %s has no checkpoint to resume from", raceID)
		}
		if err := eng.Restore(rec.Checkpoint.State, rec.Records); err != nil {
			return fmt.Errorf("restore %s: %w", raceID, err)
		}
		snap, err := eng.Snapshot()
		if err != nil {
			return err
		}
		log.Info().Str("race_id", raceID).Str("flag", string(snap.Flag)).
			Int64("clock_ms", snap.ClockMs).Int("replayed", len(rec.Records)).
			Bool("running", snap.Running).Msg("race restored")
		return nil

	case cli.RaceID != "":
		specs, err := bootRoster(ctx, cli, db)
		if err != nil {
			return err
		}
		if err := eng.Load(cli.RaceID, cli.Mode, specs, nil); err != nil {
			return fmt.Errorf("load %s: %w", cli.RaceID, err)
		}
		if db != nil && cli.Roster != "" {
			if err := db.UpsertEntrants(ctx, specs); err != nil {
				log.Warn().Err(err).Msg("roster not persisted")
			}
		}
		log.Info().Str("race_id", cli.RaceID).Str("mode", cli.Mode).
			Int("entrants", len(specs)).Msg("race loaded")
		if cli.Green {
			if err := eng.SetFlag("green"); err != nil {
				return err
			}
			log.Info().Msg("green flag")
		}
		return nil

	default:
		log.Info().Msg("no race loaded; decoder feeds running, passes will be dropped")
		return nil
	}
}

// bootRoster resolves the starting roster: an explicit JSON file wins,
// otherwise the roster stored in the database.
func bootRoster(ctx context.Context, cli Config, db *store.DB) ([]model.EntrantSpec, error) {
	if cli.Roster != "" {
		b, err := os.ReadFile(cli.Roster)
		if err != nil {
			return nil, fmt.Errorf("roster: %w", err)
		}
		var specs []model.EntrantSpec
		if err := json.Unmarshal(b, &specs); err != nil {
			return nil, fmt.Errorf("roster %s: %w", cli.Roster, err)
		}
		return specs, nil
	}
	if db == nil {
		return nil, fmt.Errorf("no -roster file and no stored roster (persistence disabled)")
	}
	specs, err := db.Entrants(ctx)
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("stored roster is empty; pass -roster")
	}
	return specs, nil
}

// rosterTags collects the tags of the loaded race from the engine, so
// the simulator hits real entrants however the race was booted.
func rosterTags(eng *engine.Engine) ([]string, error) {
	snap, err := eng.Snapshot()
	if err != nil {
		return nil, err
	}
	var tags []string
	for _, row := range snap.Standings {
		if row.Tag != "" {
			tags = append(tags, row.Tag)
		}
	}
	return tags, nil
}

// digestLoop logs a one-line race digest on an interval: flag, clock,
// leader and decoder throughput since the previous line.
func digestLoop(ctx context.Context, eng *engine.Engine, counters *decoder.Counters, interval time.Duration, log zerolog.Logger) {
	dlog := log.With().Str("comp", "digest").Logger()
	var prevAccepted uint64
	prevAt := time.Now()

	for range channerics.NewTicker(ctx.Done(), interval) {
		snap, err := eng.Snapshot()
		if err != nil {
			return
		}

		var accepted, received uint64
		for _, c := range counters.Snapshot() {
			accepted += c.Accepted
			received += c.Received
		}
		now := time.Now()
		rate := util.Rate(prevAccepted, accepted, now.Sub(prevAt))
		prevAccepted, prevAt = accepted, now

		ev := dlog.Info().
			Str("flag", string(snap.Flag)).
			Int64("clock_ms", snap.ClockMs).
			Uint64("received", received).
			Float64("passes_per_s", rate)
		if snap.RaceID == "" {
			ev.Msg("idle")
			continue
		}
		if len(snap.Standings) > 0 {
			lead := snap.Standings[0]
			ev = ev.Str("leader", lead.Name).Int("laps", lead.Laps)
		}
		if snap.SimActive {
			ev = ev.Str("sim", snap.SimLabel)
		}
		ev.Str("race_id", snap.RaceID).Msg("digest")
	}
}
