// Package sim feeds the race engine synthetic passes so an event crew
// can rehearse the full pipeline without karts on track. It marks the
// engine's snapshot with sim_active and a short run label so nobody
// mistakes rehearsal standings for real ones.
package sim

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	channerics "github.com/niceyeti/channerics/channels"
	"github.com/rs/zerolog"

	"github.com/hybridsix/chronocore/engine"
	"github.com/hybridsix/chronocore/model"
)

// Target is the slice of the engine the simulator drives.
type Target interface {
	IngestPass(p model.Pass) (engine.IngestResult, error)
	SetSimActive(active bool, label string) error
}

// Options tunes the synthetic field.
type Options struct {
	// BaseLapS is the mean lap time in seconds. Default 45.
	BaseLapS float64

	// JitterPct spreads lap times by +/- this fraction. Default 0.08.
	JitterPct float64

	// PitEvery sends a kart through the pit roughly every N laps.
	// Zero disables pit traffic.
	PitEvery int

	// Tick is the scheduler resolution. Default 250ms.
	Tick time.Duration

	// Seed fixes the random source; zero seeds from the wall clock.
	Seed int64

	Log zerolog.Logger
}

// kart is one simulated entrant's schedule.
type kart struct {
	tag          string
	nextAt       time.Time
	laps         int
	lapsSincePit int
	inPit        bool
}

// Simulator drives crossings for a fixed set of tags.
type Simulator struct {
	target Target
	opts   Options
	label  string
	rng    *rand.Rand
	log    zerolog.Logger
	karts  []*kart
}

// New builds a Simulator over the given tags. Tags should match the
// loaded roster or every pass will come back unknown_tag.
func New(target Target, tags []string, opts Options) *Simulator {
	if opts.BaseLapS <= 0 {
		opts.BaseLapS = 45
	}
	if opts.JitterPct <= 0 {
		opts.JitterPct = 0.08
	}
	if opts.Tick <= 0 {
		opts.Tick = 250 * time.Millisecond
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := &Simulator{
		target: target,
		opts:   opts,
		label:  uuid.NewString()[:8],
		rng:    rand.New(rand.NewSource(seed)),
	}
	s.log = opts.Log.With().Str("comp", "sim").Str("run", s.label).Logger()
	for _, tag := range tags {
		s.karts = append(s.karts, &kart{tag: tag})
	}
	return s
}

// Label is the run marker stamped on the engine snapshot.
func (s *Simulator) Label() string { return s.label }

// Run drives the field until ctx is canceled. The first crossings land
// within one lap time of the green, staggered like a rolling start.
func (s *Simulator) Run(ctx context.Context) error {
	if err := s.target.SetSimActive(true, s.label); err != nil {
		return err
	}
	defer s.target.SetSimActive(false, "")

	now := time.Now()
	lap := s.lapTime()
	for i, k := range s.karts {
		stagger := lap * time.Duration(i) / time.Duration(len(s.karts)+1)
		k.nextAt = now.Add(lap/2 + stagger)
	}
	s.log.Info().Int("karts", len(s.karts)).Float64("base_lap_s", s.opts.BaseLapS).Msg("sim running")

	for range channerics.NewTicker(ctx.Done(), s.opts.Tick) {
		now = time.Now()
		for _, k := range s.karts {
			if now.Before(k.nextAt) {
				continue
			}
			s.cross(k, now)
		}
	}
	s.log.Info().Msg("sim stopped")
	return nil
}

// cross emits the kart's next detection and reschedules it.
func (s *Simulator) cross(k *kart, now time.Time) {
	switch {
	case k.inPit:
		s.emit(model.Pass{Tag: k.tag, TsRecv: now, Source: model.SourcePitOut, DeviceID: "sim-pit-out"})
		k.inPit = false
		k.nextAt = now.Add(s.lapTime())

	case s.opts.PitEvery > 0 && k.lapsSincePit >= s.opts.PitEvery && s.rng.Float64() < 0.5:
		s.emit(model.Pass{Tag: k.tag, TsRecv: now, Source: model.SourcePitIn, DeviceID: "sim-pit-in"})
		k.inPit = true
		k.lapsSincePit = 0
		k.nextAt = now.Add(s.pitDwell())

	default:
		s.emit(model.Pass{Tag: k.tag, TsRecv: now, Source: model.SourceTrack})
		k.laps++
		k.lapsSincePit++
		k.nextAt = now.Add(s.lapTime())
	}
}

func (s *Simulator) emit(p model.Pass) {
	res, err := s.target.IngestPass(p)
	if err != nil {
		s.log.Warn().Err(err).Str("tag", p.Tag).Msg("pass rejected")
		return
	}
	if res.LapAdded {
		s.log.Debug().Str("tag", p.Tag).Int("laps", res.Laps).Int64("last_ms", res.LastMs).Msg("lap")
	}
}

func (s *Simulator) lapTime() time.Duration {
	jitter := 1 + s.opts.JitterPct*(s.rng.Float64()*2-1)
	return time.Duration(s.opts.BaseLapS * jitter * float64(time.Second))
}

// pitDwell scales with the lap time so rehearsal pits read like real
// ones at any speedup.
func (s *Simulator) pitDwell() time.Duration {
	frac := 0.6 + 0.3*s.rng.Float64()
	return time.Duration(s.opts.BaseLapS * frac * float64(time.Second))
}
