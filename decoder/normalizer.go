package decoder

import (
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/rs/zerolog"

	"github.com/hybridsix/chronocore/model"
	"github.com/hybridsix/chronocore/util"
)

// rateKey is the single category of the global rate limiter.
const rateKey = "ingest"

// NormalizerConfig holds the C1 knobs.
type NormalizerConfig struct {
	// MinTagLen is the minimum digit count of a valid tag.
	MinTagLen int

	// DedupWindow suppresses repeat reads of the same tag inside the
	// window. Only accepted reads start a window.
	DedupWindow time.Duration

	// MaxPassesPerS caps total accepted passes per second across all
	// sources. Zero disables the cap.
	MaxPassesPerS int
}

// Normalizer cleans raw detections into engine-ready passes.
type Normalizer struct {
	minTagLen int
	dedup     *catrate.Limiter
	rate      *catrate.Limiter
	router    *Router
	counters  *Counters
	log       zerolog.Logger
}

// NewNormalizer wires the normalizer to a router and a counter set.
func NewNormalizer(cfg NormalizerConfig, router *Router, counters *Counters, log zerolog.Logger) *Normalizer {
	if cfg.MinTagLen <= 0 {
		cfg.MinTagLen = 7
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 3 * time.Second
	}
	n := &Normalizer{
		minTagLen: cfg.MinTagLen,
		dedup:     catrate.NewLimiter(map[time.Duration]int{cfg.DedupWindow: 1}),
		router:    router,
		counters:  counters,
		log:       log.With().Str("comp", "normalizer").Logger(),
	}
	if cfg.MaxPassesPerS > 0 {
		n.rate = catrate.NewLimiter(map[time.Duration]int{time.Second: cfg.MaxPassesPerS})
	}
	return n
}

// Normalize validates one detection and stamps its logical source.
// The returned pass is only meaningful when the reason is
// ReasonAccepted; every outcome is counted against the source.
func (n *Normalizer) Normalize(raw RawDetection) (model.Pass, Reason) {
	src := n.router.Route(raw.DeviceID)

	tag := util.Digits(raw.Tag)
	if len(tag) < n.minTagLen {
		n.counters.Record(src, ReasonShortTag)
		n.log.Debug().Str("tag", raw.Tag).Str("device", raw.DeviceID).Msg("short tag dropped")
		return model.Pass{}, ReasonShortTag
	}

	// The rate cap runs before dedup so a shed pass does not burn the
	// tag's dedup window.
	if n.rate != nil {
		if _, ok := n.rate.Allow(rateKey); !ok {
			n.counters.Record(src, ReasonRateLimited)
			return model.Pass{}, ReasonRateLimited
		}
	}

	if _, ok := n.dedup.Allow(tag); !ok {
		n.counters.Record(src, ReasonDedup)
		return model.Pass{}, ReasonDedup
	}

	ts := raw.TsRecv
	if ts.IsZero() {
		ts = time.Now()
	}
	n.counters.Record(src, ReasonAccepted)
	return model.Pass{
		Tag:        tag,
		TsRecv:     ts,
		Source:     src,
		DeviceID:   raw.DeviceID,
		DeviceSecs: raw.DeviceSecs,
	}, ReasonAccepted
}
