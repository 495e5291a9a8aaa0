package decoder

import (
	"sync"

	"github.com/hybridsix/chronocore/model"
)

// Reason classifies the outcome of normalizing one detection.
type Reason string

const (
	ReasonAccepted    Reason = "accepted"
	ReasonShortTag    Reason = "short_tag"
	ReasonDedup       Reason = "dedup"
	ReasonRateLimited Reason = "rate_limited"
)

// SourceCounts are the ingestion counters of one logical source.
type SourceCounts struct {
	Received        uint64 `json:"received"`
	Accepted        uint64 `json:"accepted"`
	ShortTag        uint64 `json:"short_tag"`
	DedupSuppressed uint64 `json:"dedup_suppressed"`
	RateLimited     uint64 `json:"rate_limited"`
}

// Counters tracks per-source ingestion outcomes.
type Counters struct {
	mu   sync.Mutex
	rows map[model.Source]*SourceCounts
}

// NewCounters returns an empty counter set.
func NewCounters() *Counters {
	return &Counters{rows: make(map[model.Source]*SourceCounts)}
}

// Record counts one detection outcome for a source.
func (c *Counters) Record(src model.Source, r Reason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row := c.rows[src]
	if row == nil {
		row = &SourceCounts{}
		c.rows[src] = row
	}
	row.Received++
	switch r {
	case ReasonAccepted:
		row.Accepted++
	case ReasonShortTag:
		row.ShortTag++
	case ReasonDedup:
		row.DedupSuppressed++
	case ReasonRateLimited:
		row.RateLimited++
	}
}

// Snapshot returns a copy of all counters.
func (c *Counters) Snapshot() map[model.Source]SourceCounts {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[model.Source]SourceCounts, len(c.rows))
	for src, row := range c.rows {
		out[src] = *row
	}
	return out
}
