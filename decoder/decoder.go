// Package decoder turns raw transponder detections into normalized
// passes for the race engine: tag cleanup, per-tag dedup, rate capping
// and device-to-source routing. It also ships the line-oriented TCP/UDP
// feeds that timing decoders connect to.
package decoder

import (
	"context"
	"time"
)

// RawDetection is one decoder read before normalization.
type RawDetection struct {
	Tag        string
	TsRecv     time.Time
	DeviceID   string
	DeviceSecs float64
}

// Source delivers raw detections until ctx is canceled. Run blocks;
// emit may be called from multiple goroutines.
type Source interface {
	Name() string
	Run(ctx context.Context, emit func(RawDetection)) error
}
