package engine

import (
	"time"

	"github.com/hybridsix/chronocore/model"
)

// paceDepth is how many recent lap durations each entrant retains for
// the pace view in snapshots.
const paceDepth = 5

// entrant is the engine's mutable per-entrant state. All durations and
// timestamps are race-clock milliseconds.
type entrant struct {
	id      int64
	number  string
	name    string
	tag     string
	enabled bool
	status  model.Status

	laps    int
	lastMs  int64   // last credited lap, 0 = none yet
	bestMs  int64   // fastest credited lap, 0 = none yet
	pace    []int64 // up to paceDepth recent laps, oldest first
	lapHist []int64 // every credited lap, in credit order

	pitCount    int
	lastPitMs   int64 // duration of the last completed stint, 0 = none
	pitOpenAtMs int64 // clock at pit_in while a stint is open, -1 = closed

	lastHitMs   int64 // clock at the last counted track crossing, -1 = none
	finishOrder int   // soft-end finish sequence, 0 = unassigned
	softEndDone bool  // crossed the line inside the finishing window
	provisional bool  // synthesized for an unknown tag
}

func newEntrant(id int64) *entrant {
	return &entrant{id: id, status: model.StatusActive, pitOpenAtMs: -1, lastHitMs: -1}
}

// creditLap books one lap of durMs against the entrant.
func (en *entrant) creditLap(durMs int64) {
	en.laps++
	en.lastMs = durMs
	if en.bestMs == 0 || durMs < en.bestMs {
		en.bestMs = durMs
	}
	en.pace = append(en.pace, durMs)
	if len(en.pace) > paceDepth {
		en.pace = en.pace[len(en.pace)-paceDepth:]
	}
	en.lapHist = append(en.lapHist, durMs)
}

// raceState is everything the actor owns for the current race.
type raceState struct {
	raceID   string
	raceCode string
	raceType string

	flag           model.Flag
	clockMs        int64
	running        bool
	clockStartMono int64 // monotonic ms reference of the last rebase

	limit           model.Limit
	softEnd         bool
	softEndTimeoutS float64
	minLapMs        int64
	minLapDupMs     int64

	// One-shot latches for the flag automation.
	whiteWindowBegun bool
	whiteSet         bool
	limitReached     bool

	checkeredStartMs int64 // clock when checkered first flew, -1 = not yet
	clockMsFrozen    int64 // clock at the final freeze, -1 = not frozen
	frozen           bool

	simActive bool
	simLabel  string

	entrants  map[int64]*entrant
	tagIndex  map[string]int64 // enabled tags only
	finishSeq int

	lastCheckpointWall time.Time
	replaying          bool // suppresses journal writes while re-applying records
}

func newRaceState() *raceState {
	return &raceState{
		flag:             model.FlagPre,
		checkeredStartMs: -1,
		clockMsFrozen:    -1,
		entrants:         make(map[int64]*entrant),
		tagIndex:         make(map[string]int64),
	}
}

// rebuildTagIndex recomputes the tag lookup from scratch. Disabled
// entrants and blank tags never enter the index.
func (s *raceState) rebuildTagIndex() {
	idx := make(map[string]int64, len(s.entrants))
	for id, en := range s.entrants {
		if en.enabled && en.tag != "" {
			idx[en.tag] = id
		}
	}
	s.tagIndex = idx
}

// nextFreeID allocates an entrant id above every id in the live set, so
// provisional entrants never collide with roster rows.
func (s *raceState) nextFreeID() int64 {
	var max int64
	for id := range s.entrants {
		if id > max {
			max = id
		}
	}
	return max + 1
}

// provisionalCount reports how many synthesized entrants exist.
func (s *raceState) provisionalCount() int {
	n := 0
	for _, en := range s.entrants {
		if en.provisional {
			n++
		}
	}
	return n
}

// inSoftEndWindow reports whether checkered has flown but the soft-end
// finishing window is still open.
func (s *raceState) inSoftEndWindow() bool {
	return s.flag == model.FlagCheckered && s.softEnd && s.running
}
