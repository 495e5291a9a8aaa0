package engine

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/speps/go-hashids/v2"

	"github.com/hybridsix/chronocore/model"
	"github.com/hybridsix/chronocore/util"
)

// load validates and installs a race. All-or-nothing: the previous race
// survives any validation failure.
func (e *Engine) load(raceID, raceType string, specs []model.EntrantSpec, session *model.SessionConfig) error {
	if strings.TrimSpace(raceID) == "" {
		return fmt.Errorf("%w: race id required", ErrInvalidMode)
	}
	mode, ok := e.opts.Modes[raceType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidMode, raceType)
	}

	entrants := make(map[int64]*entrant, len(specs))
	seenTags := make(map[string]int64, len(specs))
	for _, spec := range specs {
		if spec.ID <= 0 {
			return fmt.Errorf("%w: entrant id %d", ErrInvalidEntrant, spec.ID)
		}
		if _, dup := entrants[spec.ID]; dup {
			return fmt.Errorf("%w: duplicate entrant id %d", ErrInvalidEntrant, spec.ID)
		}
		status := spec.EffectiveStatus()
		if !model.ValidStatus(status) {
			return fmt.Errorf("%w: entrant %d status %q", ErrInvalidEntrant, spec.ID, spec.Status)
		}
		en := newEntrant(spec.ID)
		en.number = spec.Number
		en.name = spec.Name
		en.tag = strings.TrimSpace(spec.Tag)
		en.enabled = spec.IsEnabled()
		en.status = status
		if en.enabled && en.tag != "" {
			if other, held := seenTags[en.tag]; held {
				return fmt.Errorf("%w: tag %q on entrants %d and %d", ErrTagConflict, en.tag, other, en.id)
			}
			seenTags[en.tag] = en.id
		}
		entrants[en.id] = en
	}

	prev := e.st.flag

	s := newRaceState()
	s.raceID = raceID
	s.raceCode = e.raceCode(raceID)
	s.raceType = raceType
	s.entrants = entrants
	s.rebuildTagIndex()

	s.limit = mode.Limit
	s.softEnd = mode.SoftEnd
	s.softEndTimeoutS = mode.SoftEndTimeoutS
	minLapS := e.opts.MinLapS
	if mode.MinLapS > 0 {
		minLapS = mode.MinLapS
	}
	if session != nil {
		if session.Limit != nil {
			s.limit = *session.Limit
		}
		if session.SoftEnd != nil {
			s.softEnd = *session.SoftEnd
		}
		if session.SoftEndTimeoutS != nil {
			s.softEndTimeoutS = *session.SoftEndTimeoutS
		}
	}
	// Soft end only means anything under a time limit with a real window.
	if s.limit.Type != model.LimitTime || s.softEndTimeoutS <= 0 {
		s.softEnd = false
	}
	s.minLapMs = util.RoundSecondsToMs(minLapS)
	s.minLapDupMs = util.RoundSecondsToMs(e.opts.MinLapDupS)

	s.lastCheckpointWall = e.opts.NowWall()
	e.st = s

	e.log.Info().
		Str("race_id", raceID).
		Str("race_code", s.raceCode).
		Str("race_type", raceType).
		Int("entrants", len(entrants)).
		Str("limit", string(s.limit.Type)).
		Bool("soft_end", s.softEnd).
		Msg("race loaded")
	e.journalFlagChange(prev, model.FlagPre, false)
	// An immediate checkpoint makes the race recoverable before the
	// first cadence interval elapses.
	if e.opts.Journal != nil {
		e.checkpointNow(e.opts.NowWall())
	}
	return nil
}

// updateEnable flips an entrant's enabled state. Lap counters and pit
// state survive a disable; only tag resolution stops.
func (e *Engine) updateEnable(id int64, enabled bool) error {
	s := e.st
	if s.frozen {
		return fmt.Errorf("%w: race is frozen", ErrStateViolation)
	}
	en, ok := s.entrants[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrEntrantNotFound, id)
	}
	if enabled && !en.enabled && en.tag != "" {
		if other, held := s.tagIndex[en.tag]; held && other != id {
			return fmt.Errorf("%w: tag %q now on entrant %d", ErrTagConflict, en.tag, other)
		}
	}
	en.enabled = enabled
	s.rebuildTagIndex()
	e.journalPut(model.RecordEntrantEnable, model.EntrantEnablePayload{EntrantID: id, Enabled: enabled})
	e.log.Info().Int64("entrant_id", id).Bool("enabled", enabled).Msg("entrant enable updated")
	return nil
}

// updateStatus sets an entrant's classification status.
func (e *Engine) updateStatus(id int64, status model.Status) error {
	s := e.st
	if s.frozen {
		return fmt.Errorf("%w: race is frozen", ErrStateViolation)
	}
	if !model.ValidStatus(status) {
		return fmt.Errorf("%w: status %q", ErrInvalidEntrant, status)
	}
	en, ok := s.entrants[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrEntrantNotFound, id)
	}
	en.status = status
	e.journalPut(model.RecordEntrantStatus, model.EntrantStatusPayload{EntrantID: id, Status: status})
	e.log.Info().Int64("entrant_id", id).Str("status", string(status)).Msg("entrant status updated")
	return nil
}

// assignTag binds a tag to an entrant; empty clears the binding. The
// conflict check only applies when the assignment would land in the
// live tag index, so staging a tag on a disabled entrant is fine.
func (e *Engine) assignTag(id int64, tag string) error {
	s := e.st
	if s.frozen {
		return fmt.Errorf("%w: race is frozen", ErrStateViolation)
	}
	en, ok := s.entrants[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrEntrantNotFound, id)
	}
	tag = strings.TrimSpace(tag)
	if tag != "" && en.enabled {
		if other, held := s.tagIndex[tag]; held && other != id {
			return fmt.Errorf("%w: tag %q on entrant %d", ErrTagConflict, tag, other)
		}
	}
	en.tag = tag
	s.rebuildTagIndex()
	e.journalPut(model.RecordAssignTag, model.AssignTagPayload{EntrantID: id, Tag: tag})
	e.log.Info().Int64("entrant_id", id).Str("tag", tag).Msg("tag assigned")
	return nil
}

var raceCodec = func() *hashids.HashID {
	data := hashids.NewData()
	data.Salt = "chronocore"
	data.MinLength = 6
	hd, err := hashids.NewWithData(data)
	if err != nil {
		hd, _ = hashids.New()
	}
	return hd
}()

// raceCode derives a short operator-friendly code from the race id.
func (e *Engine) raceCode(raceID string) string {
	sum := md5.Sum([]byte(raceID))
	// Clear the top bit: hashids rejects negative numbers.
	n := binary.BigEndian.Uint64(sum[:8]) &^ (uint64(1) << 63)
	code, err := raceCodec.Encode([]int{int(n)})
	if err != nil || code == "" {
		if len(raceID) > 8 {
			return raceID[:8]
		}
		return raceID
	}
	return code
}
