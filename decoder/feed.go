package decoder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrSkipLine marks blank or comment feed lines.
var ErrSkipLine = errors.New("decoder: skip line")

// ParseLine parses one detection line of the feed protocol:
//
//	TAG[,DEVICE_ID[,DEVICE_SECS]]
//
// Whitespace around fields is ignored. Blank lines and lines starting
// with '#' return ErrSkipLine.
func ParseLine(line string, now time.Time) (RawDetection, error) {
	s := strings.TrimSpace(line)
	if s == "" || strings.HasPrefix(s, "#") {
		return RawDetection{}, ErrSkipLine
	}
	parts := strings.Split(s, ",")
	if len(parts) > 3 {
		return RawDetection{}, fmt.Errorf("decoder: malformed line %q", s)
	}

	raw := RawDetection{Tag: strings.TrimSpace(parts[0]), TsRecv: now}
	if raw.Tag == "" {
		return RawDetection{}, fmt.Errorf("decoder: empty tag in line %q", s)
	}
	if len(parts) > 1 {
		raw.DeviceID = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		secs, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			return RawDetection{}, fmt.Errorf("decoder: bad device seconds in line %q", s)
		}
		raw.DeviceSecs = secs
	}
	return raw, nil
}
