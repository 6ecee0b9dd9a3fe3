package interchange

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/linekpi/linekpi/pkg/types"
)

// MinutesPerDay is the modulus of clock arithmetic. A window whose end clock
// equals its start clock spans a full day.
const MinutesPerDay = 1440

// ClockHead is one head of the clock payload.
type ClockHead struct {
	Name        string         `json:"name"`
	StartClock  string         `json:"startClock"`
	EndClock    string         `json:"endClock"`
	SubChannels []ClockChannel `json:"subChannels"`
}

// ClockChannel is a sub-channel whose intervals are ["HH:MM", "HH:MM"]
// wall clock pairs.
type ClockChannel struct {
	Name        string      `json:"name"`
	IsExclusion bool        `json:"isExclusion"`
	Intervals   [][2]string `json:"intervals"`
}

type clockHeadWire struct {
	Name        *string             `json:"name"`
	StartClock  *string             `json:"startClock"`
	EndClock    *string             `json:"endClock"`
	SubChannels *[]clockChannelWire `json:"subChannels"`
}

type clockChannelWire struct {
	Name        *string     `json:"name"`
	IsExclusion *bool       `json:"isExclusion"`
	Intervals   *[][]string `json:"intervals"`
}

// ParseClock parses "HH:MM" (or "H:MM") into minutes after midnight.
// "24:00" is accepted and maps to 1440.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(mm) != 2 || len(hh) == 0 || len(hh) > 2 {
		return 0, fmt.Errorf("clock %q is not HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 {
		return 0, fmt.Errorf("clock %q: bad hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock %q: bad minute", s)
	}
	if h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("clock %q: out of range", s)
	}
	return h*60 + m, nil
}

// ClockString formats minutes after midnight as "HH:MM", wrapping modulo a
// day. Fractional minutes are rounded.
func ClockString(minutes float64) string {
	m := int(math.Round(minutes)) % MinutesPerDay
	if m < 0 {
		m += MinutesPerDay
	}
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// offset returns clock minus start, wrapped into [0, 1440).
func offset(clock, start int) int {
	d := (clock - start) % MinutesPerDay
	if d < 0 {
		d += MinutesPerDay
	}
	return d
}

// ImportClock decodes a clock JSON payload into heads with endpoints
// relative to each head's startClock. Windows crossing midnight wrap; an
// interval end falling exactly on startClock marks the end of a full day.
func ImportClock(data []byte) ([]types.HeadChannel, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, importErr("", "empty payload")
	}
	if trimmed[0] != '[' {
		return nil, importErr("", "top level must be an array of heads")
	}
	var wires []clockHeadWire
	if err := json.Unmarshal(trimmed, &wires); err != nil {
		return nil, decodeErr(err)
	}

	var heads []types.HeadChannel
	for i, w := range wires {
		h, err := clockHeadFromWire(fmt.Sprintf("[%d]", i), w)
		if err != nil {
			return nil, err
		}
		heads = append(heads, h)
	}
	return heads, nil
}

func clockHeadFromWire(path string, w clockHeadWire) (types.HeadChannel, error) {
	switch {
	case w.Name == nil:
		return types.HeadChannel{}, importErr(path, "missing name")
	case w.StartClock == nil:
		return types.HeadChannel{}, importErr(path, "missing startClock")
	case w.EndClock == nil:
		return types.HeadChannel{}, importErr(path, "missing endClock")
	case w.SubChannels == nil:
		return types.HeadChannel{}, importErr(path, "missing subChannels")
	}
	start, err := ParseClock(*w.StartClock)
	if err != nil {
		return types.HeadChannel{}, importErr(path+".startClock", "%v", err)
	}
	end, err := ParseClock(*w.EndClock)
	if err != nil {
		return types.HeadChannel{}, importErr(path+".endClock", "%v", err)
	}
	total := offset(end, start)
	if total == 0 {
		total = MinutesPerDay
	}

	h := types.HeadChannel{Name: *w.Name, TotalDuration: float64(total)}
	for j, cw := range *w.SubChannels {
		cpath := fmt.Sprintf("%s.subChannels[%d]", path, j)
		if cw.Name == nil {
			return types.HeadChannel{}, importErr(cpath, "missing name")
		}
		if cw.Intervals == nil {
			return types.HeadChannel{}, importErr(cpath, "missing intervals")
		}
		ch := types.Channel{Name: *cw.Name}
		if cw.IsExclusion != nil {
			ch.IsExclusion = *cw.IsExclusion
		}
		for k, pair := range *cw.Intervals {
			ipath := fmt.Sprintf("%s.intervals[%d]", cpath, k)
			if len(pair) != 2 {
				return types.HeadChannel{}, importErr(ipath,
					"interval must be a [start, end] pair, got %d values", len(pair))
			}
			a, err := ParseClock(pair[0])
			if err != nil {
				return types.HeadChannel{}, importErr(ipath, "%v", err)
			}
			b, err := ParseClock(pair[1])
			if err != nil {
				return types.HeadChannel{}, importErr(ipath, "%v", err)
			}
			rb := offset(b, start)
			if rb == 0 {
				rb = MinutesPerDay
			}
			iv := types.TimeInterval{Start: float64(offset(a, start)), End: float64(rb)}
			if iv.Valid() {
				ch.Intervals = append(ch.Intervals, iv)
			}
		}
		h.Channels = append(h.Channels, ch)
	}
	return h, nil
}

// ExportClock converts heads to the clock payload with every window starting
// at startClock. Endpoints are rounded to whole minutes, so only recordings
// on whole minutes round-trip exactly.
//
// A clock window cannot express an empty head or one longer than a day:
// equal start and end clocks read back as a full day. Such heads are
// rejected instead of exported lossily.
func ExportClock(heads []types.HeadChannel, startClock string) ([]ClockHead, error) {
	start, err := ParseClock(startClock)
	if err != nil {
		return nil, fmt.Errorf("interchange: export clock: %w", err)
	}
	base := float64(start)

	out := make([]ClockHead, 0, len(heads))
	for i, h := range heads {
		if !(h.TotalDuration > 0 && h.TotalDuration <= MinutesPerDay) {
			return nil, fmt.Errorf("interchange: export clock: head [%d] %q: total %g min does not fit a clock window (0, %d]",
				i, h.Name, h.TotalDuration, MinutesPerDay)
		}
		ch := ClockHead{
			Name:        h.Name,
			StartClock:  ClockString(base),
			EndClock:    ClockString(base + h.TotalDuration),
			SubChannels: make([]ClockChannel, 0, len(h.Channels)),
		}
		for _, c := range h.Channels {
			cc := ClockChannel{
				Name:        c.Name,
				IsExclusion: c.IsExclusion,
				Intervals:   make([][2]string, 0, len(c.Intervals)),
			}
			for _, iv := range c.Intervals {
				if iv.Valid() {
					cc.Intervals = append(cc.Intervals, [2]string{
						ClockString(base + iv.Start),
						ClockString(base + iv.End),
					})
				}
			}
			ch.SubChannels = append(ch.SubChannels, cc)
		}
		out = append(out, ch)
	}
	return out, nil
}

// ExportClockJSON encodes heads as the clock JSON payload.
func ExportClockJSON(heads []types.HeadChannel, startClock string) ([]byte, error) {
	payload, err := ExportClock(heads, startClock)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("interchange: export clock: %w", err)
	}
	return b, nil
}
