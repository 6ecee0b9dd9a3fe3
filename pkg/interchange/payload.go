package interchange

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/linekpi/linekpi/pkg/types"
)

// HeadPayload is one head of the minutes payload.
type HeadPayload struct {
	Name         string           `json:"name" msgpack:"name"`
	TotalMinutes float64          `json:"totalMinutes" msgpack:"totalMinutes"`
	SubChannels  []ChannelPayload `json:"subChannels" msgpack:"subChannels"`
}

// ChannelPayload is one sub-channel; each interval is a [start, end] pair in
// minutes relative to the head's window.
type ChannelPayload struct {
	Name        string       `json:"name" msgpack:"name"`
	IsExclusion bool         `json:"isExclusion" msgpack:"isExclusion"`
	Intervals   [][2]float64 `json:"intervals" msgpack:"intervals"`
}

// Pointer fields tell a missing key apart from a zero value.
type headWire struct {
	Name         *string        `json:"name" msgpack:"name"`
	TotalMinutes *float64       `json:"totalMinutes" msgpack:"totalMinutes"`
	SubChannels  *[]channelWire `json:"subChannels" msgpack:"subChannels"`
}

type channelWire struct {
	Name        *string      `json:"name" msgpack:"name"`
	IsExclusion *bool        `json:"isExclusion" msgpack:"isExclusion"`
	Intervals   *[][]float64 `json:"intervals" msgpack:"intervals"`
}

// Export converts heads to the minutes payload. Invalid intervals are
// skipped; slices are never nil so the JSON form always carries arrays.
func Export(heads []types.HeadChannel) []HeadPayload {
	out := make([]HeadPayload, 0, len(heads))
	for _, h := range heads {
		hp := HeadPayload{
			Name:         h.Name,
			TotalMinutes: h.TotalDuration,
			SubChannels:  make([]ChannelPayload, 0, len(h.Channels)),
		}
		for _, ch := range h.Channels {
			cp := ChannelPayload{
				Name:        ch.Name,
				IsExclusion: ch.IsExclusion,
				Intervals:   make([][2]float64, 0, len(ch.Intervals)),
			}
			for _, iv := range ch.Intervals {
				if iv.Valid() {
					cp.Intervals = append(cp.Intervals, [2]float64{iv.Start, iv.End})
				}
			}
			hp.SubChannels = append(hp.SubChannels, cp)
		}
		out = append(out, hp)
	}
	return out
}

// ExportJSON encodes heads as the minutes JSON payload.
func ExportJSON(heads []types.HeadChannel) ([]byte, error) {
	b, err := json.Marshal(Export(heads))
	if err != nil {
		return nil, fmt.Errorf("interchange: export: %w", err)
	}
	return b, nil
}

// Import decodes a minutes JSON payload.
func Import(data []byte) ([]types.HeadChannel, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil, importErr("", "empty payload")
		}
		return nil, decodeErr(err)
	}
	if tok != json.Delim('[') {
		return nil, importErr("", "top level must be an array of heads")
	}

	var wires []headWire
	for dec.More() {
		var w headWire
		if err := dec.Decode(&w); err != nil {
			return nil, &ImportError{
				Path:   fmt.Sprintf("[%d]", len(wires)),
				Reason: "malformed head: " + err.Error(),
				Err:    err,
			}
		}
		wires = append(wires, w)
	}
	if _, err := dec.Token(); err != nil {
		return nil, decodeErr(err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, importErr("", "trailing data after payload")
	}
	return fromWire(wires)
}

// fromWire validates every head before returning any of them.
func fromWire(wires []headWire) ([]types.HeadChannel, error) {
	var heads []types.HeadChannel
	for i, w := range wires {
		path := fmt.Sprintf("[%d]", i)
		switch {
		case w.Name == nil:
			return nil, importErr(path, "missing name")
		case w.TotalMinutes == nil:
			return nil, importErr(path, "missing totalMinutes")
		case w.SubChannels == nil:
			return nil, importErr(path, "missing subChannels")
		}
		total := *w.TotalMinutes
		if math.IsNaN(total) || math.IsInf(total, 0) || total < 0 {
			return nil, importErr(path+".totalMinutes", "must be a finite non-negative number, got %g", total)
		}

		h := types.HeadChannel{Name: *w.Name, TotalDuration: total}
		for j, cw := range *w.SubChannels {
			ch, err := channelFromWire(fmt.Sprintf("%s.subChannels[%d]", path, j), cw)
			if err != nil {
				return nil, err
			}
			h.Channels = append(h.Channels, ch)
		}
		heads = append(heads, h)
	}
	return heads, nil
}

func channelFromWire(path string, cw channelWire) (types.Channel, error) {
	if cw.Name == nil {
		return types.Channel{}, importErr(path, "missing name")
	}
	if cw.Intervals == nil {
		return types.Channel{}, importErr(path, "missing intervals")
	}
	ch := types.Channel{Name: *cw.Name}
	if cw.IsExclusion != nil {
		ch.IsExclusion = *cw.IsExclusion
	}
	for k, pair := range *cw.Intervals {
		if len(pair) != 2 {
			return types.Channel{}, importErr(fmt.Sprintf("%s.intervals[%d]", path, k),
				"interval must be a [start, end] pair, got %d values", len(pair))
		}
		iv := types.TimeInterval{Start: pair[0], End: pair[1]}
		if iv.Valid() {
			ch.Intervals = append(ch.Intervals, iv)
		}
	}
	return ch, nil
}
