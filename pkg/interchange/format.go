package interchange

import (
	"fmt"

	"github.com/linekpi/linekpi/pkg/types"
)

// Format names one of the payload encodings.
type Format string

const (
	FormatMinutes Format = "minutes"
	FormatClock   Format = "clock"
	FormatMsgpack Format = "msgpack"
)

// ParseFormat maps a format name to a Format. The empty string and "json"
// mean the minutes payload.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "json", string(FormatMinutes):
		return FormatMinutes, nil
	case string(FormatClock):
		return FormatClock, nil
	case string(FormatMsgpack):
		return FormatMsgpack, nil
	}
	return "", fmt.Errorf("interchange: unknown format %q", s)
}

// Decode imports data in format f.
func Decode(f Format, data []byte) ([]types.HeadChannel, error) {
	switch f {
	case FormatMinutes, "":
		return Import(data)
	case FormatClock:
		return ImportClock(data)
	case FormatMsgpack:
		return DecodeMsgpack(data)
	}
	return nil, fmt.Errorf("interchange: unknown format %q", f)
}

// Encode exports heads in format f. startClock is used by FormatClock only.
func Encode(f Format, heads []types.HeadChannel, startClock string) ([]byte, error) {
	switch f {
	case FormatMinutes, "":
		return ExportJSON(heads)
	case FormatClock:
		return ExportClockJSON(heads, startClock)
	case FormatMsgpack:
		return EncodeMsgpack(heads)
	}
	return nil, fmt.Errorf("interchange: unknown format %q", f)
}

// ContentType returns the HTTP media type of format f.
func (f Format) ContentType() string {
	if f == FormatMsgpack {
		return ContentTypeMsgpack
	}
	return "application/json"
}
