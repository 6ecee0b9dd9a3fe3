package interchange

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/linekpi/linekpi/pkg/types"
)

// ContentTypeMsgpack is the media type of the msgpack payload.
const ContentTypeMsgpack = "application/msgpack"

// EncodeMsgpack encodes heads as the msgpack form of the minutes payload.
func EncodeMsgpack(heads []types.HeadChannel) ([]byte, error) {
	b, err := msgpack.Marshal(Export(heads))
	if err != nil {
		return nil, fmt.Errorf("interchange: encode msgpack: %w", err)
	}
	return b, nil
}

// DecodeMsgpack decodes a msgpack payload with the minutes shape.
func DecodeMsgpack(data []byte) ([]types.HeadChannel, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	n, err := dec.DecodeArrayLen()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, importErr("", "empty payload")
		}
		return nil, importErr("", "top level must be an array of heads")
	}
	if n < 0 {
		return nil, importErr("", "top level must be an array of heads")
	}
	// Every element takes at least one byte.
	if n > len(data) {
		return nil, importErr("", "array length %d exceeds payload size", n)
	}

	wires := make([]headWire, n)
	for i := range wires {
		if err := dec.Decode(&wires[i]); err != nil {
			return nil, &ImportError{
				Path:   fmt.Sprintf("[%d]", i),
				Reason: "malformed head: " + err.Error(),
				Err:    err,
			}
		}
	}
	if _, err := dec.PeekCode(); !errors.Is(err, io.EOF) {
		return nil, importErr("", "trailing data after payload")
	}
	return fromWire(wires)
}
