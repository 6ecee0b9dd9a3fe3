package interchange

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/linekpi/linekpi/pkg/types"
)

func sampleHeads() []types.HeadChannel {
	return []types.HeadChannel{
		{
			Name:          "press",
			TotalDuration: 480,
			Channels: []types.Channel{
				{Name: "run", Intervals: []types.TimeInterval{{Start: 0, End: 200}, {Start: 150, End: 300}}},
				{Name: "break", IsExclusion: true, Intervals: []types.TimeInterval{{Start: 100, End: 120}}},
			},
		},
		{
			Name:          "wrap",
			TotalDuration: 240.5,
			Channels: []types.Channel{
				{Name: "run", Intervals: []types.TimeInterval{{Start: 10.25, End: 90}}},
			},
		},
	}
}

func TestImport_Scenario(t *testing.T) {
	payload := `[{"name":"press","totalMinutes":480,"subChannels":[
		{"name":"run","isExclusion":false,"intervals":[[0,200],[150,300]]},
		{"name":"break","isExclusion":true,"intervals":[[100,120]]}]}]`

	heads, err := Import([]byte(payload))
	require.NoError(t, err)
	require.Len(t, heads, 1)

	h := heads[0]
	assert.Equal(t, "press", h.Name)
	assert.Equal(t, 480.0, h.TotalDuration)
	require.Len(t, h.Channels, 2)
	assert.Equal(t, []types.TimeInterval{{Start: 0, End: 200}, {Start: 150, End: 300}}, h.Channels[0].Intervals)
	assert.False(t, h.Channels[0].IsExclusion)
	assert.True(t, h.Channels[1].IsExclusion)
}

func TestRoundTrip_JSON(t *testing.T) {
	in := sampleHeads()

	b, err := ExportJSON(in)
	require.NoError(t, err)
	out, err := Import(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	again, err := ExportJSON(out)
	require.NoError(t, err)
	assert.JSONEq(t, string(b), string(again))
}

func TestRoundTrip_Msgpack(t *testing.T) {
	in := sampleHeads()

	b, err := EncodeMsgpack(in)
	require.NoError(t, err)
	out, err := DecodeMsgpack(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestRoundTrip_IntervalOrderIgnored(t *testing.T) {
	in := []types.HeadChannel{{
		Name:          "h",
		TotalDuration: 60,
		Channels: []types.Channel{{
			Name:      "c",
			Intervals: []types.TimeInterval{{Start: 40, End: 50}, {Start: 0, End: 10}, {Start: 5, End: 20}},
		}},
	}}

	b, err := ExportJSON(in)
	require.NoError(t, err)
	out, err := Import(b)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.ElementsMatch(t, in[0].Channels[0].Intervals, out[0].Channels[0].Intervals)
}

func TestExport_DropsInvalidIntervals(t *testing.T) {
	heads := []types.HeadChannel{{
		Name:          "h",
		TotalDuration: 60,
		Channels: []types.Channel{
			{Name: "c", Intervals: []types.TimeInterval{{Start: 10, End: 10}, {Start: 30, End: 20}, {Start: 0, End: 5}}},
			{Name: "empty"},
		},
	}}

	p := Export(heads)
	require.Len(t, p, 1)
	assert.Equal(t, [][2]float64{{0, 5}}, p[0].SubChannels[0].Intervals)
	assert.NotNil(t, p[0].SubChannels[1].Intervals)
}

func TestImport_DropsZeroLengthIntervals(t *testing.T) {
	heads, err := Import([]byte(`[{"name":"h","totalMinutes":60,"subChannels":[
		{"name":"c","intervals":[[10,10],[30,20],[0,5]]}]}]`))
	require.NoError(t, err)
	assert.Equal(t, []types.TimeInterval{{Start: 0, End: 5}}, heads[0].Channels[0].Intervals)
	assert.False(t, heads[0].Channels[0].IsExclusion, "isExclusion defaults to false")
}

func TestImport_Errors(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantPath string
	}{
		{"empty", ``, ""},
		{"object top level", `{"name":"h"}`, ""},
		{"null top level", `null`, ""},
		{"string top level", `"heads"`, ""},
		{"truncated", `[{"name":"h"`, "[0]"},
		{"trailing data", `[] []`, ""},
		{"null head", `[null]`, "[0]"},
		{"missing name", `[{"totalMinutes":60,"subChannels":[]}]`, "[0]"},
		{"missing total", `[{"name":"h","subChannels":[]}]`, "[0]"},
		{"missing sub-channels", `[{"name":"h","totalMinutes":60}]`, "[0]"},
		{"negative total", `[{"name":"h","totalMinutes":-1,"subChannels":[]}]`, "[0].totalMinutes"},
		{"channel missing name", `[{"name":"h","totalMinutes":60,"subChannels":[{"intervals":[]}]}]`, "[0].subChannels[0]"},
		{"channel missing intervals", `[{"name":"h","totalMinutes":60,"subChannels":[{"name":"c"}]}]`, "[0].subChannels[0]"},
		{"interval arity", `[{"name":"h","totalMinutes":60,"subChannels":[{"name":"c","intervals":[[1,2,3]]}]}]`, "[0].subChannels[0].intervals[0]"},
		{"interval type", `[{"name":"h","totalMinutes":60,"subChannels":[{"name":"c","intervals":[["a","b"]]}]}]`, "[0]"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			heads, err := Import([]byte(tc.payload))
			require.Error(t, err)
			assert.Nil(t, heads)
			assert.True(t, errors.Is(err, ErrImport))

			var ie *ImportError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, tc.wantPath, ie.Path)
		})
	}
}

func TestImport_AllOrNothing(t *testing.T) {
	// The first head is valid; the second is not. Nothing is returned.
	payload := `[{"name":"ok","totalMinutes":60,"subChannels":[{"name":"c","intervals":[[0,10]]}]},
		{"name":"bad","totalMinutes":60,"subChannels":[{"name":"c","intervals":[[0]]}]}]`

	heads, err := Import([]byte(payload))
	require.ErrorIs(t, err, ErrImport)
	assert.Nil(t, heads)
}

func TestDecodeMsgpack_Errors(t *testing.T) {
	obj, err := msgpack.Marshal(map[string]any{"name": "h"})
	require.NoError(t, err)
	nilPayload, err := msgpack.Marshal(nil)
	require.NoError(t, err)
	missing, err := msgpack.Marshal([]map[string]any{{"name": "h"}})
	require.NoError(t, err)

	for name, payload := range map[string][]byte{
		"empty":          nil,
		"map top level":  obj,
		"nil top level":  nilPayload,
		"missing fields": missing,
		"bogus length":   {0xdd, 0xff, 0xff, 0xff, 0xff},
		"trailing":       {0x90, 0xc0},
	} {
		t.Run(name, func(t *testing.T) {
			heads, err := DecodeMsgpack(payload)
			require.ErrorIs(t, err, ErrImport)
			assert.Nil(t, heads)
		})
	}
}

func TestFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"":        FormatMinutes,
		"json":    FormatMinutes,
		"minutes": FormatMinutes,
		"clock":   FormatClock,
		"msgpack": FormatMsgpack,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)

	assert.Equal(t, ContentTypeMsgpack, FormatMsgpack.ContentType())
	assert.Equal(t, "application/json", FormatClock.ContentType())
}

func TestEncodeDecode_AllFormats(t *testing.T) {
	in := []types.HeadChannel{{
		Name:          "press",
		TotalDuration: 480,
		Channels: []types.Channel{
			{Name: "run", Intervals: []types.TimeInterval{{Start: 0, End: 200}}},
			{Name: "break", IsExclusion: true, Intervals: []types.TimeInterval{{Start: 100, End: 120}}},
		},
	}}
	for _, f := range []Format{FormatMinutes, FormatClock, FormatMsgpack} {
		t.Run(string(f), func(t *testing.T) {
			b, err := Encode(f, in, "06:00")
			require.NoError(t, err)
			out, err := Decode(f, b)
			require.NoError(t, err)
			assert.Equal(t, in, out)
		})
	}
}
