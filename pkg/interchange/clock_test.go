package interchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linekpi/linekpi/pkg/types"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"08:30", 510, false},
		{"8:30", 510, false},
		{"23:59", 1439, false},
		{"24:00", 1440, false},
		{"24:01", 0, true},
		{"25:00", 0, true},
		{"12:60", 0, true},
		{"1230", 0, true},
		{"12:3", 0, true},
		{"ab:cd", 0, true},
		{"", 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseClock(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClockString(t *testing.T) {
	assert.Equal(t, "00:00", ClockString(0))
	assert.Equal(t, "08:30", ClockString(510))
	assert.Equal(t, "00:00", ClockString(1440))
	assert.Equal(t, "01:00", ClockString(1500))
	assert.Equal(t, "08:31", ClockString(510.6))
}

func TestImportClock(t *testing.T) {
	payload := `[{"name":"press","startClock":"06:00","endClock":"14:00","subChannels":[
		{"name":"run","intervals":[["06:00","09:20"],["08:30","11:00"]]},
		{"name":"lunch","isExclusion":true,"intervals":[["07:40","08:00"]]}]}]`

	heads, err := ImportClock([]byte(payload))
	require.NoError(t, err)
	require.Len(t, heads, 1)

	h := heads[0]
	assert.Equal(t, 480.0, h.TotalDuration)
	assert.Equal(t, []types.TimeInterval{{Start: 0, End: 200}, {Start: 150, End: 300}}, h.Channels[0].Intervals)
	assert.Equal(t, []types.TimeInterval{{Start: 100, End: 120}}, h.Channels[1].Intervals)
}

func TestImportClock_Overnight(t *testing.T) {
	payload := `[{"name":"night","startClock":"22:00","endClock":"06:00","subChannels":[
		{"name":"run","intervals":[["23:00","01:30"],["05:00","06:00"]]}]}]`

	heads, err := ImportClock([]byte(payload))
	require.NoError(t, err)

	h := heads[0]
	assert.Equal(t, 480.0, h.TotalDuration)
	assert.Equal(t, []types.TimeInterval{{Start: 60, End: 210}, {Start: 420, End: 480}}, h.Channels[0].Intervals)
}

func TestImportClock_FullDay(t *testing.T) {
	payload := `[{"name":"h","startClock":"07:00","endClock":"07:00","subChannels":[
		{"name":"run","intervals":[["07:00","07:00"],["06:00","07:00"]]}]}]`

	heads, err := ImportClock([]byte(payload))
	require.NoError(t, err)

	h := heads[0]
	assert.Equal(t, 1440.0, h.TotalDuration)
	assert.Equal(t, []types.TimeInterval{{Start: 0, End: 1440}, {Start: 1380, End: 1440}}, h.Channels[0].Intervals)
}

func TestImportClock_Errors(t *testing.T) {
	for name, payload := range map[string]string{
		"object":         `{"name":"h"}`,
		"empty":          `  `,
		"missing start":  `[{"name":"h","endClock":"08:00","subChannels":[]}]`,
		"missing end":    `[{"name":"h","startClock":"08:00","subChannels":[]}]`,
		"bad start":      `[{"name":"h","startClock":"8h","endClock":"08:00","subChannels":[]}]`,
		"bad interval":   `[{"name":"h","startClock":"06:00","endClock":"08:00","subChannels":[{"name":"c","intervals":[["06:00","99:00"]]}]}]`,
		"interval arity": `[{"name":"h","startClock":"06:00","endClock":"08:00","subChannels":[{"name":"c","intervals":[["06:00"]]}]}]`,
		"number clock":   `[{"name":"h","startClock":360,"endClock":"08:00","subChannels":[]}]`,
	} {
		t.Run(name, func(t *testing.T) {
			heads, err := ImportClock([]byte(payload))
			require.ErrorIs(t, err, ErrImport)
			assert.Nil(t, heads)
		})
	}
}

func TestExportClock_RoundTrip(t *testing.T) {
	in := []types.HeadChannel{{
		Name:          "night",
		TotalDuration: 480,
		Channels: []types.Channel{
			{Name: "run", Intervals: []types.TimeInterval{{Start: 0, End: 200}, {Start: 300, End: 480}}},
			{Name: "break", IsExclusion: true, Intervals: []types.TimeInterval{{Start: 100, End: 120}}},
		},
	}}

	payload, err := ExportClock(in, "22:00")
	require.NoError(t, err)
	require.Len(t, payload, 1)
	assert.Equal(t, "22:00", payload[0].StartClock)
	assert.Equal(t, "06:00", payload[0].EndClock)
	assert.Equal(t, [2]string{"22:00", "01:20"}, payload[0].SubChannels[0].Intervals[0])

	b, err := ExportClockJSON(in, "22:00")
	require.NoError(t, err)
	out, err := ImportClock(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestExportClock_RejectsWindowlessHeads(t *testing.T) {
	for _, total := range []float64{0, 1441} {
		in := []types.HeadChannel{{Name: "idle", TotalDuration: total}}
		_, err := ExportClock(in, "06:00")
		assert.Error(t, err, "total %g", total)
	}

	full := []types.HeadChannel{{Name: "day", TotalDuration: 1440}}
	b, err := ExportClockJSON(full, "06:00")
	require.NoError(t, err)
	out, err := ImportClock(b)
	require.NoError(t, err)
	assert.Equal(t, full[0].TotalDuration, out[0].TotalDuration)
}

func TestExportClock_BadStart(t *testing.T) {
	_, err := ExportClock(nil, "noon")
	assert.Error(t, err)
}
