package parse

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStops(t *testing.T) {
	stops, err := ParseStops(bytes.NewBufferString(strings.Join([]string{
		"stop_id,stop_name,stop_lat,stop_lon",
		"s1,Hamilius,49.611,6.129",
		"s2,Gare Centrale,49.600,6.133",
	}, "\n")))
	require.NoError(t, err)
	require.Len(t, stops, 2)

	assert.Equal(t, "s1", stops[0].ID)
	assert.Equal(t, "Hamilius", stops[0].Name)
	assert.InDelta(t, 49.611, stops[0].Lat, 0.0001)
	assert.InDelta(t, 6.129, stops[0].Lon, 0.0001)
	assert.Equal(t, "Gare Centrale", stops[1].Name)
}

func TestParseStopsBOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte(strings.Join([]string{
		"stop_id,stop_name,stop_lat,stop_lon",
		"s1,Hamilius,49.611,6.129",
	}, "\n"))...)

	stops, err := ParseStops(bytes.NewBuffer(data))
	require.NoError(t, err)
	require.Len(t, stops, 1)
	assert.Equal(t, "s1", stops[0].ID)
}

func TestParseStopsExtraColumns(t *testing.T) {
	stops, err := ParseStops(bytes.NewBufferString(strings.Join([]string{
		"stop_id,stop_name,stop_lat,stop_lon,zone_id",
		"s1,Hamilius,49.611,6.129,Z1",
	}, "\n")))
	require.NoError(t, err)
	require.Len(t, stops, 1)
}

func TestParseStopsRejectsBadRecords(t *testing.T) {
	for _, tc := range []struct {
		name string
		rows []string
		err  string
	}{
		{
			"empty id",
			[]string{",NoID,49.611,6.129"},
			"empty stop_id",
		},
		{
			"duplicate id",
			[]string{"s1,A,49.611,6.129", "s1,B,49.612,6.130"},
			"repeated stop_id 's1'",
		},
		{
			"missing name",
			[]string{"s1,,49.611,6.129"},
			"empty stop_name",
		},
		{
			"missing coordinates",
			[]string{"s1,Hamilius,0,0"},
			"empty stop_lat or stop_lon",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rows := append([]string{"stop_id,stop_name,stop_lat,stop_lon"}, tc.rows...)
			_, err := ParseStops(bytes.NewBufferString(strings.Join(rows, "\n")))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.err)
		})
	}
}
