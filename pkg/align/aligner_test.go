package align

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyvanazami/sensoriot-anomaly/pkg/readings"
)

// gatewayReadings builds count buckets of F+H readings for the given nodes
// at a 60s cadence.
func gatewayReadings(nodes []string, start int64, count int) []readings.Reading {
	var out []readings.Reading
	for i := 0; i < count; i++ {
		ts := start + int64(i)*60
		for _, n := range nodes {
			out = append(out,
				readings.Reading{NodeID: n, Type: readings.SignalTemperature,
					Value: fmt.Sprintf("%d.5", 20+i%3), Time: ts},
				readings.Reading{NodeID: n, Type: readings.SignalHumidity,
					Value: fmt.Sprintf("b'%d.0'", 50+i%5), Time: ts})
		}
	}
	return out
}

func TestAlignerBuild(t *testing.T) {
	a := NewAligner(nil)
	rs := gatewayReadings([]string{"1", "2"}, 0, 25)

	frame, err := a.Build("gw", rs)
	require.NoError(t, err)

	assert.Equal(t, []string{"1_F", "1_H", "2_F", "2_H"}, frame.Columns)
	assert.Equal(t, 25, frame.NumRows())
	require.Len(t, frame.Times, 25)
	for i := 1; i < len(frame.Times); i++ {
		assert.Less(t, frame.Times[i-1], frame.Times[i])
	}
	// Bucket starts are multiples of the 60s width.
	for _, ts := range frame.Times {
		assert.Zero(t, ts%60)
	}
}

func TestAlignerDeterminism(t *testing.T) {
	a := NewAligner(nil)
	rs := gatewayReadings([]string{"1", "2", "3"}, 1000, 30)

	first, err := a.Build("gw", rs)
	require.NoError(t, err)
	second, err := a.Build("gw", rs)
	require.NoError(t, err)

	assert.Equal(t, first.Columns, second.Columns)
	assert.Equal(t, first.Rows, second.Rows)
	assert.Equal(t, first.Times, second.Times)
}

func TestAlignerWithheldSignalNotRequired(t *testing.T) {
	// Node 2 never reports humidity in the window: the 2_H column must not
	// exist, must not be required, and no rows may be dropped for it.
	var rs []readings.Reading
	for _, r := range gatewayReadings([]string{"1", "2"}, 0, 25) {
		if r.NodeID == "2" && r.Type == readings.SignalHumidity {
			continue
		}
		rs = append(rs, r)
	}

	frame, err := NewAligner(nil).Build("gw", rs)
	require.NoError(t, err)
	assert.Equal(t, []string{"1_F", "1_H", "2_F"}, frame.Columns)
	assert.Equal(t, 25, frame.NumRows())
}

func TestAlignerDropsIncompleteRows(t *testing.T) {
	rs := gatewayReadings([]string{"1", "2"}, 0, 25)
	// Remove node 2's humidity for one bucket only.
	var filtered []readings.Reading
	for _, r := range rs {
		if r.NodeID == "2" && r.Type == readings.SignalHumidity && r.Time == 600 {
			continue
		}
		filtered = append(filtered, r)
	}

	frame, err := NewAligner(nil).Build("gw", filtered)
	require.NoError(t, err)
	assert.Equal(t, 24, frame.NumRows())
	assert.NotContains(t, frame.Times, int64(600))

	// Every retained row is complete in all required columns.
	for _, row := range frame.Rows {
		for _, v := range row {
			assert.False(t, math.IsNaN(v))
		}
	}
}

func TestAlignerOptionalSignalSparse(t *testing.T) {
	rs := gatewayReadings([]string{"1"}, 0, 25)
	// Node 1 reports pressure only in the first 10 buckets.
	for i := 0; i < 10; i++ {
		rs = append(rs, readings.Reading{
			NodeID: "1", Type: readings.SignalPressure,
			Value: "101.3", Time: int64(i) * 60,
		})
	}

	frame, err := NewAligner(nil).Build("gw", rs)
	require.NoError(t, err)
	assert.Equal(t, []string{"1_F", "1_H", "1_P"}, frame.Columns)
	// No rows dropped for the sparse optional column.
	assert.Equal(t, 25, frame.NumRows())

	nan := 0
	for _, row := range frame.Rows {
		if math.IsNaN(row[2]) {
			nan++
		}
	}
	assert.Equal(t, 15, nan)
}

func TestAlignerFirstReadingWinsInBucket(t *testing.T) {
	rs := gatewayReadings([]string{"1"}, 0, 25)
	// A second temperature reading lands in bucket 0 after the first.
	rs = append(rs, readings.Reading{
		NodeID: "1", Type: readings.SignalTemperature, Value: "99.9", Time: 30,
	})

	frame, err := NewAligner(nil).Build("gw", rs)
	require.NoError(t, err)
	assert.Equal(t, 20.5, frame.Rows[0][0])
}

func TestAlignerMalformedValuesDropped(t *testing.T) {
	rs := gatewayReadings([]string{"1"}, 0, 25)
	// Corrupt node 1's temperature in bucket 0; the bucket then lacks a
	// required column and is dropped.
	for i, r := range rs {
		if r.Type == readings.SignalTemperature && r.Time == 0 {
			rs[i].Value = "offline"
		}
	}

	frame, err := NewAligner(nil).Build("gw", rs)
	require.NoError(t, err)
	assert.Equal(t, 24, frame.NumRows())
	assert.NotContains(t, frame.Times, int64(0))
}

func TestAlignerInsufficientData(t *testing.T) {
	tests := []struct {
		name string
		rs   []readings.Reading
	}{
		{
			name: "no readings",
			rs:   nil,
		},
		{
			name: "all values malformed",
			rs: []readings.Reading{
				{NodeID: "1", Type: readings.SignalTemperature, Value: "x", Time: 0},
				{NodeID: "1", Type: readings.SignalHumidity, Value: "y", Time: 0},
			},
		},
		{
			name: "fewer than minimum rows",
			rs:   gatewayReadings([]string{"1"}, 0, 10),
		},
		{
			name: "only optional signals present",
			rs: []readings.Reading{
				{NodeID: "1", Type: readings.SignalPressure, Value: "101.0", Time: 0},
				{NodeID: "1", Type: readings.SignalPressure, Value: "101.2", Time: 60},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAligner(nil).Build("gw", tt.rs)
			assert.ErrorIs(t, err, ErrInsufficientData)
		})
	}
}
