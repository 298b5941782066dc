// Package csvstore provides a CSV-file reading source for offline training
// and scoring runs. The expected columns are gateway_id, node_id, type,
// value, time; malformed records are skipped.
package csvstore

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/keyvanazami/sensoriot-anomaly/pkg/readings"
)

// Source reads readings from a CSV file.
type Source struct {
	path      string
	hasHeader bool
}

// Option configures a Source.
type Option func(*Source)

// WithHeader indicates whether the CSV carries a header row.
func WithHeader(has bool) Option {
	return func(s *Source) { s.hasHeader = has }
}

// New returns a CSV source for the given file.
func New(path string, opts ...Option) *Source {
	s := &Source{path: path, hasHeader: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Query reads the whole file and returns the matching gateway's readings
// with Time >= since and Type in the given set.
func (s *Source) Query(_ context.Context, gatewayID string, since int64, types []readings.SignalType) ([]readings.Reading, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	if s.hasHeader {
		if _, err := reader.Read(); err != nil {
			return nil, err
		}
	}

	wanted := make(map[readings.SignalType]struct{}, len(types))
	for _, t := range types {
		wanted[t] = struct{}{}
	}

	var out []readings.Reading
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}
		r, gw, ok := parseRecord(record)
		if !ok || gw != gatewayID || r.Time < since {
			continue
		}
		if _, want := wanted[r.Type]; !want {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// parseRecord converts one CSV record to a reading. The value column stays
// a raw string; cleaning happens in the aligner.
func parseRecord(record []string) (readings.Reading, string, bool) {
	if len(record) < 5 {
		return readings.Reading{}, "", false
	}
	ts, err := strconv.ParseInt(record[4], 10, 64)
	if err != nil {
		return readings.Reading{}, "", false
	}
	return readings.Reading{
		NodeID: record[1],
		Type:   readings.SignalType(record[2]),
		Value:  record[3],
		Time:   ts,
	}, record[0], true
}
