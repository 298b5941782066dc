// Package readings defines the raw sensor reading model and the sources
// that feed readings into the alignment and training pipeline.
package readings

import (
	"context"
	"strconv"
	"strings"
)

// SignalType identifies the kind of value a node reports.
type SignalType string

const (
	// SignalTemperature is the primary temperature signal.
	SignalTemperature SignalType = "F"
	// SignalHumidity is the primary humidity signal.
	SignalHumidity SignalType = "H"
	// SignalPressure is an optional tertiary signal; not every node reports it.
	SignalPressure SignalType = "P"
)

// PrimarySignals are the types every node is expected to report each cycle.
// A node that contributed any data in a window must have these present in a
// time bucket for the bucket to be usable.
var PrimarySignals = []SignalType{SignalTemperature, SignalHumidity}

// AllSignals is the full set of types the pipeline consumes.
var AllSignals = []SignalType{SignalTemperature, SignalHumidity, SignalPressure}

// Reading is a single raw sensor sample as stored by the ingestion layer.
// Value is kept as the raw string; upstream firmware sometimes wraps it in
// byte-string artifacts that CleanValue strips.
type Reading struct {
	NodeID string     `json:"node_id"`
	Type   SignalType `json:"type"`
	Value  string     `json:"value"`
	Time   int64      `json:"time"`
}

// Source is the external collaborator that stores raw readings.
// Implementations return readings for one gateway with Time >= since and
// Type in the given set. A failed or empty query is treated by callers as
// "no data", never as a fatal pipeline error.
type Source interface {
	Query(ctx context.Context, gatewayID string, since int64, types []SignalType) ([]Reading, error)
}

// CleanValue strips known encoding artifacts (a b'...' wrapper, stray
// quotes) from a raw value and parses it as a float. The second return is
// false when the value cannot be parsed; malformed readings are dropped
// downstream rather than failing the pipeline.
func CleanValue(raw string) (float64, bool) {
	s := strings.ReplaceAll(raw, "b'", "")
	s = strings.ReplaceAll(s, "'", "")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
