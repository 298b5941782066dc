package dataset

import (
	"fmt"
	"math"
)

// Stats holds frozen per-column min-max normalization statistics. A detector
// fits Stats once from its training frame and applies the same statistics to
// every later prediction; they are never refit.
type Stats struct {
	Columns []string
	Min     []float64
	Max     []float64
}

// FitStats computes min-max statistics for every column of f.
// NaN cells (sparse optional signals) are skipped.
func FitStats(f *Frame) (*Stats, error) {
	if f.NumRows() == 0 {
		return nil, fmt.Errorf("cannot fit normalization on empty frame")
	}
	s := &Stats{
		Columns: append([]string(nil), f.Columns...),
		Min:     make([]float64, len(f.Columns)),
		Max:     make([]float64, len(f.Columns)),
	}
	for j := range f.Columns {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, row := range f.Rows {
			v := row[j]
			if math.IsNaN(v) {
				continue
			}
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if math.IsInf(lo, 1) {
			// Column is entirely NaN; treat as zero-range at 0.
			lo, hi = 0, 0
		}
		s.Min[j] = lo
		s.Max[j] = hi
	}
	return s, nil
}

// Apply scales rows into [0,1] per column using the frozen statistics.
// Rows must follow the stats column order. Zero-range columns and NaN cells
// map to the 0.5 midpoint so constant or sparse features stay well-defined.
func (s *Stats) Apply(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		norm := make([]float64, len(row))
		for j, v := range row {
			span := s.Max[j] - s.Min[j]
			switch {
			case math.IsNaN(v), span == 0:
				norm[j] = 0.5
			default:
				norm[j] = (v - s.Min[j]) / span
			}
		}
		out[i] = norm
	}
	return out
}
