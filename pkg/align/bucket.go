// Package align turns raw per-reading records into the wide, time-bucketed
// feature matrix the detectors train on.
package align

import (
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/keyvanazami/sensoriot-anomaly/pkg/readings"
)

// DefaultBucketCandidates are the bucket widths tried in ascending order,
// in seconds.
var DefaultBucketCandidates = []int64{60, 120, 300, 600, 900, 1800, 3600}

// DefaultBucketSeconds is the fallback width when no node has enough
// readings to estimate a reporting interval.
const DefaultBucketSeconds int64 = 60

// SelectBucketSeconds picks the time-bucket width for one gateway window.
//
// Nodes transmit their signals atomically but at heterogeneous duty cycles,
// so the bucket only has to be wide enough that the slowest node fires at
// least once per bucket. For each node the median gap between consecutive
// temperature readings is computed (nodes with fewer than two readings are
// skipped); the answer is the smallest candidate >= the largest median, the
// largest candidate if none suffices, or fallback if no node yields a median.
func SelectBucketSeconds(rs []readings.Reading, candidates []int64, fallback int64) int64 {
	if len(candidates) == 0 {
		return fallback
	}

	byNode := make(map[string][]float64)
	for _, r := range rs {
		if r.Type != readings.SignalTemperature {
			continue
		}
		byNode[r.NodeID] = append(byNode[r.NodeID], float64(r.Time))
	}

	var maxInterval float64
	found := false
	for _, times := range byNode {
		if len(times) < 2 {
			continue
		}
		sort.Float64s(times)
		diffs := make([]float64, len(times)-1)
		for i := 1; i < len(times); i++ {
			diffs[i-1] = times[i] - times[i-1]
		}
		med, err := stats.Median(diffs)
		if err != nil {
			continue
		}
		if !found || med > maxInterval {
			maxInterval = med
		}
		found = true
	}

	if !found {
		return fallback
	}
	for _, c := range candidates {
		if float64(c) >= maxInterval {
			return c
		}
	}
	return candidates[len(candidates)-1]
}
