// Package sampling manufactures synthetic negative (anomalous) rows from
// positive-only data. True anomaly labels never exist for this kind of
// sensor data; permuted negatives give the trainer a labeled surrogate for
// AUC ranking, and range-extended negatives let one detector variant turn
// density estimation into binary classification.
package sampling

import (
	"math"
	"math/rand"

	"github.com/keyvanazami/sensoriot-anomaly/pkg/dataset"
)

// Labels attached to training and evaluation rows.
const (
	LabelAnomalous = 0
	LabelNormal    = 1
)

// Permuted draws size rows where each column is an independent resample of
// that column's observed values. Sizes up to the row count draw without
// replacement; larger sizes are filled from additional permutation passes,
// so each column's marginal distribution is preserved while the joint
// structure across columns is destroyed. Callers label the result anomalous.
func Permuted(f *dataset.Frame, size int, rng *rand.Rand) *dataset.Frame {
	n := f.NumRows()
	out := dataset.New(f.Columns)
	if n == 0 || size <= 0 {
		return out
	}
	out.Rows = make([][]float64, size)
	for i := range out.Rows {
		out.Rows[i] = make([]float64, len(f.Columns))
	}
	for j := range f.Columns {
		for base := 0; base < size; base += n {
			for k, p := range rng.Perm(n) {
				if base+k >= size {
					break
				}
				out.Rows[base+k][j] = f.Rows[p][j]
			}
		}
	}
	return out
}

// Augment builds a labeled training set from positive-only rows: the
// positives labeled normal plus ratio*len(rows) synthetic negatives drawn
// uniformly per column within [min - delta*range, max + delta*range],
// shuffled together. Returned rows and labels are parallel.
func Augment(rows [][]float64, ratio, delta float64, rng *rand.Rand) ([][]float64, []int) {
	if len(rows) == 0 {
		return nil, nil
	}
	nCols := len(rows[0])

	lo := make([]float64, nCols)
	hi := make([]float64, nCols)
	for j := 0; j < nCols; j++ {
		lo[j], hi[j] = math.Inf(1), math.Inf(-1)
		for _, row := range rows {
			v := row[j]
			if math.IsNaN(v) {
				continue
			}
			if v < lo[j] {
				lo[j] = v
			}
			if v > hi[j] {
				hi[j] = v
			}
		}
		if math.IsInf(lo[j], 1) {
			lo[j], hi[j] = 0, 0
		}
		span := hi[j] - lo[j]
		lo[j] -= delta * span
		hi[j] += delta * span
	}

	nNeg := int(ratio * float64(len(rows)))
	combined := make([][]float64, 0, len(rows)+nNeg)
	labels := make([]int, 0, len(rows)+nNeg)
	for _, row := range rows {
		combined = append(combined, row)
		labels = append(labels, LabelNormal)
	}
	for i := 0; i < nNeg; i++ {
		neg := make([]float64, nCols)
		for j := 0; j < nCols; j++ {
			neg[j] = lo[j] + rng.Float64()*(hi[j]-lo[j])
		}
		combined = append(combined, neg)
		labels = append(labels, LabelAnomalous)
	}

	rng.Shuffle(len(combined), func(i, j int) {
		combined[i], combined[j] = combined[j], combined[i]
		labels[i], labels[j] = labels[j], labels[i]
	})
	return combined, labels
}
