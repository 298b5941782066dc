// Package ocsvm implements the one-class boundary detector variant: a
// single RBF-kernel boundary is fit around the bulk of the normal training
// data and new rows are classified strictly inside/outside.
package ocsvm

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/keyvanazami/sensoriot-anomaly/pkg/dataset"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/detectors"
)

// TypeTag identifies this variant in model metadata.
const TypeTag = "OneClassSVM"

func init() {
	detectors.Register(TypeTag, func() detectors.Detector { return New() })
}

// OneClassSVM scores a row by its mean RBF kernel similarity to the
// normalized training set and compares it against an offset chosen so that
// roughly a nu fraction of the training rows falls outside the boundary.
//
// The prediction is binary: class probability 1.0 inside the boundary, 0.0
// outside. There is no continuous score.
type OneClassSVM struct {
	mu sync.RWMutex

	nu    float64
	gamma float64 // configured; <= 0 means scale by feature count and variance

	columns     []string
	stats       *dataset.Stats
	support     [][]float64
	fittedGamma float64
	rho         float64
	trained     bool
}

// Option configures a OneClassSVM.
type Option func(*OneClassSVM)

// WithNu sets the expected fraction of training rows outside the boundary.
func WithNu(nu float64) Option {
	return func(d *OneClassSVM) { d.nu = nu }
}

// WithGamma fixes the RBF kernel width instead of deriving it from the data.
func WithGamma(g float64) Option {
	return func(d *OneClassSVM) { d.gamma = g }
}

// New creates a new OneClassSVM with the given options.
func New(opts ...Option) *OneClassSVM {
	d := &OneClassSVM{nu: 0.1}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Train fits the boundary on positive-only rows, freezing column order and
// normalization.
func (d *OneClassSVM) Train(frame *dataset.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if frame == nil || frame.NumRows() == 0 {
		return detectors.ErrEmptyDataset
	}

	stats, err := dataset.FitStats(frame)
	if err != nil {
		return err
	}
	d.columns = append([]string(nil), frame.Columns...)
	d.stats = stats
	d.support = stats.Apply(frame.Rows)

	// The kernel width is refit on every Train so a retrain never inherits
	// the width derived from a previous dataset.
	gamma := d.gamma
	if gamma <= 0 {
		gamma = scaleGamma(d.support)
	}
	d.fittedGamma = gamma

	// Offset at the nu-quantile of the training scores: the nu fraction of
	// least-typical training rows ends up outside the boundary.
	scores := make([]float64, len(d.support))
	for i, row := range d.support {
		scores[i] = d.kernelMean(row)
	}
	sort.Float64s(scores)
	idx := int(d.nu * float64(len(scores)-1))
	d.rho = scores[idx]
	d.trained = true
	return nil
}

// Predict returns 1.0 for rows inside the boundary and 0.0 outside.
func (d *OneClassSVM) Predict(frame *dataset.Frame) ([]float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.trained {
		return nil, detectors.ErrNotTrained
	}
	sub, err := frame.Select(d.columns)
	if err != nil {
		return nil, fmt.Errorf("one-class svm predict: %w", err)
	}
	rows := d.stats.Apply(sub.Rows)
	probs := make([]float64, len(rows))
	for i, row := range rows {
		if d.kernelMean(row) >= d.rho {
			probs[i] = 1.0
		}
	}
	return probs, nil
}

func (d *OneClassSVM) kernelMean(x []float64) float64 {
	var sum float64
	for _, s := range d.support {
		var sq float64
		for j := range x {
			diff := x[j] - s[j]
			sq += diff * diff
		}
		sum += math.Exp(-d.fittedGamma * sq)
	}
	return sum / float64(len(d.support))
}

// scaleGamma mirrors the common 1/(n_features * var) kernel-width heuristic.
func scaleGamma(rows [][]float64) float64 {
	nCols := len(rows[0])
	var sum, sumSq, count float64
	for _, row := range rows {
		for _, v := range row {
			sum += v
			sumSq += v * v
			count++
		}
	}
	mean := sum / count
	variance := sumSq/count - mean*mean
	if variance <= 0 {
		return 1.0
	}
	return 1.0 / (float64(nCols) * variance)
}

type svmModel struct {
	Nu          float64
	Gamma       float64
	FittedGamma float64
	Columns     []string
	Stats       *dataset.Stats
	Support     [][]float64
	Rho         float64
}

// Save serializes the trained model.
func (d *OneClassSVM) Save() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.trained {
		return nil, detectors.ErrNotTrained
	}
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(svmModel{
		Nu:          d.nu,
		Gamma:       d.gamma,
		FittedGamma: d.fittedGamma,
		Columns:     d.columns,
		Stats:       d.stats,
		Support:     d.support,
		Rho:         d.rho,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained model.
func (d *OneClassSVM) Load(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var m svmModel
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return err
	}
	d.nu = m.Nu
	d.gamma = m.Gamma
	d.fittedGamma = m.FittedGamma
	d.columns = m.Columns
	d.stats = m.Stats
	d.support = m.Support
	d.rho = m.Rho
	d.trained = true
	return nil
}
