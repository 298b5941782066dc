// Package iforest implements the isolation-partitioning detector variant:
// points isolated by short random axis-aligned partition paths score as
// anomalous.
package iforest

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/keyvanazami/sensoriot-anomaly/pkg/dataset"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/detectors"
)

// TypeTag identifies this variant in model metadata.
const TypeTag = "IsolationForest"

func init() {
	detectors.Register(TypeTag, func() detectors.Detector { return New() })
}

// IsolationForest scores rows by the average path length needed to isolate
// them across an ensemble of random partition trees. The class probability
// is 1 - 2^(-E[h]/c(n)); short paths push it toward 0 (anomalous).
type IsolationForest struct {
	mu sync.RWMutex

	nTrees        int
	sampleSize    int
	contamination float64
	seed          int64
	maxDepth      int

	columns       []string
	stats         *dataset.Stats
	trees         []*treeNode
	avgPathLength float64
	threshold     float64
	trained       bool
}

// treeNode is a node in one isolation tree. Fields are exported for gob.
type treeNode struct {
	SplitFeature int
	SplitValue   float64
	Left         *treeNode
	Right        *treeNode
	Size         int
}

// Option configures an IsolationForest.
type Option func(*IsolationForest)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *IsolationForest) { f.nTrees = n }
}

// WithSampleSize sets the subsample size for each tree.
func WithSampleSize(n int) Option {
	return func(f *IsolationForest) { f.sampleSize = n }
}

// WithContamination sets the expected proportion of anomalies used to
// calibrate the standalone threshold.
func WithContamination(c float64) Option {
	return func(f *IsolationForest) { f.contamination = c }
}

// WithSeed sets the random seed used at training time.
func WithSeed(seed int64) Option {
	return func(f *IsolationForest) { f.seed = seed }
}

// New creates a new IsolationForest with the given options.
func New(opts ...Option) *IsolationForest {
	f := &IsolationForest{
		nTrees:        100,
		sampleSize:    256,
		contamination: 0.05,
		seed:          42,
		threshold:     0.5,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Train fits the forest on positive-only rows, freezing column order and
// normalization. The fit is reproducible for a given frame and seed.
func (f *IsolationForest) Train(frame *dataset.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if frame == nil || frame.NumRows() == 0 {
		return detectors.ErrEmptyDataset
	}

	stats, err := dataset.FitStats(frame)
	if err != nil {
		return err
	}
	f.columns = append([]string(nil), frame.Columns...)
	f.stats = stats
	data := stats.Apply(frame.Rows)

	nSamples := len(data)
	nFeatures := len(f.columns)
	sampleSize := f.sampleSize
	if sampleSize > nSamples {
		sampleSize = nSamples
	}
	f.maxDepth = int(math.Ceil(math.Log2(float64(sampleSize) + 1)))

	rng := rand.New(rand.NewSource(f.seed))
	f.trees = make([]*treeNode, f.nTrees)
	for i := 0; i < f.nTrees; i++ {
		indices := rng.Perm(nSamples)[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, idx := range indices {
			sample[j] = data[idx]
		}
		f.trees[i] = f.buildNode(rng, sample, nFeatures, 0)
	}

	f.avgPathLength = averagePathLength(float64(sampleSize))
	f.trained = true

	// Calibrate the standalone threshold so roughly the contamination
	// fraction of the training rows falls below it.
	if f.contamination > 0 {
		probs := f.predict(data)
		f.threshold = percentile(probs, 100*f.contamination)
	}
	return nil
}

func (f *IsolationForest) buildNode(rng *rand.Rand, data [][]float64, nFeatures, depth int) *treeNode {
	n := len(data)
	if depth >= f.maxDepth || n <= 1 {
		return &treeNode{Size: n}
	}

	feature := rng.Intn(nFeatures)
	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}
	if minVal == maxVal {
		return &treeNode{Size: n}
	}

	splitValue := minVal + rng.Float64()*(maxVal-minVal)
	var leftData, rightData [][]float64
	for _, row := range data {
		if row[feature] < splitValue {
			leftData = append(leftData, row)
		} else {
			rightData = append(rightData, row)
		}
	}
	return &treeNode{
		SplitFeature: feature,
		SplitValue:   splitValue,
		Left:         f.buildNode(rng, leftData, nFeatures, depth+1),
		Right:        f.buildNode(rng, rightData, nFeatures, depth+1),
	}
}

// Predict returns the class probability per row, 1.0 normal to 0.0
// anomalous. Extra columns in frame are ignored.
func (f *IsolationForest) Predict(frame *dataset.Frame) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, detectors.ErrNotTrained
	}
	sub, err := frame.Select(f.columns)
	if err != nil {
		return nil, fmt.Errorf("isolation forest predict: %w", err)
	}
	return f.predict(f.stats.Apply(sub.Rows)), nil
}

func (f *IsolationForest) predict(data [][]float64) []float64 {
	probs := make([]float64, len(data))
	for i, sample := range data {
		var totalPath float64
		for _, root := range f.trees {
			totalPath += pathLength(sample, root, 0)
		}
		avgPath := totalPath / float64(len(f.trees))
		// Isolation score 2^(-E[h]/c(n)); invert so 1.0 means normal.
		probs[i] = 1 - math.Pow(2, -avgPath/f.avgPathLength)
	}
	return probs
}

// Threshold returns the contamination-calibrated class-probability cutoff.
func (f *IsolationForest) Threshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.threshold
}

func pathLength(sample []float64, n *treeNode, depth int) float64 {
	if n.Left == nil && n.Right == nil {
		return float64(depth) + averagePathLength(float64(n.Size))
	}
	if sample[n.SplitFeature] < n.SplitValue {
		return pathLength(sample, n.Left, depth+1)
	}
	return pathLength(sample, n.Right, depth+1)
}

// averagePathLength returns the average path length of unsuccessful search
// in a BST: c(n) = 2*H(n-1) - 2*(n-1)/n.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	return 2*(math.Log(n-1)+0.5772156649) - 2*(n-1)/n
}

// percentile returns the p-th percentile of data.
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)-1) * p / 100)
	return sorted[idx]
}

type forestModel struct {
	NTrees        int
	SampleSize    int
	Contamination float64
	Seed          int64
	MaxDepth      int
	Columns       []string
	Stats         *dataset.Stats
	Trees         []*treeNode
	AvgPathLength float64
	Threshold     float64
}

// Save serializes the trained model.
func (f *IsolationForest) Save() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, detectors.ErrNotTrained
	}
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(forestModel{
		NTrees:        f.nTrees,
		SampleSize:    f.sampleSize,
		Contamination: f.contamination,
		Seed:          f.seed,
		MaxDepth:      f.maxDepth,
		Columns:       f.columns,
		Stats:         f.stats,
		Trees:         f.trees,
		AvgPathLength: f.avgPathLength,
		Threshold:     f.threshold,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained model.
func (f *IsolationForest) Load(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var m forestModel
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return err
	}
	f.nTrees = m.NTrees
	f.sampleSize = m.SampleSize
	f.contamination = m.Contamination
	f.seed = m.Seed
	f.maxDepth = m.MaxDepth
	f.columns = m.Columns
	f.stats = m.Stats
	f.trees = m.Trees
	f.avgPathLength = m.AvgPathLength
	f.threshold = m.Threshold
	f.trained = true
	return nil
}
