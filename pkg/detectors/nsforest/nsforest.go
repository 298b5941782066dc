// Package nsforest implements the negative-sampling ensemble variant:
// anomaly detection converted into supervised binary classification by
// augmenting the normalized positive training set with synthetic negatives
// and fitting a random forest on the combined labeled set.
package nsforest

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/keyvanazami/sensoriot-anomaly/pkg/dataset"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/detectors"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/sampling"
)

// TypeTag identifies this variant in model metadata.
const TypeTag = "NS-RandomForest"

func init() {
	detectors.Register(TypeTag, func() detectors.Detector { return New() })
}

// Forest is a bootstrap ensemble of gini CART trees trained on the
// augmented labeled set. Predict returns the ensemble's mean probability of
// the normal class directly.
type Forest struct {
	mu sync.RWMutex

	nTrees      int
	maxDepth    int
	sampleRatio float64
	sampleDelta float64
	seed        int64

	columns []string
	stats   *dataset.Stats
	trees   []*cartNode
	trained bool
}

// cartNode is a node of one classification tree. Leaves carry the fraction
// of normal-labeled samples that reached them. Fields are exported for gob.
type cartNode struct {
	SplitFeature int
	SplitValue   float64
	Left         *cartNode
	Right        *cartNode
	Prob         float64
	Leaf         bool
}

// Option configures a Forest.
type Option func(*Forest)

// WithTrees sets the ensemble size.
func WithTrees(n int) Option {
	return func(f *Forest) { f.nTrees = n }
}

// WithMaxDepth caps tree depth; 0 means unlimited.
func WithMaxDepth(d int) Option {
	return func(f *Forest) { f.maxDepth = d }
}

// WithSampleRatio sets the negative-to-positive augmentation ratio.
func WithSampleRatio(r float64) Option {
	return func(f *Forest) { f.sampleRatio = r }
}

// WithSampleDelta sets the range extension used when drawing negatives.
func WithSampleDelta(d float64) Option {
	return func(f *Forest) { f.sampleDelta = d }
}

// WithSeed sets the random seed used at training time.
func WithSeed(seed int64) Option {
	return func(f *Forest) { f.seed = seed }
}

// New creates a new Forest with the given options.
func New(opts ...Option) *Forest {
	f := &Forest{
		nTrees:      100,
		sampleRatio: 2.0,
		sampleDelta: 0.05,
		seed:        42,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Train fits the forest on positive-only rows: normalization is frozen,
// the normalized positives are augmented with synthetic negatives, and the
// ensemble is fit on the combined labeled set.
func (f *Forest) Train(frame *dataset.Frame) error {
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

	rng := rand.New(rand.NewSource(f.seed))
	rows, labels := sampling.Augment(stats.Apply(frame.Rows), f.sampleRatio, f.sampleDelta, rng)

	n := len(rows)
	nFeatures := len(f.columns)
	mtry := int(math.Sqrt(float64(nFeatures)))
	if mtry < 1 {
		mtry = 1
	}

	f.trees = make([]*cartNode, f.nTrees)
	for i := 0; i < f.nTrees; i++ {
		// Bootstrap sample with replacement.
		bootRows := make([][]float64, n)
		bootLabels := make([]int, n)
		for j := 0; j < n; j++ {
			k := rng.Intn(n)
			bootRows[j] = rows[k]
			bootLabels[j] = labels[k]
		}
		f.trees[i] = buildTree(rng, bootRows, bootLabels, mtry, f.maxDepth, 0)
	}
	f.trained = true
	return nil
}

func buildTree(rng *rand.Rand, rows [][]float64, labels []int, mtry, maxDepth, depth int) *cartNode {
	n := len(rows)
	pos := 0
	for _, l := range labels {
		if l == sampling.LabelNormal {
			pos++
		}
	}
	prob := float64(pos) / float64(n)

	if n < 2 || pos == 0 || pos == n || (maxDepth > 0 && depth >= maxDepth) {
		return &cartNode{Leaf: true, Prob: prob}
	}

	nFeatures := len(rows[0])
	bestGini := math.Inf(1)
	bestFeature := -1
	var bestValue float64

	for _, feature := range rng.Perm(nFeatures)[:mtry] {
		value, gini, ok := bestSplit(rows, labels, feature)
		if ok && gini < bestGini {
			bestGini = gini
			bestFeature = feature
			bestValue = value
		}
	}
	if bestFeature < 0 {
		return &cartNode{Leaf: true, Prob: prob}
	}

	var leftRows, rightRows [][]float64
	var leftLabels, rightLabels []int
	for i, row := range rows {
		if row[bestFeature] < bestValue {
			leftRows = append(leftRows, row)
			leftLabels = append(leftLabels, labels[i])
		} else {
			rightRows = append(rightRows, row)
			rightLabels = append(rightLabels, labels[i])
		}
	}
	if len(leftRows) == 0 || len(rightRows) == 0 {
		return &cartNode{Leaf: true, Prob: prob}
	}
	return &cartNode{
		SplitFeature: bestFeature,
		SplitValue:   bestValue,
		Left:         buildTree(rng, leftRows, leftLabels, mtry, maxDepth, depth+1),
		Right:        buildTree(rng, rightRows, rightLabels, mtry, maxDepth, depth+1),
	}
}

// bestSplit scans the sorted values of one feature and returns the midpoint
// threshold with the lowest weighted gini impurity.
func bestSplit(rows [][]float64, labels []int, feature int) (value, gini float64, ok bool) {
	n := len(rows)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	// Insertion sort by feature value; partitions at this depth are small.
	for i := 1; i < n; i++ {
		for j := i; j > 0 && rows[order[j]][feature] < rows[order[j-1]][feature]; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}

	totalPos := 0
	for _, l := range labels {
		if l == sampling.LabelNormal {
			totalPos++
		}
	}

	bestGini := math.Inf(1)
	var bestValue float64
	leftPos, leftN := 0, 0
	for i := 0; i < n-1; i++ {
		if labels[order[i]] == sampling.LabelNormal {
			leftPos++
		}
		leftN++

		cur, next := rows[order[i]][feature], rows[order[i+1]][feature]
		if cur == next {
			continue
		}
		rightN := n - leftN
		rightPos := totalPos - leftPos
		g := weightedGini(leftPos, leftN, rightPos, rightN)
		if g < bestGini {
			bestGini = g
			bestValue = (cur + next) / 2
		}
	}
	if math.IsInf(bestGini, 1) {
		return 0, 0, false
	}
	return bestValue, bestGini, true
}

func weightedGini(leftPos, leftN, rightPos, rightN int) float64 {
	n := float64(leftN + rightN)
	return float64(leftN)/n*giniImpurity(leftPos, leftN) +
		float64(rightN)/n*giniImpurity(rightPos, rightN)
}

func giniImpurity(pos, n int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(pos) / float64(n)
	return 2 * p * (1 - p)
}

// Predict returns the mean probability of the normal class per row.
func (f *Forest) Predict(frame *dataset.Frame) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, detectors.ErrNotTrained
	}
	sub, err := frame.Select(f.columns)
	if err != nil {
		return nil, fmt.Errorf("ns-forest predict: %w", err)
	}
	rows := f.stats.Apply(sub.Rows)
	probs := make([]float64, len(rows))
	for i, row := range rows {
		var sum float64
		for _, root := range f.trees {
			sum += classify(row, root)
		}
		probs[i] = sum / float64(len(f.trees))
	}
	return probs, nil
}

func classify(row []float64, n *cartNode) float64 {
	for !n.Leaf {
		if row[n.SplitFeature] < n.SplitValue {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Prob
}

type forestModel struct {
	NTrees      int
	MaxDepth    int
	SampleRatio float64
	SampleDelta float64
	Seed        int64
	Columns     []string
	Stats       *dataset.Stats
	Trees       []*cartNode
}

// Save serializes the trained model.
func (f *Forest) Save() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, detectors.ErrNotTrained
	}
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(forestModel{
		NTrees:      f.nTrees,
		MaxDepth:    f.maxDepth,
		SampleRatio: f.sampleRatio,
		SampleDelta: f.sampleDelta,
		Seed:        f.seed,
		Columns:     f.columns,
		Stats:       f.stats,
		Trees:       f.trees,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained model.
func (f *Forest) Load(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var m forestModel
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return err
	}
	f.nTrees = m.NTrees
	f.maxDepth = m.MaxDepth
	f.sampleRatio = m.SampleRatio
	f.sampleDelta = m.SampleDelta
	f.seed = m.Seed
	f.columns = m.Columns
	f.stats = m.Stats
	f.trees = m.Trees
	f.trained = true
	return nil
}
