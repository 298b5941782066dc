package align

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/keyvanazami/sensoriot-anomaly/pkg/dataset"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/readings"
)

// ErrInsufficientData marks a window that cannot produce a training matrix:
// no parsable readings, no usable primary columns, or too few complete rows.
// Callers report it as a skip, not a failure.
var ErrInsufficientData = errors.New("insufficient aligned data")

// DefaultMinRows is the minimum number of complete aligned rows required to
// train a model.
const DefaultMinRows = 20

// Aligner pivots raw readings into one row per time bucket with one column
// per observed "{node}_{type}" pair.
type Aligner struct {
	BucketCandidates []int64
	FallbackBucket   int64
	MinRows          int

	log *zap.Logger
}

// NewAligner returns an aligner with the default bucket candidates and
// minimum row count. A nil logger disables logging.
func NewAligner(log *zap.Logger) *Aligner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aligner{
		BucketCandidates: DefaultBucketCandidates,
		FallbackBucket:   DefaultBucketSeconds,
		MinRows:          DefaultMinRows,
		log:              log,
	}
}

type cleanReading struct {
	node  string
	typ   readings.SignalType
	value float64
	time  int64
}

// Build aligns one gateway's readings into a feature frame.
//
// Values are cleaned and unparsable readings dropped; each reading lands in
// bucket floor(time/width)*width under column "{node}_{type}". When a bucket
// holds several readings for one column the first observed wins. Every node
// that contributed any reading makes its present primary columns (F, H)
// required; rows missing a required value are dropped, while optional
// columns (P) may stay sparse. The returned frame's Times slice holds the
// bucket-start timestamps. Columns are sorted, and the output is fully
// deterministic for a given input.
func (a *Aligner) Build(gatewayID string, rs []readings.Reading) (*dataset.Frame, error) {
	cleaned := make([]cleanReading, 0, len(rs))
	for _, r := range rs {
		v, ok := readings.CleanValue(r.Value)
		if !ok {
			continue
		}
		cleaned = append(cleaned, cleanReading{node: r.NodeID, typ: r.Type, value: v, time: r.Time})
	}
	if len(cleaned) == 0 {
		a.log.Info("no parsable readings", zap.String("gateway", gatewayID))
		return nil, fmt.Errorf("%w: no readings", ErrInsufficientData)
	}

	nodeSet := make(map[string]struct{})
	for _, c := range cleaned {
		nodeSet[c.node] = struct{}{}
	}
	nodes := make([]string, 0, len(nodeSet))
	for n := range nodeSet {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	width := SelectBucketSeconds(rs, a.BucketCandidates, a.FallbackBucket)
	a.log.Info("selected bucket width",
		zap.String("gateway", gatewayID),
		zap.Int64("bucket_seconds", width),
		zap.Strings("nodes", nodes))

	// Pivot: bucket -> column -> first observed value.
	cells := make(map[int64]map[string]float64)
	colSet := make(map[string]struct{})
	for _, c := range cleaned {
		b := (c.time / width) * width
		col := c.node + "_" + string(c.typ)
		colSet[col] = struct{}{}
		row, ok := cells[b]
		if !ok {
			row = make(map[string]float64)
			cells[b] = row
		}
		if _, dup := row[col]; !dup {
			row[col] = c.value
		}
	}

	columns := make([]string, 0, len(colSet))
	for c := range colSet {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	// A (node, primary-signal) pair never observed in the window is simply
	// absent as a column, not required.
	var required []string
	for _, n := range nodes {
		for _, t := range readings.PrimarySignals {
			col := n + "_" + string(t)
			if _, ok := colSet[col]; ok {
				required = append(required, col)
			}
		}
	}
	if len(required) == 0 {
		a.log.Info("no usable primary columns", zap.String("gateway", gatewayID))
		return nil, fmt.Errorf("%w: no primary columns", ErrInsufficientData)
	}

	buckets := make([]int64, 0, len(cells))
	for b := range cells {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })

	frame := dataset.New(columns)
	for _, b := range buckets {
		row := cells[b]
		complete := true
		for _, col := range required {
			if _, ok := row[col]; !ok {
				complete = false
				break
			}
		}
		if !complete {
			continue
		}
		vals := make([]float64, len(columns))
		for j, col := range columns {
			if v, ok := row[col]; ok {
				vals[j] = v
			} else {
				vals[j] = math.NaN()
			}
		}
		frame.AppendRow(vals, b)
	}

	if frame.NumRows() < a.MinRows {
		a.log.Info("too few aligned rows",
			zap.String("gateway", gatewayID),
			zap.Int("rows", frame.NumRows()),
			zap.Int("min_rows", a.MinRows))
		return nil, fmt.Errorf("%w: %d aligned rows, need %d", ErrInsufficientData, frame.NumRows(), a.MinRows)
	}

	a.log.Info("aligned frame built",
		zap.String("gateway", gatewayID),
		zap.Int("rows", frame.NumRows()),
		zap.Int("columns", len(columns)),
		zap.Strings("feature_columns", columns))
	return frame, nil
}
