// Package scoring flags anomalous time buckets in new aligned data using a
// previously trained detector. Scoring is best-effort: failures degrade to
// "no anomalies found" instead of propagating to the caller.
package scoring

import (
	"go.uber.org/zap"

	"github.com/keyvanazami/sensoriot-anomaly/pkg/dataset"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/detectors"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/metrics"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/modelstore"
)

// DefaultThreshold flags rows whose class probability is strictly below it.
const DefaultThreshold = 0.5

// DefaultFeatureColumns is the fallback column list for models persisted
// before the tertiary signal type was recorded in metadata.
var DefaultFeatureColumns = []string{"F", "H"}

// Scorer thresholds detector output into anomalous bucket timestamps.
type Scorer struct {
	threshold float64
	log       *zap.Logger
}

// NewScorer returns a scorer with the given anomaly threshold. A nil logger
// disables logging.
func NewScorer(threshold float64, log *zap.Logger) *Scorer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scorer{threshold: threshold, log: log}
}

// Score returns the bucket timestamps of anomalous rows, in input order.
// featureColumns is the list recorded at training time; nil falls back to
// DefaultFeatureColumns. The frame is restricted to the columns both
// requested and present. Rows with class probability strictly below the
// threshold are flagged; a row exactly at the threshold is not. Empty input
// returns empty output, and a frame without bucket timestamps or any
// prediction failure is logged and returns empty.
func (s *Scorer) Score(det detectors.Detector, frame *dataset.Frame, featureColumns []string) []int64 {
	if frame == nil || frame.NumRows() == 0 {
		return []int64{}
	}
	if len(frame.Times) < frame.NumRows() {
		s.log.Warn("frame is missing bucket timestamps",
			zap.Int("rows", frame.NumRows()),
			zap.Int("times", len(frame.Times)))
		return []int64{}
	}

	cols := featureColumns
	if len(cols) == 0 {
		cols = DefaultFeatureColumns
	}
	present := make([]string, 0, len(cols))
	for _, c := range cols {
		if frame.HasColumn(c) {
			present = append(present, c)
		}
	}

	sub, err := frame.Select(present)
	if err != nil {
		s.log.Warn("column selection failed", zap.Error(err))
		return []int64{}
	}
	probs, err := det.Predict(sub)
	if err != nil {
		s.log.Warn("prediction failed", zap.Error(err))
		return []int64{}
	}

	var anomalies []int64
	for i, p := range probs {
		if p < s.threshold {
			anomalies = append(anomalies, frame.Times[i])
		}
	}
	if anomalies == nil {
		anomalies = []int64{}
	}

	s.log.Info("scored rows",
		zap.Int("rows", frame.NumRows()),
		zap.Int("anomalies", len(anomalies)),
		zap.Float64("threshold", s.threshold))
	return anomalies
}

// ScoreGateway loads the gateway's persisted model and scores the frame
// with the feature columns recorded in its metadata. Only a missing or
// unreadable model is an error; prediction problems degrade to an empty
// result like Score.
func (s *Scorer) ScoreGateway(gatewayID string, store *modelstore.Store, frame *dataset.Frame) ([]int64, error) {
	det, meta, err := store.Load(gatewayID)
	if err != nil {
		return nil, err
	}
	anomalies := s.Score(det, frame, meta.FeatureColumns)
	metrics.AnomalousBuckets.WithLabelValues(gatewayID).Add(float64(len(anomalies)))
	return anomalies, nil
}
