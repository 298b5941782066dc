// Package training orchestrates model training: deterministic train/test
// splitting, synthetic evaluation-set construction, per-variant training,
// AUC-based selection, and the per-gateway pipeline around them.
package training

import (
	"errors"
	"math/rand"

	"go.uber.org/zap"

	"github.com/keyvanazami/sensoriot-anomaly/pkg/config"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/dataset"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/detectors"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/detectors/iforest"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/detectors/nsforest"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/detectors/ocsvm"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/sampling"
)

// ErrAllVariantsFailed is returned when no detector variant could be
// trained and evaluated.
var ErrAllVariantsFailed = errors.New("all detector variants failed to train")

const trainFraction = 0.8

// Selection is the result of training and comparing all detector variants.
type Selection struct {
	Detector       detectors.Detector
	ModelType      string
	AUC            float64
	FeatureColumns []string
}

type candidate struct {
	name string
	det  detectors.Detector
}

type evaluation struct {
	name string
	det  detectors.Detector
	auc  float64
}

// pickBest returns the evaluation with the strictly highest AUC; ties
// resolve to the first encountered. Nil when no variant survived.
func pickBest(evals []evaluation, columns []string) *Selection {
	var best *Selection
	for _, e := range evals {
		if best == nil || e.auc > best.AUC {
			best = &Selection{
				Detector:       e.det,
				ModelType:      e.name,
				AUC:            e.auc,
				FeatureColumns: append([]string(nil), columns...),
			}
		}
	}
	return best
}

// Trainer trains every detector variant on one feature matrix and selects
// the best by AUC on a synthetic labeled evaluation set.
type Trainer struct {
	cfg *config.Config
	log *zap.Logger
}

// NewTrainer returns a trainer. A nil config uses the defaults, a nil
// logger disables logging.
func NewTrainer(cfg *config.Config, log *zap.Logger) *Trainer {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Trainer{cfg: cfg, log: log}
}

// variants returns the detector variants in their fixed comparison order.
// The order matters: ties in AUC resolve to the first encountered.
func (t *Trainer) variants() []candidate {
	return []candidate{
		{iforest.TypeTag, iforest.New(
			iforest.WithContamination(0.05),
			iforest.WithSeed(t.cfg.RandomSeed))},
		{ocsvm.TypeTag, ocsvm.New(ocsvm.WithNu(0.1))},
		{nsforest.TypeTag, nsforest.New(
			nsforest.WithTrees(100),
			nsforest.WithSampleRatio(t.cfg.SampleRatio),
			nsforest.WithSampleDelta(t.cfg.SampleDelta),
			nsforest.WithSeed(t.cfg.RandomSeed))},
	}
}

// TrainAndSelect shuffles the matrix with the configured seed, splits it
// 80/20, builds an evaluation set from the held-out rows plus permuted
// negatives, trains every variant on the training split, and returns the
// variant with the strictly highest AUC. A variant that errors during train
// or predict is logged and excluded; the run only fails if every variant
// does.
func (t *Trainer) TrainAndSelect(frame *dataset.Frame) (*Selection, error) {
	if frame == nil || frame.NumRows() == 0 {
		return nil, detectors.ErrEmptyDataset
	}

	rng := rand.New(rand.NewSource(t.cfg.RandomSeed))
	shuffled := frame.Clone()
	shuffled.Shuffle(rng)
	train, heldOut := shuffled.Split(trainFraction)

	evalFrame, evalLabels := t.buildEvalSet(heldOut, rng)

	var evals []evaluation
	for _, c := range t.variants() {
		if err := c.det.Train(train); err != nil {
			t.log.Warn("variant training failed",
				zap.String("model_type", c.name), zap.Error(err))
			continue
		}
		probs, err := c.det.Predict(evalFrame)
		if err != nil {
			t.log.Warn("variant evaluation failed",
				zap.String("model_type", c.name), zap.Error(err))
			continue
		}
		auc := AUC(evalLabels, probs)
		t.log.Info("variant evaluated",
			zap.String("model_type", c.name), zap.Float64("auc", auc))
		evals = append(evals, evaluation{name: c.name, det: c.det, auc: auc})
	}

	best := pickBest(evals, frame.Columns)
	if best == nil {
		return nil, ErrAllVariantsFailed
	}

	t.log.Info("best variant selected",
		zap.String("model_type", best.ModelType),
		zap.Float64("auc", best.AUC),
		zap.Strings("feature_columns", best.FeatureColumns))
	return best, nil
}

// buildEvalSet concatenates the held-out positives (label 1) with permuted
// negatives (label 0) at the configured ratio and shuffles the result.
func (t *Trainer) buildEvalSet(heldOut *dataset.Frame, rng *rand.Rand) (*dataset.Frame, []int) {
	negSize := int(float64(heldOut.NumRows()) * t.cfg.TestRatio)
	negatives := sampling.Permuted(heldOut, negSize, rng)

	eval := dataset.New(heldOut.Columns)
	var labels []int
	for _, row := range heldOut.Rows {
		eval.Rows = append(eval.Rows, row)
		labels = append(labels, sampling.LabelNormal)
	}
	for _, row := range negatives.Rows {
		eval.Rows = append(eval.Rows, row)
		labels = append(labels, sampling.LabelAnomalous)
	}
	rng.Shuffle(len(eval.Rows), func(i, j int) {
		eval.Rows[i], eval.Rows[j] = eval.Rows[j], eval.Rows[i]
		labels[i], labels[j] = labels[j], labels[i]
	})
	return eval, labels
}
