package training

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/keyvanazami/sensoriot-anomaly/pkg/align"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/config"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/metrics"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/modelstore"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/readings"
)

// Status is the outcome class of one gateway training run.
type Status string

const (
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
	StatusDone    Status = "done"
)

// Outcome is the structured result of one gateway training run. It is
// always returned by value, never as a bare error, so a scheduler can log
// and report without special-casing failures.
type Outcome struct {
	GatewayID      string   `json:"gateway_id"`
	Status         Status   `json:"status"`
	Reason         string   `json:"reason,omitempty"`
	Error          string   `json:"error,omitempty"`
	ModelType      string   `json:"model_type,omitempty"`
	AUC            float64  `json:"auc,omitempty"`
	FeatureColumns []string `json:"feature_columns,omitempty"`
	Nodes          []string `json:"nodes,omitempty"`
	NumRows        int      `json:"num_rows,omitempty"`
}

// Pipeline runs the full alignment-training-selection-persistence flow for
// one gateway at a time. Distinct gateways are independent and may run
// concurrently; each owns its model store entry.
type Pipeline struct {
	cfg     *config.Config
	src     readings.Source
	store   *modelstore.Store
	aligner *align.Aligner
	trainer *Trainer
	log     *zap.Logger
}

// NewPipeline wires a pipeline from its collaborators. A nil config uses
// the defaults, a nil logger disables logging.
func NewPipeline(cfg *config.Config, src readings.Source, store *modelstore.Store, log *zap.Logger) *Pipeline {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	aligner := align.NewAligner(log)
	aligner.BucketCandidates = cfg.BucketCandidates
	aligner.FallbackBucket = cfg.BucketFallbackSeconds
	aligner.MinRows = cfg.MinRows
	return &Pipeline{
		cfg:     cfg,
		src:     src,
		store:   store,
		aligner: aligner,
		trainer: NewTrainer(cfg, log),
		log:     log,
	}
}

// TrainGateway trains, selects, and persists one gateway-level model.
// Insufficient data yields a skip outcome, a query or source error is
// treated as "no data", and only a selection or persistence error yields a
// failed outcome.
func (p *Pipeline) TrainGateway(ctx context.Context, gatewayID string) Outcome {
	outcome := p.trainGateway(ctx, gatewayID)
	metrics.TrainingRuns.WithLabelValues(string(outcome.Status)).Inc()
	if outcome.Status == StatusDone {
		metrics.ModelAUC.WithLabelValues(gatewayID, outcome.ModelType).Set(outcome.AUC)
	}
	return outcome
}

func (p *Pipeline) trainGateway(ctx context.Context, gatewayID string) Outcome {
	since := time.Now().Unix() - int64(p.cfg.LookbackDays)*86400

	rs, err := p.src.Query(ctx, gatewayID, since, readings.AllSignals)
	if err != nil {
		p.log.Warn("reading query failed, treating as no data",
			zap.String("gateway", gatewayID), zap.Error(err))
		return Outcome{GatewayID: gatewayID, Status: StatusSkipped, Reason: "reading query failed"}
	}
	if len(rs) == 0 {
		p.log.Info("no sensor readings in lookback window",
			zap.String("gateway", gatewayID),
			zap.Int("lookback_days", p.cfg.LookbackDays))
		return Outcome{GatewayID: gatewayID, Status: StatusSkipped, Reason: "no sensor data"}
	}

	frame, err := p.aligner.Build(gatewayID, rs)
	if err != nil {
		if errors.Is(err, align.ErrInsufficientData) {
			return Outcome{GatewayID: gatewayID, Status: StatusSkipped, Reason: err.Error()}
		}
		return Outcome{GatewayID: gatewayID, Status: StatusFailed, Error: err.Error()}
	}

	sel, err := p.trainer.TrainAndSelect(frame)
	if err != nil {
		p.log.Error("training failed",
			zap.String("gateway", gatewayID), zap.Error(err))
		return Outcome{GatewayID: gatewayID, Status: StatusFailed, Error: err.Error()}
	}

	nodes := NodesFromColumns(sel.FeatureColumns)
	meta := modelstore.Metadata{
		ModelType:      sel.ModelType,
		AUC:            sel.AUC,
		FeatureColumns: sel.FeatureColumns,
		Nodes:          nodes,
		NumRows:        frame.NumRows(),
		TrainedAt:      time.Now().Unix(),
	}
	if err := p.store.Save(gatewayID, sel.Detector, meta); err != nil {
		p.log.Error("model save failed",
			zap.String("gateway", gatewayID), zap.Error(err))
		return Outcome{GatewayID: gatewayID, Status: StatusFailed, Error: err.Error()}
	}

	p.log.Info("training complete",
		zap.String("gateway", gatewayID),
		zap.String("model_type", sel.ModelType),
		zap.Float64("auc", sel.AUC),
		zap.Strings("nodes", nodes),
		zap.Int("num_rows", frame.NumRows()))
	return Outcome{
		GatewayID:      gatewayID,
		Status:         StatusDone,
		ModelType:      sel.ModelType,
		AUC:            sel.AUC,
		FeatureColumns: sel.FeatureColumns,
		Nodes:          nodes,
		NumRows:        frame.NumRows(),
	}
}

// NodesFromColumns derives the sorted set of node ids from feature column
// names of the form "{node}_{type}".
func NodesFromColumns(columns []string) []string {
	set := make(map[string]struct{})
	for _, c := range columns {
		if i := strings.LastIndex(c, "_"); i > 0 {
			set[c[:i]] = struct{}{}
		}
	}
	nodes := make([]string, 0, len(set))
	for n := range set {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes
}
