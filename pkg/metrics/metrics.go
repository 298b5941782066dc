// Package metrics exposes Prometheus instrumentation for training runs and
// scoring results.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TrainingRuns counts per-gateway training outcomes by status.
	TrainingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensoriot_training_runs_total",
		Help: "Training runs per outcome status (done, skipped, failed).",
	}, []string{"status"})

	// ModelAUC reports the AUC of the most recently selected model.
	ModelAUC = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sensoriot_model_auc",
		Help: "AUC of the currently persisted model per gateway.",
	}, []string{"gateway", "model_type"})

	// AnomalousBuckets counts time buckets flagged during scoring.
	AnomalousBuckets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensoriot_anomalous_buckets_total",
		Help: "Time buckets flagged as anomalous per gateway.",
	}, []string{"gateway"})
)
