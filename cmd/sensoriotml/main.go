// Command sensoriotml trains and applies gateway-level anomaly models over
// sensor readings stored in Redis or CSV files.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keyvanazami/sensoriot-anomaly/pkg/align"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/config"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/modelstore"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/readings"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/readings/csvstore"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/readings/redisstore"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/scoring"
	"github.com/keyvanazami/sensoriot-anomaly/pkg/training"
)

var (
	flagConfig    string
	flagCSV       string
	flagModels    string
	flagVerbose   bool
	flagThreshold float64
	flagHours     int
	flagListen    string
	flagInterval  time.Duration
)

func main() {
	root := &cobra.Command{
		Use:           "sensoriotml",
		Short:         "Gateway-level sensor anomaly model training and scoring",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&flagCSV, "csv", "", "read sensor data from a CSV file instead of Redis")
	root.PersistentFlags().StringVar(&flagModels, "models", "", "model store directory (overrides config)")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose logging")

	trainCmd := &cobra.Command{
		Use:   "train <gateway>...",
		Short: "Train and persist the best anomaly model per gateway",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runTrain,
	}

	scoreCmd := &cobra.Command{
		Use:   "score <gateway>",
		Short: "Flag anomalous time buckets in a gateway's recent data",
		Args:  cobra.ExactArgs(1),
		RunE:  runScore,
	}
	scoreCmd.Flags().Float64Var(&flagThreshold, "threshold", scoring.DefaultThreshold, "anomaly probability threshold")
	scoreCmd.Flags().IntVar(&flagHours, "hours", 24, "scoring lookback window in hours")

	serveCmd := &cobra.Command{
		Use:   "serve <gateway>...",
		Short: "Retrain gateways periodically and expose Prometheus metrics",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&flagListen, "listen", ":9090", "metrics listen address")
	serveCmd.Flags().DurationVar(&flagInterval, "interval", time.Hour, "retraining interval")

	root.AddCommand(trainCmd, scoreCmd, serveCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func setup() (*config.Config, readings.Source, *modelstore.Store, *zap.Logger, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if flagModels != "" {
		cfg.ModelsDir = flagModels
	}

	var log *zap.Logger
	if flagVerbose {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return nil, nil, nil, nil, err
	}

	var src readings.Source
	if flagCSV != "" {
		src = csvstore.New(flagCSV)
	} else {
		src, err = redisstore.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, nil, nil, err
		}
	}

	return cfg, src, modelstore.New(cfg.ModelsDir, log), log, nil
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, src, store, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	pipeline := training.NewPipeline(cfg, src, store, log)
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, gateway := range args {
		outcome := pipeline.TrainGateway(cmd.Context(), gateway)
		if err := enc.Encode(outcome); err != nil {
			return err
		}
	}
	return nil
}

func runScore(cmd *cobra.Command, args []string) error {
	cfg, src, store, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()
	gateway := args[0]

	since := time.Now().Unix() - int64(flagHours)*3600
	rs, err := src.Query(cmd.Context(), gateway, since, readings.AllSignals)
	if err != nil {
		return err
	}

	aligner := align.NewAligner(log)
	aligner.BucketCandidates = cfg.BucketCandidates
	aligner.FallbackBucket = cfg.BucketFallbackSeconds
	aligner.MinRows = 1 // scoring has no minimum row requirement
	frame, err := aligner.Build(gateway, rs)
	if err != nil {
		return err
	}

	scorer := scoring.NewScorer(flagThreshold, log)
	anomalies, err := scorer.ScoreGateway(gateway, store, frame)
	if err != nil {
		return err
	}
	return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
		"gateway_id": gateway,
		"anomalies":  anomalies,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, src, store, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		log.Info("metrics listening", zap.String("addr", flagListen))
		if err := http.ListenAndServe(flagListen, nil); err != nil {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()

	pipeline := training.NewPipeline(cfg, src, store, log)
	trainAll := func(ctx context.Context) {
		for _, gateway := range args {
			outcome := pipeline.TrainGateway(ctx, gateway)
			log.Info("training run finished",
				zap.String("gateway", outcome.GatewayID),
				zap.String("status", string(outcome.Status)),
				zap.String("model_type", outcome.ModelType),
				zap.Float64("auc", outcome.AUC))
		}
	}

	ctx := cmd.Context()
	trainAll(ctx)
	ticker := time.NewTicker(flagInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			trainAll(ctx)
		}
	}
}
