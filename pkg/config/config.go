// Package config holds the pipeline's tunable policy values with their
// documented defaults. These are policy, not algorithmic invariants, and are
// injected into the pipeline rather than read from package state.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config carries every tunable the training and scoring pipeline consumes.
type Config struct {
	// LookbackDays bounds the training query window.
	LookbackDays int `mapstructure:"lookback_days"`
	// SampleRatio is the negative-to-positive augmentation ratio used by the
	// negative-sampling forest variant.
	SampleRatio float64 `mapstructure:"sample_ratio"`
	// SampleDelta extends the sampling range beyond the observed min/max.
	SampleDelta float64 `mapstructure:"sample_delta"`
	// TestRatio is the permuted-negative to held-out-positive ratio in the
	// evaluation set.
	TestRatio float64 `mapstructure:"test_ratio"`
	// AnomalyThreshold flags rows whose class probability falls strictly
	// below it.
	AnomalyThreshold float64 `mapstructure:"anomaly_threshold"`
	// MinRows is the minimum aligned row count required to train.
	MinRows int `mapstructure:"min_rows"`
	// BucketCandidates are the bucket widths tried in ascending order
	// (seconds).
	BucketCandidates []int64 `mapstructure:"bucket_candidates"`
	// BucketFallbackSeconds is used when no node's cadence can be estimated.
	BucketFallbackSeconds int64 `mapstructure:"bucket_fallback_seconds"`
	// RandomSeed drives every deterministic shuffle and fit.
	RandomSeed int64 `mapstructure:"random_seed"`
	// ModelsDir is the model store root.
	ModelsDir string `mapstructure:"models_dir"`

	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig locates the reading store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Default returns the documented default configuration.
func Default() *Config {
	return &Config{
		LookbackDays:          90,
		SampleRatio:           2.0,
		SampleDelta:           0.05,
		TestRatio:             1.0,
		AnomalyThreshold:      0.5,
		MinRows:               20,
		BucketCandidates:      []int64{60, 120, 300, 600, 900, 1800, 3600},
		BucketFallbackSeconds: 60,
		RandomSeed:            42,
		ModelsDir:             "models",
		Redis:                 RedisConfig{Addr: "localhost:6379"},
	}
}

// Load reads configuration from the given YAML file, falling back to
// defaults for anything unset. Environment variables override file values.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("lookback_days", cfg.LookbackDays)
	v.SetDefault("sample_ratio", cfg.SampleRatio)
	v.SetDefault("sample_delta", cfg.SampleDelta)
	v.SetDefault("test_ratio", cfg.TestRatio)
	v.SetDefault("anomaly_threshold", cfg.AnomalyThreshold)
	v.SetDefault("min_rows", cfg.MinRows)
	v.SetDefault("bucket_candidates", cfg.BucketCandidates)
	v.SetDefault("bucket_fallback_seconds", cfg.BucketFallbackSeconds)
	v.SetDefault("random_seed", cfg.RandomSeed)
	v.SetDefault("models_dir", cfg.ModelsDir)
	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.password", cfg.Redis.Password)
	v.SetDefault("redis.db", cfg.Redis.DB)
}
