// Package config resolves the sensor's runtime configuration from the
// environment, with CLI flags (wired through cobra/pflag in
// cmd/safelink-sensord) taking precedence over environment variables
// and environment variables taking precedence over the defaults below.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DispatchStrategy selects how the dispatcher assigns frames to
// worker lanes.
type DispatchStrategy string

const (
	StrategyRoundRobin  DispatchStrategy = "round_robin"
	StrategyLeastLoaded DispatchStrategy = "least_loaded"
	StrategyAffinity    DispatchStrategy = "affinity"
)

// Config is the fully-resolved configuration for a sensor instance.
type Config struct {
	// Identity. Left empty, the Supervisor generates one at construction
	// time (misc/rand); set SAFELINK_SENSOR_ID to pin it across restarts,
	// e.g. when a dashboard or metrics label needs a stable sensor name.
	SensorID string

	// Storage
	DatabaseDSN string

	// Capture
	DefaultInterface  string
	CaptureQueueDepth int

	// Dispatch
	WorkerCount       int
	DispatchStrategy  DispatchStrategy
	LaneQueueDepth    int
	ShutdownGrace     time.Duration

	// DFA filter
	GratuitousThreshold int
	GratuitousWindow    time.Duration

	// ARP analyzer
	ArpHistorySize  int
	PendingRequestTTL time.Duration

	// Classifier
	ModelPath      string
	HiddenDims     []int
	DropoutRate    float64

	// Broadcast hub
	SubscriberQueueDepth  int
	SubscriberOverflowMax int

	// Continuous learner
	LearningTick      time.Duration
	LearningInterval  time.Duration
	MinSamples        int
	MaxHistory        int
	BatchSize         int
	LearningRate      float64
	ValidationMinAccuracy float64
	ValidationMaxLoss     float64

	// Retention
	AlertRetentionWindow   time.Duration
	ArchiveRetentionWindow time.Duration

	// Logging
	LogLevel string

	// WebSocket control surface
	WSListenAddr string
}

// Default returns the configuration populated with its defaults.
func Default() Config {
	return Config{
		DatabaseDSN:       "safelink.db",
		DefaultInterface:  "",
		CaptureQueueDepth: 4096,

		WorkerCount:      4,
		DispatchStrategy: StrategyRoundRobin,
		LaneQueueDepth:   1024,
		ShutdownGrace:    5 * time.Second,

		GratuitousThreshold: 5,
		GratuitousWindow:    5 * time.Second,

		ArpHistorySize:    1000,
		PendingRequestTTL: 300 * time.Second,

		ModelPath:   "classifier.model",
		HiddenDims:  []int{512, 256, 128, 64},
		DropoutRate: 0.2,

		SubscriberQueueDepth:  64,
		SubscriberOverflowMax: 10,

		LearningTick:          60 * time.Second,
		LearningInterval:      3600 * time.Second,
		MinSamples:            100,
		MaxHistory:            10000,
		BatchSize:             32,
		LearningRate:          1e-4,
		ValidationMinAccuracy: 0.70,
		ValidationMaxLoss:     2.0,

		AlertRetentionWindow:   30 * 24 * time.Hour,
		ArchiveRetentionWindow: 365 * 24 * time.Hour,

		LogLevel: "info",

		WSListenAddr: ":8765",
	}
}

// FromEnv resolves a Config starting from Default and overriding any
// field whose corresponding SAFELINK_* environment variable is set.
func FromEnv() (Config, error) {
	cfg := Default()

	str(&cfg.SensorID, "SAFELINK_SENSOR_ID")
	str(&cfg.DatabaseDSN, "SAFELINK_DATABASE_DSN")
	str(&cfg.DefaultInterface, "SAFELINK_INTERFACE")
	str(&cfg.ModelPath, "SAFELINK_MODEL_PATH")
	str(&cfg.LogLevel, "SAFELINK_LOG_LEVEL")
	str(&cfg.WSListenAddr, "SAFELINK_WS_ADDR")

	if v := os.Getenv("SAFELINK_DISPATCH_STRATEGY"); v != "" {
		switch DispatchStrategy(v) {
		case StrategyRoundRobin, StrategyLeastLoaded, StrategyAffinity:
			cfg.DispatchStrategy = DispatchStrategy(v)
		default:
			return cfg, fmt.Errorf("config: invalid SAFELINK_DISPATCH_STRATEGY %q", v)
		}
	}

	if err := ints(map[string]*int{
		"SAFELINK_CAPTURE_QUEUE_DEPTH":     &cfg.CaptureQueueDepth,
		"SAFELINK_WORKER_COUNT":            &cfg.WorkerCount,
		"SAFELINK_LANE_QUEUE_DEPTH":        &cfg.LaneQueueDepth,
		"SAFELINK_GRATUITOUS_THRESHOLD":    &cfg.GratuitousThreshold,
		"SAFELINK_ARP_HISTORY_SIZE":        &cfg.ArpHistorySize,
		"SAFELINK_SUBSCRIBER_QUEUE_DEPTH":  &cfg.SubscriberQueueDepth,
		"SAFELINK_SUBSCRIBER_OVERFLOW_MAX": &cfg.SubscriberOverflowMax,
		"SAFELINK_MIN_SAMPLES":             &cfg.MinSamples,
		"SAFELINK_MAX_HISTORY":             &cfg.MaxHistory,
		"SAFELINK_BATCH_SIZE":              &cfg.BatchSize,
	}); err != nil {
		return cfg, err
	}

	if err := durations(map[string]*time.Duration{
		"SAFELINK_SHUTDOWN_GRACE":      &cfg.ShutdownGrace,
		"SAFELINK_GRATUITOUS_WINDOW":   &cfg.GratuitousWindow,
		"SAFELINK_PENDING_REQUEST_TTL": &cfg.PendingRequestTTL,
		"SAFELINK_LEARNING_TICK":       &cfg.LearningTick,
		"SAFELINK_LEARNING_INTERVAL":   &cfg.LearningInterval,
		"SAFELINK_ALERT_RETENTION":     &cfg.AlertRetentionWindow,
		"SAFELINK_ARCHIVE_RETENTION":   &cfg.ArchiveRetentionWindow,
	}); err != nil {
		return cfg, err
	}

	if err := floats(map[string]*float64{
		"SAFELINK_DROPOUT_RATE":       &cfg.DropoutRate,
		"SAFELINK_LEARNING_RATE":      &cfg.LearningRate,
		"SAFELINK_VALIDATION_MIN_ACC": &cfg.ValidationMinAccuracy,
		"SAFELINK_VALIDATION_MAX_LOSS": &cfg.ValidationMaxLoss,
	}); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// Validate rejects configuration combinations that would violate the
// sensor's invariants before any subsystem starts.
func (c Config) Validate() error {
	if c.WorkerCount < 1 {
		return fmt.Errorf("config: worker count must be >= 1, got %d", c.WorkerCount)
	}
	if c.GratuitousThreshold < 1 {
		return fmt.Errorf("config: gratuitous threshold must be >= 1, got %d", c.GratuitousThreshold)
	}
	if c.MinSamples < 1 {
		return fmt.Errorf("config: min_samples must be >= 1, got %d", c.MinSamples)
	}
	if c.ValidationMinAccuracy < 0 || c.ValidationMinAccuracy > 1 {
		return fmt.Errorf("config: validation min accuracy must be in [0,1], got %f", c.ValidationMinAccuracy)
	}
	switch c.DispatchStrategy {
	case StrategyRoundRobin, StrategyLeastLoaded, StrategyAffinity:
	default:
		return fmt.Errorf("config: unknown dispatch strategy %q", c.DispatchStrategy)
	}
	if len(c.HiddenDims) == 0 {
		return fmt.Errorf("config: hidden_dims must not be empty")
	}
	return nil
}

func str(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func ints(m map[string]*int) error {
	for env, dst := range m {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid int for %s: %w", env, err)
		}
		*dst = n
	}
	return nil
}

func durations(m map[string]*time.Duration) error {
	for env, dst := range m {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: invalid duration for %s: %w", env, err)
		}
		*dst = d
	}
	return nil
}

func floats(m map[string]*float64) error {
	for env, dst := range m {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: invalid float for %s: %w", env, err)
		}
		*dst = f
	}
	return nil
}
