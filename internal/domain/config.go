package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines backing-store selection
	Tier Tier `json:"tier"`

	// Fraud triage tuning (runtime mutable via the config endpoint)
	Fraud FraudConfig `json:"fraud"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// FraudConfig holds the triage thresholds, cost matrix and anomaly method.
// MediumBandThreshold must not exceed HighBandThreshold.
type FraudConfig struct {
	MediumBandThreshold float64    `json:"medium_band_threshold"`
	HighBandThreshold   float64    `json:"high_band_threshold"`
	AnomalyMethod       string     `json:"anomaly_method"` // "zscore" or "iforest"
	CostMatrix          CostMatrix `json:"cost_matrix"`
}

// CostMatrix is the 2x2 cost/benefit matrix for the value-based KPI.
// Savings are positive, costs negative.
type CostMatrix struct {
	TruePositiveSavings float64 `json:"true_positive_savings"`
	FalsePositiveCost   float64 `json:"false_positive_cost"`
	FalseNegativeCost   float64 `json:"false_negative_cost"`
	TrueNegativeSavings float64 `json:"true_negative_savings"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultFraudConfig returns the default triage tuning.
func DefaultFraudConfig() FraudConfig {
	return FraudConfig{
		MediumBandThreshold: 0.45,
		HighBandThreshold:   0.75,
		AnomalyMethod:       "zscore",
		CostMatrix: CostMatrix{
			TruePositiveSavings: 450,
			FalsePositiveCost:   -75,
			FalseNegativeCost:   -500,
			TrueNegativeSavings: 0,
		},
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier:  TierCommunity,
		Fraud: DefaultFraudConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
