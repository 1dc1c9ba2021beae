// Package config provides configuration loading for conceptd.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/conceptd/internal/bus"
	"github.com/fyrsmithlabs/conceptd/internal/consensus"
	"github.com/fyrsmithlabs/conceptd/internal/engine"
	"github.com/fyrsmithlabs/conceptd/internal/mode"
	"github.com/fyrsmithlabs/conceptd/internal/patternstore"
)

// Config is the root daemon configuration.
type Config struct {
	Server       ServerConfig        `koanf:"server"`
	Logging      LoggingConfig       `koanf:"logging"`
	Telemetry    TelemetryConfig     `koanf:"telemetry"`
	Bus          bus.Config          `koanf:"bus"`
	Mode         mode.Config         `koanf:"mode"`
	Consensus    consensus.Config    `koanf:"consensus"`
	PatternStore patternstore.Config `koanf:"patternstore"`
	Checkpoint   CheckpointConfig    `koanf:"checkpoint"`
	Engine       engine.Config       `koanf:"engine"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// ValidateRPS and ValidateBurst rate-limit the validation
	// endpoint per client.
	ValidateRPS   float64 `koanf:"validate_rps"`
	ValidateBurst int     `koanf:"validate_burst"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Encoding is json or console.
	Encoding string `koanf:"encoding"`
}

// TelemetryConfig configures the OpenTelemetry SDK.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Endpoint    string `koanf:"endpoint"`
	ServiceName string `koanf:"service_name"`
	Insecure    bool   `koanf:"insecure"`
}

// CheckpointConfig configures checkpoint persistence.
type CheckpointConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9180
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.ValidateRPS == 0 {
		cfg.Server.ValidateRPS = 2
	}
	if cfg.Server.ValidateBurst == 0 {
		cfg.Server.ValidateBurst = 5
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Encoding == "" {
		cfg.Logging.Encoding = "json"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "conceptd"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}

	if cfg.Bus.Host == "" {
		cfg.Bus.Host = "127.0.0.1"
	}
	if cfg.Bus.Port == 0 {
		cfg.Bus.Port = -1
	}
	if cfg.Bus.ReadyTimeout == 0 {
		cfg.Bus.ReadyTimeout = 5 * time.Second
	}

	if cfg.Mode.Weights == (mode.Weights{}) {
		cfg.Mode.Weights = mode.DefaultConfig().Weights
	}
	if cfg.Mode.StakeholderSaturation == 0 {
		cfg.Mode.StakeholderSaturation = mode.DefaultConfig().StakeholderSaturation
	}
	if cfg.Mode.Band == 0 {
		cfg.Mode.Band = mode.DefaultConfig().Band
	}

	dc := consensus.DefaultConfig()
	if cfg.Consensus.Threshold == 0 {
		cfg.Consensus.Threshold = dc.Threshold
	}
	if cfg.Consensus.Floor == 0 {
		cfg.Consensus.Floor = dc.Floor
	}
	if cfg.Consensus.MinSamples == 0 {
		cfg.Consensus.MinSamples = dc.MinSamples
	}
	if cfg.Consensus.MissingPenalty == 0 {
		cfg.Consensus.MissingPenalty = dc.MissingPenalty
	}
	if cfg.Consensus.OverallTimeout == 0 {
		cfg.Consensus.OverallTimeout = dc.OverallTimeout
	}
	if cfg.Consensus.ProducerTimeout == 0 {
		cfg.Consensus.ProducerTimeout = dc.ProducerTimeout
	}
	if cfg.Consensus.Profiles == nil {
		cfg.Consensus.Profiles = dc.Profiles
	}

	dp := patternstore.DefaultConfig()
	if cfg.PatternStore.Alpha == 0 {
		cfg.PatternStore.Alpha = dp.Alpha
	}
	if cfg.PatternStore.FlushInterval == 0 {
		cfg.PatternStore.FlushInterval = dp.FlushInterval
	}
	if cfg.PatternStore.MaxBatch == 0 {
		cfg.PatternStore.MaxBatch = dp.MaxBatch
	}
}

// Validate checks the whole tree for usable values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be in [1, 65535], got %d", c.Server.Port)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}
	switch c.Logging.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("unknown logging encoding %q", c.Logging.Encoding)
	}
	if err := c.Mode.Validate(); err != nil {
		return fmt.Errorf("mode: %w", err)
	}
	if err := c.Consensus.Validate(); err != nil {
		return fmt.Errorf("consensus: %w", err)
	}
	if err := c.PatternStore.Validate(); err != nil {
		return fmt.Errorf("patternstore: %w", err)
	}
	return nil
}
