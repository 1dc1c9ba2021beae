// Package patternstore keeps cross-session success statistics per
// concept fingerprint. Rates decay by exponential moving average so
// recent outcomes dominate; records are never deleted. Sharing across
// scopes requires the record's consent flag. Persistence is an
// embedded chromem collection that degrades to empty on corruption
// instead of failing the process.
package patternstore

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store errors.
var (
	ErrEmptyFingerprint = errors.New("fingerprint cannot be empty")
	ErrOutcomeRange     = errors.New("outcome must be in [0, 1]")
	ErrClosed           = errors.New("pattern store is closed")
)

// CorruptionError surfaces a persistence failure the store survived.
// The store keeps serving from whatever loaded cleanly.
type CorruptionError struct {
	Path  string
	Cause error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("pattern store corruption at %s: %v", e.Path, e.Cause)
}

func (e *CorruptionError) Unwrap() error { return e.Cause }

// Record is one learned pattern.
type Record struct {
	// Fingerprint is the normalized pattern key.
	Fingerprint string `json:"fingerprint"`

	// SuccessRate is the EWMA of observed outcomes, in [0,1].
	SuccessRate float64 `json:"success_rate"`

	// SampleCount is the number of observations folded in.
	SampleCount int `json:"sample_count"`

	// Scope identifies the session that owns the record.
	Scope string `json:"scope"`

	// Consent allows lookups from other scopes.
	Consent bool `json:"consent"`

	LastUpdated time.Time `json:"last_updated"`
}

// Observation is one outcome report, the unit of batched writes.
type Observation struct {
	Fingerprint string  `json:"fingerprint"`
	Outcome     float64 `json:"outcome"`
	Scope       string  `json:"scope"`
	Consent     bool    `json:"consent"`
}

// Config holds the store parameters.
type Config struct {
	// Path is the persistence directory.
	Path string `koanf:"path"`

	// Alpha is the EWMA smoothing factor.
	Alpha float64 `koanf:"alpha"`

	// Compress enables gzip on persisted records.
	Compress bool `koanf:"compress"`

	// FlushInterval bounds how long a batched observation waits.
	FlushInterval time.Duration `koanf:"flush_interval"`

	// MaxBatch flushes early once this many observations queue up.
	MaxBatch int `koanf:"max_batch"`
}

// DefaultConfig returns the standard store parameters.
func DefaultConfig() Config {
	return Config{
		Alpha:         0.3,
		FlushInterval: 2 * time.Second,
		MaxBatch:      64,
	}
}

// Validate checks the config for usable values.
func (c *Config) Validate() error {
	if c.Alpha <= 0 || c.Alpha >= 1 {
		return fmt.Errorf("alpha must be in (0, 1), got %v", c.Alpha)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive, got %v", c.FlushInterval)
	}
	if c.MaxBatch < 1 {
		return fmt.Errorf("max batch must be at least 1, got %d", c.MaxBatch)
	}
	return nil
}

// Normalize folds a raw pattern key to the store's shape: lowercased
// with whitespace collapsed to single spaces.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
