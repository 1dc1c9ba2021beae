// Package bus runs the embedded NATS server that carries session
// events and pattern observations between the engine, the HTTP SSE
// stream, and the pattern store batcher.
package bus

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ErrNotReady means the embedded server did not come up in time.
var ErrNotReady = errors.New("embedded nats server not ready")

// Subjects.
const (
	// SubjectPatternObserve carries patternstore.Observation payloads.
	SubjectPatternObserve = "patterns.observe"

	sessionPrefix = "sessions."
)

// Session event names, the last token of a session subject.
const (
	EventTurnApplied         = "turn_applied"
	EventPhaseAdvanced       = "phase_advanced"
	EventPhaseForced         = "phase_forced"
	EventCheckpointSaved     = "checkpoint_saved"
	EventValidationCompleted = "validation_completed"
	EventModeChanged         = "mode_changed"
	EventRolledBack          = "rolled_back"
	EventAbandoned           = "abandoned"
)

// SessionSubject builds the subject for one session event.
func SessionSubject(sessionID, event string) string {
	return sessionPrefix + sessionID + "." + event
}

// SessionWildcard matches every event of one session.
func SessionWildcard(sessionID string) string {
	return sessionPrefix + sessionID + ".>"
}

// EventFromSubject extracts the event name from a session subject.
func EventFromSubject(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) < 3 {
		return ""
	}
	return parts[len(parts)-1]
}

// Config configures the embedded server.
type Config struct {
	// Host binds the embedded server; loopback by default.
	Host string `koanf:"host"`

	// Port for client connections; -1 picks a random free port.
	Port int `koanf:"port"`

	// ReadyTimeout bounds server startup.
	ReadyTimeout time.Duration `koanf:"ready_timeout"`
}

// DefaultConfig returns loopback defaults with a random port.
func DefaultConfig() Config {
	return Config{
		Host:         "127.0.0.1",
		Port:         -1,
		ReadyTimeout: 5 * time.Second,
	}
}

// Bus is the running embedded server plus the process-local client
// connection.
type Bus struct {
	srv    *server.Server
	conn   *nats.Conn
	logger *zap.Logger
}

// Start boots the embedded server and connects to it.
func Start(cfg Config, logger *zap.Logger) (*Bus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 5 * time.Second
	}

	srv, err := server.NewServer(&server.Options{
		Host:   cfg.Host,
		Port:   cfg.Port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedded nats server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(cfg.ReadyTimeout) {
		srv.Shutdown()
		return nil, ErrNotReady
	}

	conn, err := nats.Connect(srv.ClientURL(),
		nats.Name("conceptd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("connecting to embedded nats server: %w", err)
	}

	logger.Info("event bus started", zap.String("url", srv.ClientURL()))
	return &Bus{srv: srv, conn: conn, logger: logger}, nil
}

// Conn returns the process-local client connection.
func (b *Bus) Conn() *nats.Conn { return b.conn }

// Publish sends a payload on a subject.
func (b *Bus) Publish(subject string, data []byte) error {
	return b.conn.Publish(subject, data)
}

// Close drains the connection and shuts the server down.
func (b *Bus) Close() {
	if err := b.conn.Drain(); err != nil {
		b.logger.Warn("draining bus connection", zap.Error(err))
	}
	b.srv.Shutdown()
	b.srv.WaitForShutdown()
	b.logger.Info("event bus stopped")
}
