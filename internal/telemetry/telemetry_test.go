package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewDisabled(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, tel.Degraded())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNewRequiresServiceName(t *testing.T) {
	_, err := New(context.Background(), Config{Enabled: true}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service name")
}

func TestNewEnabledLocalEndpoint(t *testing.T) {
	// The OTLP gRPC exporters connect lazily, so construction succeeds
	// even without a collector listening.
	tel, err := New(context.Background(), Config{
		Enabled:     true,
		Endpoint:    "localhost:4317",
		ServiceName: "conceptd-test",
		Insecure:    true,
	}, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, tel.Degraded())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Shutdown with a cancelled context may error on flush; it must
	// not panic.
	_ = tel.Shutdown(ctx)
}
