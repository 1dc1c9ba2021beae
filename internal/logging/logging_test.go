package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	for _, encoding := range []string{"json", "console"} {
		logger, err := New("debug", encoding)
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Debug("probe")
	}

	_, err := New("loud", "json")
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithSessionID(ctx, "sess-1")
	ctx = WithRequestID(ctx, "req-1")
	fields := ContextFields(ctx)
	assert.Contains(t, fields, zap.String("session.id", "sess-1"))
	assert.Contains(t, fields, zap.String("request.id", "req-1"))
}

func TestNewTestLoggerObserves(t *testing.T) {
	logger, logs := NewTestLogger(zapcore.InfoLevel)
	logger.Info("hello", zap.String("k", "v"))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "hello", entry.Message)
	assert.Equal(t, "v", entry.ContextMap()["k"])
}
