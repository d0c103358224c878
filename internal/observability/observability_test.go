package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
		enabled zapcore.Level
	}{
		{name: "json info", level: "info", format: "json", enabled: zapcore.InfoLevel},
		{name: "console debug", level: "debug", format: "console", enabled: zapcore.DebugLevel},
		{name: "invalid level", level: "loud", format: "json", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.format)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid log level")
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.enabled))
			assert.False(t, logger.Core().Enabled(tt.enabled-1))
		})
	}
}

func TestWithRequest(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	WithRequest(ctx, logger).Info("tagged")
	WithRequest(context.Background(), logger).Info("plain")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "req-42", entries[0].ContextMap()["request_id"])
	assert.NotContains(t, entries[1].ContextMap(), "request_id")
}

func TestInitTracing(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		tp, shutdown := InitTracing(TracingConfig{Enabled: false})
		assert.Nil(t, tp)
		assert.NoError(t, shutdown(context.Background()))
	})

	t.Run("records spans", func(t *testing.T) {
		recorder := tracetest.NewSpanRecorder()
		tp, shutdown := InitTracing(TracingConfig{Enabled: true, SampleRate: 1}, recorder)
		require.NotNil(t, tp)
		defer shutdown(context.Background())

		_, ok := StartSpan(context.Background(), "routing.resolve")
		EndSpan(ok, nil)
		_, failed := StartSpan(context.Background(), "dispatch.send")
		EndSpan(failed, errors.New("boom"))

		spans := recorder.Ended()
		require.Len(t, spans, 2)
		assert.Equal(t, "routing.resolve", spans[0].Name())
		assert.Equal(t, codes.Unset, spans[0].Status().Code)
		assert.Equal(t, "dispatch.send", spans[1].Name())
		assert.Equal(t, codes.Error, spans[1].Status().Code)
		assert.Equal(t, "boom", spans[1].Status().Description)
	})
}

func TestOutcomeLabel(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, OutcomeLabel(nil))
	assert.Equal(t, OutcomeFailure, OutcomeLabel(errors.New("x")))
}
