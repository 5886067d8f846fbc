package observability

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitOTel(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		providers, err := InitOTel(ctx, OTelConfig{Enabled: false}, nil)
		assert.NoError(t, err)
		assert.Nil(t, providers)
	})

	t.Run("endpoint required", func(t *testing.T) {
		providers, err := InitOTel(ctx, OTelConfig{Enabled: true}, NewNopLogger())
		assert.Error(t, err)
		assert.Nil(t, providers)
	})

	t.Run("exporters created lazily", func(t *testing.T) {
		// OTLP exporters connect on first export, so an unreachable collector is fine here
		providers, err := InitOTel(ctx, OTelConfig{
			Enabled:  true,
			Endpoint: "127.0.0.1:4317",
			Insecure: true,
		}, NewNopLogger())
		require.NoError(t, err)
		require.NotNil(t, providers)
		assert.NotNil(t, providers.TracerProvider)
		assert.NotNil(t, providers.MeterProvider)

		shutdownCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	})
}

func TestOTelProviders_Shutdown(t *testing.T) {
	var nilProviders *OTelProviders
	assert.NoError(t, nilProviders.Shutdown(context.Background()))

	providers := &OTelProviders{TracerProvider: sdktrace.NewTracerProvider()}
	assert.NoError(t, providers.Shutdown(context.Background()))
}

func TestSamplerFor(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), samplerFor(0).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), samplerFor(1).Description())
	assert.Contains(t, samplerFor(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestWithTraceContext(t *testing.T) {
	t.Run("no span", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(InfoLevel, &buf)
		WithTraceContext(context.Background(), logger).Info("billing run started")
		assert.NotContains(t, buf.String(), "trace_id")
	})

	t.Run("active span", func(t *testing.T) {
		tp := sdktrace.NewTracerProvider()
		defer tp.Shutdown(context.Background())
		ctx, span := tp.Tracer("test").Start(context.Background(), "billing.run")
		defer span.End()

		var buf bytes.Buffer
		WithTraceContext(ctx, NewLogger(InfoLevel, &buf)).Info("billing run started")
		assert.Contains(t, buf.String(), span.SpanContext().TraceID().String())
		assert.Contains(t, buf.String(), `"span_id"`)
	})
}
