package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInit_Disabled(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	p, err := Init(Config{})
	require.NoError(t, err)
	assert.False(t, p.Enabled())

	_, span := p.StartSpan(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_EnabledRequiresEndpoint(t *testing.T) {
	_, err := Init(Config{Enabled: true})
	assert.Error(t, err)
}

func TestInit_Enabled(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	p, err := Init(Config{
		Enabled:     true,
		Endpoint:    "http://127.0.0.1:14268/api/traces",
		Environment: "test",
	})
	require.NoError(t, err)
	assert.True(t, p.Enabled())

	_, span := p.StartSpan(context.Background(), "exported")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
}

func TestShutdown_NilProvider(t *testing.T) {
	var p *Provider
	assert.NoError(t, p.Shutdown(context.Background()))
}
