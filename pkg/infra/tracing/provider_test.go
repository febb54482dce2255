package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	options "github.com/kart-io/docask/pkg/options/tracing"
)

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), options.NewOptions())
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))

	p, err = NewProvider(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, p.Enabled())
}

func TestNewProvider_InvalidOptions(t *testing.T) {
	opts := options.NewOptions()
	opts.Enabled = true
	opts.Exporter = "zipkin"
	_, err := NewProvider(context.Background(), opts)
	assert.ErrorContains(t, err, "tracing.exporter")
}

func TestNewProvider_Noop(t *testing.T) {
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})

	opts := options.NewOptions()
	opts.Enabled = true
	opts.Exporter = options.ExporterNoop

	p, err := NewProvider(context.Background(), opts)
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()
	require.True(t, p.Enabled())

	ctx, span := StartSpan(context.Background(), "ingest", attribute.String(AttrDocumentID, "doc-1"))
	assert.True(t, span.IsRecording())
	assert.NotEmpty(t, TraceIDFromContext(ctx))
	AddSpanAttributes(ctx, attribute.Int(AttrChunks, 3))
	EndSpan(span, errors.New("boom"))
}

func TestTraceIDFromContext_NoSpan(t *testing.T) {
	assert.Empty(t, TraceIDFromContext(context.Background()))
}
