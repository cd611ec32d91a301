package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestInitTracerProviderPropagatesTraceContext(t *testing.T) {
	ctx := context.Background()
	shutdown, err := InitTracerProvider(ctx, "page-analyzer-test", "test")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, shutdown(context.Background()))
	})

	spanCtx, span := otel.Tracer("telemetry-test").Start(ctx, "unit")
	defer span.End()
	require.True(t, span.SpanContext().IsValid())

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(spanCtx, carrier)

	assert.Contains(t, carrier.Get("traceparent"), span.SpanContext().TraceID().String())
}
