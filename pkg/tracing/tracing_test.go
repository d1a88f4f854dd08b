package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpan(t *testing.T) {
	t.Run("NoTracerIsNoOp", func(t *testing.T) {
		SetTracer(nil)
		ctx, span := StartSpan(context.Background(), "tracing.Test.NoOp")
		defer span.End()

		assert.Empty(t, GetTraceID(ctx))
		assert.Empty(t, GetTraceParent(ctx))
	})

	t.Run("RecordsAndPropagates", func(t *testing.T) {
		recorder := tracetest.NewSpanRecorder()
		provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
		SetTracer(provider.Tracer("test"))
		t.Cleanup(func() { SetTracer(nil) })

		ctx, span := StartSpan(context.Background(), "tracing.Test.Parent")
		traceID := GetTraceID(ctx)
		parent := GetTraceParent(ctx)
		span.End()

		require.Len(t, recorder.Ended(), 1)
		assert.Equal(t, "tracing.Test.Parent", recorder.Ended()[0].Name())
		assert.Len(t, traceID, 32)
		assert.Contains(t, parent, traceID)

		remote := ContextWithRemoteParent(context.Background(), parent, "")
		ctx, child := StartSpan(remote, "tracing.Test.Child")
		defer child.End()
		assert.Equal(t, traceID, GetTraceID(ctx))
	})

	t.Run("EmptyParentKeepsContext", func(t *testing.T) {
		ctx := context.Background()
		assert.Equal(t, ctx, ContextWithRemoteParent(ctx, "", "x"))
	})
}
