package observability

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ajitpratap0/crmsync/pkg/errors"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestSpanEndRecordsError(t *testing.T) {
	rec := withRecorder(t)

	_, span := StartSpan(context.Background(), "describe_object", attribute.String("object", "Account"))
	span.End(errors.New(errors.ErrorTypeNotFound, "INVALID_TYPE"))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "describe_object", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("error.type", "not_found"))
	assert.Contains(t, spans[0].Attributes(), attribute.String("object", "Account"))
}

func TestSpanNesting(t *testing.T) {
	rec := withRecorder(t)

	ctx, parent := StartSpan(context.Background(), "build_catalog")
	_, child := StartSpan(ctx, "count_object")
	child.End(nil)
	parent.End(nil)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(DefaultTracingConfig())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitExportsToWriter(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.Writer = &buf
	cfg.BatchTimeout = time.Millisecond

	shutdown, err := Init(cfg)
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "bulk_export")
	span.End(nil)

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "bulk_export")
}
