package util

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func fieldKeys(ctx context.Context) []string {
	var keys []string
	for _, f := range OrderFields(ctx, 7, "g-1", 42) {
		keys = append(keys, f.Key)
	}
	return keys
}

func TestOrderFieldsWithoutSpan(t *testing.T) {
	assert.Equal(t, []string{"order_id", "group_id", "purchaser_id"}, fieldKeys(context.Background()))
}

func TestOrderFieldsCarryTraceID(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "settle")
	defer span.End()

	assert.Contains(t, fieldKeys(ctx), "trace_id")
}

func TestInitLoggerRejectsBadLevel(t *testing.T) {
	assert.Error(t, InitLogger("development", "loud"))
	require.NoError(t, InitLogger("development", "debug"))
}

func TestEndSpanRecordsError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := tp.Tracer("test").Start(context.Background(), "refund")
	EndSpan(span, errors.New("gateway refused"))

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Len(t, ended[0].Events(), 1)
}
