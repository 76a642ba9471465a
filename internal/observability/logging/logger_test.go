package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestLoggerAddsServiceAndTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "api", "info")

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "answer")
	defer span.End()

	logger.InfoContext(ctx, "query_stage", "stage", "Fused")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if record["service"] != "api" || record["stage"] != "Fused" {
		t.Fatalf("unexpected record %v", record)
	}
	if record["trace_id"] != span.SpanContext().TraceID().String() {
		t.Fatalf("expected trace id, got %v", record["trace_id"])
	}
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "worker", "warn")
	logger.Info("ingest_completed")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level: %s", buf.String())
	}
	logger.Warn("retrieval_degraded", "path", "dense_unavailable")
	if buf.Len() == 0 {
		t.Fatalf("expected warn record")
	}
}
