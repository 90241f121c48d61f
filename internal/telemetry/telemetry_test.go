package telemetry

import (
	"context"
	"testing"

	"github.com/opensource-finance/sentinel/internal/domain"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit(t *testing.T) {
	ctx := context.Background()

	t.Run("Disabled", func(t *testing.T) {
		shutdown, err := Init(ctx, domain.TracingConfig{Enabled: false}, "test")
		if err != nil {
			t.Fatalf("Init failed: %v", err)
		}
		if err := shutdown(ctx); err != nil {
			t.Errorf("shutdown failed: %v", err)
		}
	})

	t.Run("UnsupportedExporter", func(t *testing.T) {
		_, err := Init(ctx, domain.TracingConfig{Enabled: true, ExporterType: "zipkin"}, "test")
		if err == nil {
			t.Error("expected error for unsupported exporter")
		}
	})
}

func TestStartSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	_, span := StartSpan(context.Background(), "pipeline.Score", TxnID("txn-1"), UserID("user-1"))
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "pipeline.Score" {
		t.Errorf("expected span name pipeline.Score, got %s", spans[0].Name())
	}

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	if attrs["txn.id"] != "txn-1" {
		t.Errorf("expected txn.id txn-1, got %q", attrs["txn.id"])
	}
	if attrs["user.id"] != "user-1" {
		t.Errorf("expected user.id user-1, got %q", attrs["user.id"])
	}
}
