package telemetry

import (
	"context"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled is always valid", Config{SampleRatio: -1}, false},
		{"enabled", Config{Enabled: true, ServiceName: "widgets", SampleRatio: 0.5}, false},
		{"ratio below 0", Config{Enabled: true, ServiceName: "widgets", SampleRatio: -0.1}, true},
		{"ratio above 1", Config{Enabled: true, ServiceName: "widgets", SampleRatio: 1.5}, true},
		{"missing service name", Config{Enabled: true, SampleRatio: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestInitDisabledIsNoop(t *testing.T) {
	h, err := Init(context.Background(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	_, span := h.TracerProvider.Tracer("test").Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatal("expected a non-recording span from the disabled provider")
	}
	span.End()
	if err := h.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestInitWithProviderRecords(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	h := InitWithProvider(tp)

	_, span := h.TracerProvider.Tracer("test").Start(context.Background(), "widget.lookup")
	span.End()
	if got := len(recorder.Ended()); got != 1 {
		t.Fatalf("expected 1 span, got %d", got)
	}
}

func TestSampler(t *testing.T) {
	cases := map[float64]string{
		1:   "AlwaysOnSampler",
		0:   "AlwaysOffSampler",
		0.5: "ParentBased{root:TraceIDRatioBased{0.5}",
	}
	for ratio, want := range cases {
		if got := sampler(ratio).Description(); !strings.HasPrefix(got, want) {
			t.Errorf("sampler(%v) = %q, want %q", ratio, got, want)
		}
	}
}
