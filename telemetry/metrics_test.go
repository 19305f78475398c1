package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsInitialized(t *testing.T) {
	Init()
	// calling twice must not re-register
	Init()

	if SessionDuration == nil || DeliveryDuration == nil {
		t.Fatal("histograms not initialized")
	}
	if ActiveSessions == nil || MessagesCollected == nil || TriggersRejected == nil {
		t.Fatal("counters/gauges not initialized")
	}
}

func TestCountersIncrement(t *testing.T) {
	Init()

	before := testutil.ToFloat64(MessagesCollected)
	MessagesCollected.Add(3)
	if got := testutil.ToFloat64(MessagesCollected) - before; got != 3 {
		t.Errorf("MessagesCollected delta = %v, want 3", got)
	}

	RejectTrigger("busy")
	RejectTrigger("busy")
	if got := testutil.ToFloat64(TriggersRejected.WithLabelValues("busy")); got < 2 {
		t.Errorf("TriggersRejected{busy} = %v, want >= 2", got)
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})

	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}

	metric := &dto.Metric{}
	if err := testHistogram.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram == nil || metric.Histogram.GetSampleCount() == 0 {
		t.Error("TimeFunc did not record observation in histogram")
	}

	// nil observer is allowed
	TimeFunc(nil, func() {})
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if GetCorrelation(ctx) != "" {
		t.Error("expected empty correlation on bare context")
	}
	ctx = WithCorrelation(ctx, "req-1")
	if got := GetCorrelation(ctx); got != "req-1" {
		t.Errorf("GetCorrelation = %q, want req-1", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}

func TestInitTracingDisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracing("chat-collector", "test", "")
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	shutdown()
	if IsTracingEnabled() {
		t.Error("tracing should stay disabled without an endpoint")
	}
	_, span := StartSpan(WithCorrelation(context.Background(), "x"), "test", "noop")
	RecordError(span, nil)
	SetSpanSuccess(span)
	span.End()
}
