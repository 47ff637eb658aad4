package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tiger/payment-ops-agent/api/remediation"
)

func TestEmitCycleFansOutMetrics(t *testing.T) {
	t.Parallel()

	sink := NewMemorySink()
	p := NewPipeline(sink, Config{QueueCapacity: 32})
	p.EmitCycle(remediation.MetricsSnapshot{
		Timestamp:         time.Date(2026, time.June, 10, 9, 0, 0, 0, time.UTC),
		SuccessRate:       0.93,
		AvgLatencyMS:      640,
		PatternsDetected:  2,
		ActionsTaken:      1,
		TotalTransactions: 500,
		CycleTimeMS:       3.5,
	})
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := len(sink.Samples()); got != 6 {
		t.Fatalf("expected 6 samples, got %d", got)
	}
	if got := sink.MetricValues(MetricSuccessRate); len(got) != 1 || got[0] != 0.93 {
		t.Fatalf("unexpected success rate samples %v", got)
	}
	if got := sink.MetricValues(MetricPatternsDetected); len(got) != 1 || got[0] != 2 {
		t.Fatalf("unexpected pattern samples %v", got)
	}

	stats := p.Stats()
	if stats.Enqueued != 6 || stats.Exported != 6 || stats.Dropped != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

type blockingSink struct {
	release chan struct{}
	once    sync.Once
}

func (s *blockingSink) Export(ctx context.Context, _ Sample) error {
	s.once.Do(func() { <-s.release })
	return nil
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()

	sink := &blockingSink{release: make(chan struct{})}
	p := NewPipeline(sink, Config{QueueCapacity: 1})

	// First sample occupies the export goroutine, second fills the queue,
	// the rest must drop without blocking this goroutine.
	for i := 0; i < 5; i++ {
		p.EmitMetric(MetricSuccessRate, 1, "ratio", nil)
	}
	stats := p.Stats()
	if stats.Dropped == 0 {
		t.Fatalf("expected drops, got %+v", stats)
	}
	close(sink.release)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

type failingSink struct{}

func (failingSink) Export(context.Context, Sample) error {
	return errors.New("collector down")
}

func TestExportFailuresAreCounted(t *testing.T) {
	t.Parallel()

	p := NewPipeline(failingSink{}, Config{QueueCapacity: 8})
	p.EmitLog("rollback", "warn", "action reverted", map[string]string{"action_id": "action_1"})
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := p.Stats().ExportFailures; got != 1 {
		t.Fatalf("expected 1 export failure, got %d", got)
	}
}

func TestHTTPSinkPostsJSON(t *testing.T) {
	t.Parallel()

	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sink := NewHTTPSink(server.URL, server.Client())
	err := sink.Export(context.Background(), Sample{
		Kind:        KindMetric,
		TimestampMS: 1,
		Metric:      &MetricSample{Name: MetricAvgLatencyMS, Value: 800, Unit: "ms"},
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if gotContentType != "application/json" {
		t.Fatalf("unexpected content type %q", gotContentType)
	}
}

func TestHTTPSinkRejectsNon2xx(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sink := NewHTTPSink(server.URL, server.Client())
	if err := sink.Export(context.Background(), Sample{Kind: KindLog, Log: &LogSample{Name: "x"}}); err == nil {
		t.Fatal("expected error for 503")
	}
}
