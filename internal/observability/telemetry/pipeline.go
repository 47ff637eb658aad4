// Package telemetry exports loop health samples through a bounded,
// non-blocking pipeline. The controller must never stall on a slow or dead
// collector; when the queue is full, samples are dropped and counted.
package telemetry

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tiger/payment-ops-agent/api/remediation"
)

// Metric names emitted per remediation cycle.
const (
	MetricSuccessRate       = "success_rate"
	MetricAvgLatencyMS      = "avg_latency_ms"
	MetricPatternsDetected  = "patterns_detected"
	MetricActionsTaken      = "actions_taken"
	MetricCycleTimeMS       = "cycle_time_ms"
	MetricTotalTransactions = "total_transactions"
)

// Kind discriminates sample payloads.
type Kind string

const (
	KindMetric Kind = "metric"
	KindLog    Kind = "log"
)

// MetricSample is one numeric observation.
type MetricSample struct {
	Name       string            `json:"name"`
	Value      float64           `json:"value"`
	Unit       string            `json:"unit,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// LogSample is one structured log observation.
type LogSample struct {
	Name       string            `json:"name"`
	Severity   string            `json:"severity"`
	Message    string            `json:"message"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Sample is the normalized export envelope.
type Sample struct {
	Kind        Kind          `json:"kind"`
	TimestampMS int64         `json:"timestamp_ms"`
	Metric      *MetricSample `json:"metric,omitempty"`
	Log         *LogSample    `json:"log,omitempty"`
}

// Sink exports normalized samples. Export runs on the pipeline goroutine
// under the configured timeout.
type Sink interface {
	Export(ctx context.Context, sample Sample) error
}

type discardSink struct{}

func (discardSink) Export(context.Context, Sample) error { return nil }

// Config controls queue bounds and export behavior.
type Config struct {
	QueueCapacity int
	ExportTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueCapacity < 1 {
		c.QueueCapacity = 256
	}
	if c.ExportTimeout <= 0 {
		c.ExportTimeout = 200 * time.Millisecond
	}
	return c
}

// Stats snapshots the pipeline counters.
type Stats struct {
	Enqueued       uint64
	Dropped        uint64
	Exported       uint64
	ExportFailures uint64
	QueueDepth     int
}

// Pipeline is the bounded non-blocking exporter.
type Pipeline struct {
	sink Sink
	cfg  Config

	queue chan Sample
	stop  chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup

	enqueued       atomic.Uint64
	dropped        atomic.Uint64
	exported       atomic.Uint64
	exportFailures atomic.Uint64
}

// NewPipeline constructs and starts a pipeline. A nil sink discards.
func NewPipeline(sink Sink, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	if sink == nil {
		sink = discardSink{}
	}
	p := &Pipeline{
		sink:  sink,
		cfg:   cfg,
		queue: make(chan Sample, cfg.QueueCapacity),
		stop:  make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Close drains queued samples and stops the export goroutine.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		close(p.stop)
		p.wg.Wait()
	})
	return nil
}

// Stats returns current counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Enqueued:       p.enqueued.Load(),
		Dropped:        p.dropped.Load(),
		Exported:       p.exported.Load(),
		ExportFailures: p.exportFailures.Load(),
		QueueDepth:     len(p.queue),
	}
}

// EmitCycle fans one cycle snapshot out into its metric samples.
func (p *Pipeline) EmitCycle(snapshot remediation.MetricsSnapshot) {
	ts := snapshot.Timestamp.UnixMilli()
	attrs := map[string]string{
		"cycle_total_transactions": strconv.FormatInt(snapshot.TotalTransactions, 10),
	}
	p.emitAt(ts, MetricSuccessRate, snapshot.SuccessRate, "ratio", attrs)
	p.emitAt(ts, MetricAvgLatencyMS, snapshot.AvgLatencyMS, "ms", nil)
	p.emitAt(ts, MetricPatternsDetected, float64(snapshot.PatternsDetected), "count", nil)
	p.emitAt(ts, MetricActionsTaken, float64(snapshot.ActionsTaken), "count", nil)
	p.emitAt(ts, MetricCycleTimeMS, snapshot.CycleTimeMS, "ms", nil)
	p.emitAt(ts, MetricTotalTransactions, float64(snapshot.TotalTransactions), "count", nil)
}

// EmitMetric enqueues one metric sample without blocking.
func (p *Pipeline) EmitMetric(name string, value float64, unit string, attributes map[string]string) {
	p.emitAt(time.Now().UnixMilli(), name, value, unit, attributes)
}

func (p *Pipeline) emitAt(ts int64, name string, value float64, unit string, attributes map[string]string) {
	p.enqueue(Sample{
		Kind:        KindMetric,
		TimestampMS: ts,
		Metric: &MetricSample{
			Name:       strings.TrimSpace(name),
			Value:      value,
			Unit:       unit,
			Attributes: cloneAttributes(attributes),
		},
	})
}

// EmitLog enqueues one log sample without blocking.
func (p *Pipeline) EmitLog(name, severity, message string, attributes map[string]string) {
	p.enqueue(Sample{
		Kind:        KindLog,
		TimestampMS: time.Now().UnixMilli(),
		Log: &LogSample{
			Name:       strings.TrimSpace(name),
			Severity:   strings.ToLower(strings.TrimSpace(severity)),
			Message:    message,
			Attributes: cloneAttributes(attributes),
		},
	})
}

func (p *Pipeline) enqueue(sample Sample) {
	select {
	case p.queue <- sample:
		p.enqueued.Add(1)
	default:
		p.dropped.Add(1)
	}
}

func (p *Pipeline) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stop:
			for {
				select {
				case sample := <-p.queue:
					p.export(sample)
				default:
					return
				}
			}
		case sample := <-p.queue:
			p.export(sample)
		}
	}
}

func (p *Pipeline) export(sample Sample) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ExportTimeout)
	defer cancel()
	if err := p.sink.Export(ctx, sample); err != nil {
		p.exportFailures.Add(1)
		return
	}
	p.exported.Add(1)
}

func cloneAttributes(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		out[key] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
