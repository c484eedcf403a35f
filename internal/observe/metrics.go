// Package observe holds the OpenTelemetry instruments of the pipeline and the
// provider setup that exposes them to Prometheus.
//
// Tests should build Metrics with NewMetrics over a ManualReader-backed
// provider rather than the global one.
package observe

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hanrai/VoiceShow/internal/analyzer"
	"github.com/hanrai/VoiceShow/internal/pipeline"
)

const meterName = "github.com/hanrai/VoiceShow"

// Metrics holds every instrument. The OTel types are safe for concurrent use.
type Metrics struct {
	// Frames counts processed frames by outcome: extracted, silent, failed.
	Frames metric.Int64Counter
	// Events counts emitted events by category.
	Events metric.Int64Counter
	// Onsets counts event onsets by category.
	Onsets metric.Int64Counter
	// Confidence records the confidence of emitted events.
	Confidence metric.Float64Histogram
	// ProcessDuration times one Session.Process call.
	ProcessDuration metric.Float64Histogram
	// QueueDropped counts frames discarded by the capture queue.
	QueueDropped metric.Int64Counter
	// Restarts counts source restarts that reset the session.
	Restarts metric.Int64Counter
	// WSClients tracks connected websocket clients.
	WSClients metric.Int64UpDownCounter
}

var durationBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

var confidenceBuckets = []float64{0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var errs []error
	var err error

	met.Frames, err = m.Int64Counter("voiceshow.frames",
		metric.WithDescription("Frames processed, by outcome."))
	errs = append(errs, err)
	met.Events, err = m.Int64Counter("voiceshow.events",
		metric.WithDescription("Classified events, by category."))
	errs = append(errs, err)
	met.Onsets, err = m.Int64Counter("voiceshow.onsets",
		metric.WithDescription("Event onsets, by category."))
	errs = append(errs, err)
	met.Confidence, err = m.Float64Histogram("voiceshow.event.confidence",
		metric.WithDescription("Confidence of emitted events."),
		metric.WithExplicitBucketBoundaries(confidenceBuckets...))
	errs = append(errs, err)
	met.ProcessDuration, err = m.Float64Histogram("voiceshow.process.duration",
		metric.WithDescription("Time spent processing one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...))
	errs = append(errs, err)
	met.QueueDropped, err = m.Int64Counter("voiceshow.queue.dropped",
		metric.WithDescription("Frames dropped by the capture queue."))
	errs = append(errs, err)
	met.Restarts, err = m.Int64Counter("voiceshow.source.restarts",
		metric.WithDescription("Source restarts that reset the session."))
	errs = append(errs, err)
	met.WSClients, err = m.Int64UpDownCounter("voiceshow.ws.clients",
		metric.WithDescription("Connected websocket clients."))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return met, nil
}

// Outcome labels a Result for the frames counter.
func Outcome(res pipeline.Result) string {
	switch {
	case res.Err == nil:
		return "extracted"
	case errors.Is(res.Err, analyzer.ErrNoSignal):
		return "silent"
	default:
		return "failed"
	}
}

// RecordResult records one processed frame.
func (m *Metrics) RecordResult(ctx context.Context, res pipeline.Result, took time.Duration) {
	if m == nil {
		return
	}
	m.Frames.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", Outcome(res))))
	m.ProcessDuration.Record(ctx, took.Seconds())
	if !res.HasEvent {
		return
	}
	cat := metric.WithAttributes(attribute.String("category", res.Event.Type.String()))
	m.Events.Add(ctx, 1, cat)
	m.Confidence.Record(ctx, res.Event.Confidence, cat)
	if res.Onset {
		m.Onsets.Add(ctx, 1, cat)
	}
}

// RecordDropped adds n dropped frames.
func (m *Metrics) RecordDropped(ctx context.Context, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.QueueDropped.Add(ctx, int64(n))
}

func (m *Metrics) RecordRestart(ctx context.Context) {
	if m == nil {
		return
	}
	m.Restarts.Add(ctx, 1)
}

func (m *Metrics) ClientConnected(ctx context.Context) {
	if m == nil {
		return
	}
	m.WSClients.Add(ctx, 1)
}

func (m *Metrics) ClientDisconnected(ctx context.Context) {
	if m == nil {
		return
	}
	m.WSClients.Add(ctx, -1)
}
