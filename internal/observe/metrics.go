// Package observe provides application-wide observability primitives for
// vibot: OpenTelemetry metrics, tracing helpers, trace-aware logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all vibot metrics.
const meterName = "github.com/MrWong99/vibot"

// Eviction reasons recorded on [Metrics.Evictions].
const (
	ReasonIdle       = "idle"
	ReasonLeave      = "leave"
	ReasonDisconnect = "disconnect"
	ReasonShutdown   = "shutdown"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ResolveDuration tracks how long it takes to open a remote source until
	// the first PCM bytes are available.
	ResolveDuration metric.Float64Histogram

	// ConnectDuration tracks voice channel join latency.
	ConnectDuration metric.Float64Histogram

	// --- Counters ---

	// Dispatches counts queue items handed to the transport. Use with attribute:
	//   attribute.String("outcome", "ok"|"error")
	Dispatches metric.Int64Counter

	// StreamErrors counts streams that ended with a resolve or decode error.
	StreamErrors metric.Int64Counter

	// Evictions counts group teardowns. Use with attribute:
	//   attribute.String("reason", ReasonIdle|ReasonLeave|...)
	Evictions metric.Int64Counter

	// Commands counts handled slash commands. Use with attribute:
	//   attribute.String("command", ...)
	Commands metric.Int64Counter

	// --- Gauges ---

	// ActiveGroups tracks the number of guilds holding playback state.
	ActiveGroups metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// voice joins and yt-dlp start-up, which routinely take several seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ResolveDuration, err = m.Float64Histogram("vibot.resolve.duration",
		metric.WithDescription("Time from resolve request to first decoded audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("vibot.transport.connect.duration",
		metric.WithDescription("Latency of joining a voice channel."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Dispatches, err = m.Int64Counter("vibot.playback.dispatches",
		metric.WithDescription("Queue items dispatched by outcome."),
	); err != nil {
		return nil, err
	}
	if met.StreamErrors, err = m.Int64Counter("vibot.playback.stream.errors",
		metric.WithDescription("Streams that failed to start or broke mid-playback."),
	); err != nil {
		return nil, err
	}
	if met.Evictions, err = m.Int64Counter("vibot.playback.evictions",
		metric.WithDescription("Guild playback teardowns by reason."),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("vibot.commands",
		metric.WithDescription("Slash commands handled by command name."),
	); err != nil {
		return nil, err
	}

	if met.ActiveGroups, err = m.Int64UpDownCounter("vibot.playback.active_groups",
		metric.WithDescription("Number of guilds with live playback state."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("vibot.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordDispatch records one dispatch with outcome "ok" or "error".
func (m *Metrics) RecordDispatch(ctx context.Context, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.Dispatches.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordEviction records a group teardown and decrements the active group gauge.
func (m *Metrics) RecordEviction(ctx context.Context, reason string) {
	m.Evictions.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
	m.ActiveGroups.Add(ctx, -1)
}

// RecordCommand records a handled slash command.
func (m *Metrics) RecordCommand(ctx context.Context, command string) {
	m.Commands.Add(ctx, 1, metric.WithAttributes(Attr("command", command)))
}

// ObserveSince records the seconds elapsed since start on h.
func ObserveSince(ctx context.Context, h metric.Float64Histogram, start time.Time) {
	h.Record(ctx, time.Since(start).Seconds())
}
