package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the audio splitter.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Upstream input metrics
	BytesRead  prometheus.Counter
	ChunksRead prometheus.Counter

	// Framing metrics
	SamplesFramed    prometheus.Counter
	PrerollSamples   prometheus.Gauge
	PrerollEvictions prometheus.Counter
	ReplayedSamples  prometheus.Counter

	// Mode metrics
	Recording   prometheus.Gauge
	Monitoring  prometheus.Gauge
	ModeChanges prometheus.Counter

	// Output metrics
	OutputStarts        *prometheus.CounterVec
	OutputStops         *prometheus.CounterVec
	OutputStartFailures *prometheus.CounterVec
	OutputWriteErrors   *prometheus.CounterVec
	OutputDroppedWrites *prometheus.CounterVec

	// Control channel metrics
	ControlPacketsReceived  prometheus.Counter
	ControlPacketsProcessed prometheus.Counter
	ControlParseErrors      prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		BytesRead: f.NewCounter(prometheus.CounterOpts{
			Name: "splitter_input_bytes_total",
			Help: "Total number of raw bytes read from the upstream source",
		}),
		ChunksRead: f.NewCounter(prometheus.CounterOpts{
			Name: "splitter_input_chunks_total",
			Help: "Total number of read chunks handed to the splitter",
		}),

		SamplesFramed: f.NewCounter(prometheus.CounterOpts{
			Name: "splitter_samples_framed_total",
			Help: "Total number of complete samples produced by re-framing",
		}),
		PrerollSamples: f.NewGauge(prometheus.GaugeOpts{
			Name: "splitter_preroll_samples",
			Help: "Current number of samples held in the pre-roll buffer",
		}),
		PrerollEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "splitter_preroll_evictions_total",
			Help: "Total number of samples evicted from a full pre-roll buffer",
		}),
		ReplayedSamples: f.NewCounter(prometheus.CounterOpts{
			Name: "splitter_preroll_replayed_samples_total",
			Help: "Total number of pre-roll samples replayed into newly started record outputs",
		}),

		Recording: f.NewGauge(prometheus.GaugeOpts{
			Name: "splitter_recording",
			Help: "1 while recording mode is active",
		}),
		Monitoring: f.NewGauge(prometheus.GaugeOpts{
			Name: "splitter_monitoring",
			Help: "1 while monitoring mode is active",
		}),
		ModeChanges: f.NewCounter(prometheus.CounterOpts{
			Name: "splitter_mode_changes_total",
			Help: "Total number of applied mode requests",
		}),

		OutputStarts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "splitter_output_starts_total",
			Help: "Total number of output starts",
		}, []string{"output"}),
		OutputStops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "splitter_output_stops_total",
			Help: "Total number of output stops",
		}, []string{"output"}),
		OutputStartFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "splitter_output_start_failures_total",
			Help: "Total number of failed output starts",
		}, []string{"output"}),
		OutputWriteErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "splitter_output_write_errors_total",
			Help: "Total number of failed output writes",
		}, []string{"output"}),
		OutputDroppedWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "splitter_output_dropped_writes_total",
			Help: "Total number of writes dropped because an output queue was full",
		}, []string{"output"}),

		ControlPacketsReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "splitter_control_packets_received_total",
			Help: "Total number of control datagrams received",
		}),
		ControlPacketsProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "splitter_control_packets_processed_total",
			Help: "Total number of control datagrams applied as mode commands",
		}),
		ControlParseErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "splitter_control_parse_errors_total",
			Help: "Total number of control datagrams that could not be decoded",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "splitter_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "splitter_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "splitter_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordInput records one chunk read from the upstream source
func (m *Metrics) RecordInput(n int) {
	if m == nil {
		return
	}
	m.ChunksRead.Inc()
	m.BytesRead.Add(float64(n))
}

// RecordSamplesFramed adds n completed samples
func (m *Metrics) RecordSamplesFramed(n int) {
	if m == nil || n == 0 {
		return
	}
	m.SamplesFramed.Add(float64(n))
}

// SetPrerollSamples sets the current pre-roll fill level
func (m *Metrics) SetPrerollSamples(n int) {
	if m == nil {
		return
	}
	m.PrerollSamples.Set(float64(n))
}

// RecordPrerollEvictions adds n evicted samples
func (m *Metrics) RecordPrerollEvictions(n int) {
	if m == nil || n == 0 {
		return
	}
	m.PrerollEvictions.Add(float64(n))
}

// RecordReplay adds n replayed samples
func (m *Metrics) RecordReplay(n int) {
	if m == nil || n == 0 {
		return
	}
	m.ReplayedSamples.Add(float64(n))
}

// SetMode records the current mode flags
func (m *Metrics) SetMode(recording, monitoring bool) {
	if m == nil {
		return
	}
	m.ModeChanges.Inc()
	m.Recording.Set(boolGauge(recording))
	m.Monitoring.Set(boolGauge(monitoring))
}

// RecordOutputStart records a start attempt for the named output
func (m *Metrics) RecordOutputStart(name string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.OutputStartFailures.WithLabelValues(name).Inc()
		return
	}
	m.OutputStarts.WithLabelValues(name).Inc()
}

// RecordOutputStop records a stop of the named output
func (m *Metrics) RecordOutputStop(name string) {
	if m == nil {
		return
	}
	m.OutputStops.WithLabelValues(name).Inc()
}

// RecordOutputWriteError records a failed write to the named output
func (m *Metrics) RecordOutputWriteError(name string) {
	if m == nil {
		return
	}
	m.OutputWriteErrors.WithLabelValues(name).Inc()
}

// RecordOutputDrop records a write dropped by the named output's queue
func (m *Metrics) RecordOutputDrop(name string) {
	if m == nil {
		return
	}
	m.OutputDroppedWrites.WithLabelValues(name).Inc()
}

// RecordControlPacket records a received control datagram and whether it parsed
func (m *Metrics) RecordControlPacket(parsed bool) {
	if m == nil {
		return
	}
	m.ControlPacketsReceived.Inc()
	if parsed {
		m.ControlPacketsProcessed.Inc()
	} else {
		m.ControlParseErrors.Inc()
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
