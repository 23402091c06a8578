package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/rtl-audio-splitter/internal/config"
	"github.com/skypro1111/rtl-audio-splitter/internal/metrics"
	"github.com/skypro1111/rtl-audio-splitter/internal/splitter"
	"github.com/skypro1111/rtl-audio-splitter/internal/stream"
)

// maxModeRequestSize bounds the POST /mode body
const maxModeRequestSize = 1024

// Controller is the splitter surface used by the HTTP API
type Controller interface {
	ModeSetter
	Mode() splitter.Mode
	Status() splitter.Status
}

// HTTPServer provides HTTP API endpoints for monitoring and mode control
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	config   *config.Config
	ctrl     Controller
	control  *UDPServer
	pump     *stream.Pump
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	startTime time.Time
}

// modeRequest is the POST /mode body. Omitted fields are left unchanged.
type modeRequest struct {
	Record  *bool `json:"record"`
	Monitor *bool `json:"monitor"`
}

// NewHTTPServer creates a new HTTP API server. control and pump may be nil;
// a nil gatherer serves the default Prometheus registry.
func NewHTTPServer(appConfig *config.Config, ctrl Controller, control *UDPServer, pump *stream.Pump,
	m *metrics.Metrics, gatherer prometheus.Gatherer, logger *slog.Logger) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		ctrl:      ctrl,
		control:   control,
		pump:      pump,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         net.JoinHostPort(appConfig.HTTP.Address, strconv.Itoa(appConfig.HTTP.Port)),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/mode", h.withMetrics("/mode", h.handleMode))
	mux.HandleFunc("/outputs", h.withMetrics("/outputs", h.handleOutputs))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// No request metrics for the metrics endpoint itself
	if h.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the API handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Run serves the API until ctx is cancelled
func (h *HTTPServer) Run(ctx context.Context) error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.Stop(shutdownCtx)
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := h.ctrl.Status()
	active := 0
	for _, o := range status.Outputs {
		if o.Active {
			active++
		}
	}

	components := map[string]interface{}{
		"splitter": map[string]interface{}{
			"status":         "running",
			"recording":      status.Mode.Recording,
			"monitoring":     status.Mode.Monitoring,
			"active_outputs": active,
			"total_outputs":  len(status.Outputs),
		},
	}
	if h.control != nil {
		stats := h.control.GetStatistics()
		components["control"] = map[string]interface{}{
			"status":            "running",
			"packets_received":  stats.PacketsReceived,
			"packets_processed": stats.PacketsProcessed,
			"parse_errors":      stats.ParseErrors,
		}
	}
	if h.pump != nil {
		stats := h.pump.Statistics()
		components["upstream"] = map[string]interface{}{
			"status":       "running",
			"bytes_read":   stats.BytesRead,
			"last_read_at": stats.LastReadAt,
		}
	}

	health := map[string]interface{}{
		"status":     "healthy",
		"timestamp":  time.Now().UTC(),
		"uptime":     time.Since(h.startTime).String(),
		"service":    map[string]interface{}{"name": "rtl-audio-splitter", "version": "1.0.0"},
		"components": components,
	}

	writeJSON(w, http.StatusOK, health)
}

// handleMode implements GET and POST /mode
func (h *HTTPServer) handleMode(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.ctrl.Mode())

	case http.MethodPost:
		var req modeRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxModeRequestSize))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("Invalid mode request: %v", err), http.StatusBadRequest)
			return
		}

		record, monitor := splitter.Keep, splitter.Keep
		if req.Record != nil {
			record = splitter.FlagOf(*req.Record)
		}
		if req.Monitor != nil {
			monitor = splitter.FlagOf(*req.Monitor)
		}

		mode := h.ctrl.SetMode(record, monitor)
		h.logger.Info("Mode changed via HTTP",
			slog.String("remote_addr", r.RemoteAddr),
			slog.Bool("recording", mode.Recording),
			slog.Bool("monitoring", mode.Monitoring),
		)
		writeJSON(w, http.StatusOK, mode)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleOutputs implements the /outputs endpoint
func (h *HTTPServer) handleOutputs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := h.ctrl.Status()
	response := map[string]interface{}{
		"total_outputs": len(status.Outputs),
		"timestamp":     time.Now().UTC(),
		"outputs":       status.Outputs,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	outputs := make([]map[string]interface{}, 0, len(h.config.Outputs))
	for _, o := range h.config.Outputs {
		outputs = append(outputs, map[string]interface{}{
			"name":      o.Name,
			"type":      o.Type,
			"roles":     o.Roles,
			"extension": o.Extension,
			"command":   o.Command,
		})
	}

	cfg := map[string]interface{}{
		"control": map[string]interface{}{
			"enabled":          h.config.Control.Enabled,
			"udp_port":         h.config.Control.UDPPort,
			"bind_address":     h.config.Control.BindAddress,
			"poll_interval_ms": h.config.Control.PollInterval,
			"queue_size":       h.config.Control.QueueSize,
		},
		"audio": map[string]interface{}{
			"sample_rate":  h.config.Audio.SampleRate,
			"sample_bytes": h.config.Audio.SampleBytes,
			"read_size":    h.config.Audio.ReadSize,
		},
		"recording": map[string]interface{}{
			"directory":       h.config.Recording.Directory,
			"buffer_seconds":  h.config.Recording.BufferSeconds,
			"preroll_samples": h.config.PrerollCapacity(),
			"grace_period_ms": h.config.Recording.GracePeriod,
			"queue_size":      h.config.Recording.QueueSize,
		},
		"outputs": outputs,
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, cfg)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := h.ctrl.Status()
	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"splitter": map[string]interface{}{
			"mode":             status.Mode,
			"sample_bytes":     status.SampleBytes,
			"preroll_samples":  status.PrerollSamples,
			"preroll_capacity": status.PrerollCapacity,
			"preroll_evicted":  status.PrerollEvicted,
			"pending_bytes":    status.PendingBytes,
		},
	}
	if h.control != nil {
		stats["control"] = h.control.GetStatistics()
	}
	if h.pump != nil {
		stats["upstream"] = h.pump.Statistics()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "RTL Audio Splitter",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":        "API documentation",
			"GET /health":  "Service health check",
			"GET /mode":    "Current recording and monitoring mode",
			"POST /mode":   "Change mode: {\"record\": bool, \"monitor\": bool}, omitted fields unchanged",
			"GET /outputs": "List outputs and their state",
			"GET /config":  "Get service configuration",
			"GET /stats":   "Get service statistics",
			"GET /metrics": "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
