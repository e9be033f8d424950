package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/letskickk/fact/internal/config"
	"github.com/letskickk/fact/internal/knowledge"
	"github.com/letskickk/fact/internal/metrics"
	"github.com/letskickk/fact/internal/session"
	"github.com/letskickk/fact/internal/transcription"
)

// TranscriptionStats reports transcription client counters
type TranscriptionStats interface {
	GetStats() transcription.ClientStats
}

// KnowledgeBase reports the state of the reference index
type KnowledgeBase interface {
	Built() bool
	Len() int
	ListDocuments() ([]knowledge.Document, error)
}

// Deps are the collaborators the HTTP server exposes
type Deps struct {
	Registry      *session.Registry
	Runner        session.Runner
	Transcription TranscriptionStats
	Knowledge     KnowledgeBase
	Metrics       *metrics.Metrics
	Gatherer      prometheus.Gatherer // nil means the default registry
}

// HTTPServer provides the websocket endpoint and HTTP API endpoints
type HTTPServer struct {
	server *http.Server
	logger *slog.Logger
	config config.ServerConfig
	deps   Deps

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.ServerConfig, deps Deps, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Registry == nil {
		deps.Registry = session.NewRegistry(logger)
	}

	h := &HTTPServer{
		logger:    logger,
		config:    cfg,
		deps:      deps,
		startTime: time.Now(),
	}

	h.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return h
}

// Handler returns the routed handler, for embedding or tests
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	h.setupRoutes(mux)
	return mux
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/api/health", h.withMetrics("/api/health", h.handleHealth))

	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/api/reference-files", h.withMetrics("/api/reference-files", h.handleReferenceFiles))

	mux.HandleFunc("/ws", h.withMetrics("/ws", h.handleWebSocket))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	gatherer := h.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.deps.Metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.deps.Metrics.RecordHTTPError(r.Method, endpoint, errorType)
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

// Hijack lets the websocket upgrader take over the connection
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	conn, buf, err := hj.Hijack()
	if err == nil {
		rw.statusCode = http.StatusSwitchingProtocols
	}
	return conn, buf, err
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server and every live session
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	err := h.server.Shutdown(ctx)
	if serr := h.deps.Registry.Shutdown(ctx); serr != nil && err == nil {
		err = serr
	}
	return err
}

// handleHealth implements the /health and /api/health endpoints
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := map[string]interface{}{
		"status":          "ok",
		"timestamp":       time.Now().UTC(),
		"uptime":          time.Since(h.startTime).String(),
		"active_sessions": h.deps.Registry.Count(),
	}
	if h.deps.Knowledge != nil {
		health["knowledge_ready"] = h.deps.Knowledge.Built()
	}

	writeJSON(w, health)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]interface{}{
			"active_count": h.deps.Registry.Count(),
			"active":       h.deps.Registry.Snapshot(),
		},
	}
	if h.deps.Transcription != nil {
		stats["transcription"] = h.deps.Transcription.GetStats()
	}
	if h.deps.Knowledge != nil {
		stats["knowledge"] = map[string]interface{}{
			"ready":  h.deps.Knowledge.Built(),
			"chunks": h.deps.Knowledge.Len(),
		}
	}

	writeJSON(w, stats)
}

// handleReferenceFiles implements the /api/reference-files endpoint
func (h *HTTPServer) handleReferenceFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	files := []knowledge.Document{}
	if h.deps.Knowledge != nil {
		docs, err := h.deps.Knowledge.ListDocuments()
		if err != nil {
			h.logger.Error("Failed to list reference files", slog.String("error", err.Error()))
			http.Error(w, "Failed to list reference files", http.StatusInternalServerError)
			return
		}
		files = append(files, docs...)
	}

	writeJSON(w, map[string]interface{}{"files": files})
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
		"service": "Live Fact-Check Service",
		"endpoints": map[string]interface{}{
			"GET /":                    "API documentation",
			"GET /health":              "Service health check",
			"GET /api/health":          "Service health check",
			"GET /stats":               "Session, transcription and knowledge statistics",
			"GET /api/reference-files": "List reference documents",
			"GET /metrics":             "Prometheus metrics",
			"GET /ws":                  "Live session websocket",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, apiDoc)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
