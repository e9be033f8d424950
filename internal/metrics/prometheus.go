package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the fact-check service
type Metrics struct {
	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsStarted  prometheus.Counter
	SessionsStopped  prometheus.Counter
	SessionChunks    prometheus.Histogram
	KeepalivesSent   prometheus.Counter
	WebsocketClients prometheus.Gauge

	// Pipeline metrics
	ChunksProcessed *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	StageFailures   *prometheus.CounterVec
	Verdicts        *prometheus.CounterVec
	ErrorCeilingHit prometheus.Counter

	// Knowledge metrics
	KnowledgeChunks     prometheus.Gauge
	KnowledgeBuilds     *prometheus.CounterVec
	KnowledgeBuildTime  prometheus.Histogram
	EmbeddingRequests   prometheus.Counter
	EmbeddedChunks      prometheus.Counter
	KnowledgeSearches   prometheus.Counter
	KnowledgeSearchHits prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fact_active_sessions",
			Help: "Current number of running fact-check sessions",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "fact_sessions_started_total",
			Help: "Total number of pipeline runs started",
		}),
		SessionsStopped: factory.NewCounter(prometheus.CounterOpts{
			Name: "fact_sessions_stopped_total",
			Help: "Total number of pipeline runs stopped",
		}),
		SessionChunks: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fact_session_chunks",
			Help:    "Chunks processed per pipeline run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		KeepalivesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "fact_keepalives_sent_total",
			Help: "Total number of keepalive pings delivered",
		}),
		WebsocketClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fact_websocket_clients",
			Help: "Current number of connected websocket clients",
		}),

		// Pipeline metrics
		ChunksProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fact_chunks_total",
			Help: "Audio chunks handled by the pipeline, by outcome",
		}, []string{"outcome"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fact_stage_duration_seconds",
			Help:    "Duration of pipeline stage calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30, 60},
		}, []string{"stage"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fact_stage_failures_total",
			Help: "Failed pipeline stage calls, by stage and reason",
		}, []string{"stage", "reason"}),
		Verdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fact_verdicts_total",
			Help: "Verdicts produced, by category",
		}, []string{"verdict"}),
		ErrorCeilingHit: factory.NewCounter(prometheus.CounterOpts{
			Name: "fact_error_ceiling_total",
			Help: "Pipeline runs stopped by too many consecutive errors",
		}),

		// Knowledge metrics
		KnowledgeChunks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fact_knowledge_chunks",
			Help: "Searchable reference chunks",
		}),
		KnowledgeBuilds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fact_knowledge_builds_total",
			Help: "Knowledge cache builds, by result",
		}, []string{"result"}),
		KnowledgeBuildTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fact_knowledge_build_duration_seconds",
			Help:    "Duration of knowledge cache builds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		EmbeddingRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "fact_embedding_requests_total",
			Help: "Embedding requests sent while building the cache",
		}),
		EmbeddedChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "fact_embedded_chunks_total",
			Help: "Reference chunks embedded",
		}),
		KnowledgeSearches: factory.NewCounter(prometheus.CounterOpts{
			Name: "fact_knowledge_searches_total",
			Help: "Similarity searches served",
		}),
		KnowledgeSearchHits: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fact_knowledge_search_hits",
			Help:    "Results returned per search",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fact_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fact_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fact_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Session metrics methods
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

func (m *Metrics) RecordSessionStopped(chunks int) {
	if m == nil {
		return
	}
	m.SessionsStopped.Inc()
	m.ActiveSessions.Dec()
	m.SessionChunks.Observe(float64(chunks))
}

func (m *Metrics) RecordKeepalive() {
	if m == nil {
		return
	}
	m.KeepalivesSent.Inc()
}

func (m *Metrics) RecordClientConnected() {
	if m == nil {
		return
	}
	m.WebsocketClients.Inc()
}

func (m *Metrics) RecordClientDisconnected() {
	if m == nil {
		return
	}
	m.WebsocketClients.Dec()
}

// Pipeline metrics methods
func (m *Metrics) RecordChunk(outcome string) {
	if m == nil {
		return
	}
	m.ChunksProcessed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordStage(stage string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

func (m *Metrics) RecordStageFailure(stage, reason string) {
	if m == nil {
		return
	}
	m.StageFailures.WithLabelValues(stage, reason).Inc()
}

func (m *Metrics) RecordVerdict(verdict string) {
	if m == nil {
		return
	}
	m.Verdicts.WithLabelValues(verdict).Inc()
}

func (m *Metrics) RecordErrorCeiling() {
	if m == nil {
		return
	}
	m.ErrorCeilingHit.Inc()
}

// Knowledge metrics methods
func (m *Metrics) RecordKnowledgeBuild(ok bool, chunks int, durationSeconds float64) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	} else {
		m.KnowledgeChunks.Set(float64(chunks))
	}
	m.KnowledgeBuilds.WithLabelValues(result).Inc()
	m.KnowledgeBuildTime.Observe(durationSeconds)
}

func (m *Metrics) RecordEmbeddingRequest(texts int) {
	if m == nil {
		return
	}
	m.EmbeddingRequests.Inc()
	m.EmbeddedChunks.Add(float64(texts))
}

func (m *Metrics) RecordSearch(hits int) {
	if m == nil {
		return
	}
	m.KnowledgeSearches.Inc()
	m.KnowledgeSearchHits.Observe(float64(hits))
}

// HTTP metrics methods
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
