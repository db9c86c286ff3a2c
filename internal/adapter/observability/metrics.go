package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"route", "method"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI requests by provider and operation",
		},
		[]string{"provider", "operation"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "operation"},
	)
	AIRequestErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_request_errors_total",
			Help: "Total number of failed AI requests by provider, operation and class",
		},
		[]string{"provider", "operation", "class"},
	)

	InterviewsStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interviews_started_total",
			Help: "Total number of interviews started",
		},
		[]string{"difficulty"},
	)
	InterviewTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interview_turns_total",
			Help: "Total number of submitted turns by outcome",
		},
		[]string{"outcome"},
	)
	InterviewsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "interviews_completed_total",
			Help: "Total number of interviews completed",
		},
	)
	SessionsDiscardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_discarded_total",
			Help: "Total number of sessions discarded by reason",
		},
		[]string{"reason"},
	)
	FinalScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "interview_final_score",
			Help:    "Distribution of final_score_percentage ([0,100])",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)
	CompletionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interview_completion_events_total",
			Help: "Completion events by sink and result",
		},
		[]string{"sink", "result"},
	)
	ScoreDriftGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "interview_score_drift",
			Help: "Absolute drift of the rolling mean score from its baseline",
		},
		[]string{"metric", "model"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(AIRequestsTotal)
	prometheus.MustRegister(AIRequestDuration)
	prometheus.MustRegister(AIRequestErrorsTotal)
	prometheus.MustRegister(InterviewsStartedTotal)
	prometheus.MustRegister(InterviewTurnsTotal)
	prometheus.MustRegister(InterviewsCompletedTotal)
	prometheus.MustRegister(SessionsDiscardedTotal)
	prometheus.MustRegister(FinalScoreHistogram)
	prometheus.MustRegister(CompletionEventsTotal)
	prometheus.MustRegister(ScoreDriftGauge)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

// ObserveAIRequest records one outbound AI or ML call.
func ObserveAIRequest(provider, operation string, start time.Time) {
	AIRequestsTotal.WithLabelValues(provider, operation).Inc()
	AIRequestDuration.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
}

// FailAIRequest counts a failed outbound call by error class.
func FailAIRequest(provider, operation, class string) {
	AIRequestErrorsTotal.WithLabelValues(provider, operation, class).Inc()
}

func StartInterview(difficulty string) {
	InterviewsStartedTotal.WithLabelValues(difficulty).Inc()
}

func RecordTurn(outcome string) {
	InterviewTurnsTotal.WithLabelValues(outcome).Inc()
}

func DiscardSession(reason string) {
	SessionsDiscardedTotal.WithLabelValues(reason).Inc()
}

// CompleteInterview records a finished interview and its final score.
func CompleteInterview(finalScore float64) {
	InterviewsCompletedTotal.Inc()
	if finalScore >= 0 && finalScore <= 100 {
		FinalScoreHistogram.Observe(finalScore)
	}
}

func RecordCompletionEvent(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	CompletionEventsTotal.WithLabelValues(sink, result).Inc()
}
