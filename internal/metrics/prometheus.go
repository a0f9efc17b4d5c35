package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StoreConnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eval_store_connect_attempts_total",
			Help: "Store connection attempts by outcome",
		},
		[]string{"outcome"},
	)

	EvaluationsSaved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eval_store_saves_total",
			Help: "Evaluation saves by status",
		},
		[]string{"status"},
	)

	SaveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eval_store_save_duration_seconds",
			Help:    "Duration of the save transaction in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	ValidationWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eval_store_validation_warnings_total",
			Help: "Payload fields defaulted during normalization",
		},
		[]string{"field"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eval_store_cache_hits_total",
			Help: "Total stats cache hits",
		},
		[]string{"cache_id"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eval_store_cache_misses_total",
			Help: "Total stats cache misses",
		},
		[]string{"cache_id"},
	)

	EvaluationsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eval_store_evaluations",
			Help: "Evaluation count at the last stats computation",
		},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eval_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"method", "route", "code"},
	)

	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eval_http_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"backend"},
	)

	BackupsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eval_backups_total",
			Help: "Backup archive runs by status",
		},
		[]string{"status"},
	)
)

var registerOnce sync.Once

// Init registers every collector with the default registry. Safe to call
// more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(StoreConnectAttempts)
		prometheus.MustRegister(EvaluationsSaved)
		prometheus.MustRegister(SaveDuration)
		prometheus.MustRegister(ValidationWarnings)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(EvaluationsTotal)
		prometheus.MustRegister(HTTPRequests)
		prometheus.MustRegister(RateLimited)
		prometheus.MustRegister(BackupsCreated)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
