package app

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/INLOpen/nexuschat/core"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexuschat_operations_total",
		Help: "Number of application operations by outcome",
	}, []string{"op", "result"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nexuschat_operation_duration_seconds",
		Help:    "Latency of application operations",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"op"})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nexuschat_kv_cache_hits_total",
		Help: "Number of key/value reads served from the cache",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nexuschat_kv_cache_misses_total",
		Help: "Number of key/value reads that went to the backend",
	})
)

// resultLabel classifies err for the operations counter.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, core.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, core.ErrNoSuchEntity):
		return "no_such_entity"
	case errors.Is(err, core.ErrUserNotAuthorized):
		return "not_authorized"
	case errors.Is(err, core.ErrNameFormat):
		return "name_format"
	case errors.Is(err, core.ErrUserAlreadyLoggedIn):
		return "already_logged_in"
	case core.IsProtocolViolation(err):
		return "protocol_violation"
	default:
		return "error"
	}
}
