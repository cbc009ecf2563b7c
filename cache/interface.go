package cache

import "github.com/prometheus/client_golang/prometheus"

// Interface defines the public API for a generic cache.
type Interface[V any] interface {
	Put(key string, value V)
	PutIfAbsent(key string, value V) bool
	Get(key string) (value V, ok bool)
	Remove(key string)
	Clear()
	GetHitRate() float64
	SetMetrics(hits, misses prometheus.Counter)
	Len() int
}
