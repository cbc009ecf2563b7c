package cache

import (
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewLRUCache(t *testing.T) {
	cache := NewLRUCache[[]byte](10, nil, nil, nil)
	if cache == nil {
		t.Fatal("NewLRUCache returned nil")
	}
	if cache.capacity != 10 {
		t.Errorf("Expected capacity 10, got %d", cache.capacity)
	}
	if cache.Len() != 0 {
		t.Errorf("Expected empty cache, got length %d", cache.Len())
	}

	// Test with invalid capacity (<= 0)
	cacheInvalid := NewLRUCache[[]byte](-3, nil, nil, nil)
	if cacheInvalid == nil {
		t.Fatal("NewLRUCache returned nil for invalid capacity")
	}
	if cacheInvalid.capacity != 0 { // Should be 0 for disabled cache
		t.Errorf("Expected capacity 0 for invalid input (disabled cache), got %d", cacheInvalid.capacity)
	}
}

func TestLRUCache_PutAndGet(t *testing.T) {
	cache := NewLRUCache[[]byte](3, nil, nil, nil)

	key1, val1 := "key1", []byte("value1")
	key2, val2 := "key2", []byte("value2")
	key3, val3 := "key3", []byte("value3")
	key4, val4 := "key4", []byte("value4") // For eviction

	cache.Put(key1, val1)
	cache.Put(key2, val2)
	cache.Put(key3, val3)

	if cache.Len() != 3 {
		t.Errorf("Expected cache size 3 after 3 puts, got %d", cache.Len())
	}

	v, found := cache.Get(key3)
	if !found || !reflect.DeepEqual(v, val3) {
		t.Errorf("Get(%s) failed. Found: %v, Value: %s", key3, found, string(v))
	}
	v, found = cache.Get(key1)
	if !found || !reflect.DeepEqual(v, val1) {
		t.Errorf("Get(%s) failed. Found: %v, Value: %s", key1, found, string(v))
	}

	if _, found = cache.Get("nonexistent"); found {
		t.Error("Get(nonexistent) unexpectedly found item")
	}

	// key2 is the least recently used entry now.
	cache.Put(key4, val4)
	if cache.Len() != 3 {
		t.Errorf("Expected cache size 3 after put exceeding capacity, got %d", cache.Len())
	}
	if _, found = cache.Get(key2); found {
		t.Errorf("Get(%s) unexpectedly found item after eviction", key2)
	}
	v, found = cache.Get(key4)
	if !found || !reflect.DeepEqual(v, val4) {
		t.Errorf("Get(%s) failed after put exceeding capacity. Found: %v, Value: %s", key4, found, string(v))
	}
}

func TestLRUCache_OnEvicted(t *testing.T) {
	var evicted []string
	cache := NewLRUCache[int](2, func(key string, value int) {
		evicted = append(evicted, key)
	}, nil, nil)

	cache.Put("a", 1)
	cache.Put("b", 2)
	cache.Put("c", 3)
	if !reflect.DeepEqual(evicted, []string{"a"}) {
		t.Errorf("Expected [a] evicted, got %v", evicted)
	}
}

func TestLRUCache_PutIfAbsent(t *testing.T) {
	cache := NewLRUCache[string](4, nil, nil, nil)
	if !cache.PutIfAbsent("k", "first") {
		t.Error("PutIfAbsent on an empty cache should add")
	}
	if cache.PutIfAbsent("k", "second") {
		t.Error("PutIfAbsent should not replace an existing value")
	}
	if v, _ := cache.Get("k"); v != "first" {
		t.Errorf("Expected first, got %s", v)
	}
}

func TestLRUCache_RemoveAndClear(t *testing.T) {
	cache := NewLRUCache[[]byte](5, nil, nil, nil)
	cache.Put("k1", []byte("v1"))
	cache.Put("k2", []byte("v2"))
	cache.Remove("k1")
	if _, found := cache.Get("k1"); found {
		t.Error("Get(k1) unexpectedly found item after Remove")
	}

	cache.Clear()
	if cache.Len() != 0 {
		t.Errorf("Expected size 0 after clear, got %d", cache.Len())
	}
	if rate := cache.GetHitRate(); rate != 0 {
		t.Errorf("Expected hit rate reset by Clear, got %f", rate)
	}
}

func TestLRUCache_GetHitRate(t *testing.T) {
	hits := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_hits"})
	misses := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_misses"})
	cache := NewLRUCache[[]byte](2, nil, nil, nil)
	cache.SetMetrics(hits, misses)

	if rate := cache.GetHitRate(); rate != 0.0 {
		t.Errorf("Expected initial hit rate 0.0, got %f", rate)
	}

	cache.Get("k1") // Miss (0h, 1m)
	cache.Put("k1", []byte("v1"))
	cache.Get("k1") // Hit  (1h, 1m)
	cache.Put("k2", []byte("v2"))
	cache.Get("k2")               // Hit  (2h, 1m)
	cache.Put("k3", []byte("v3")) // Evicts k1
	cache.Get("k1")               // Miss (2h, 2m)
	cache.Get("k3")               // Hit  (3h, 2m)

	if testutil.ToFloat64(hits) != 3 || testutil.ToFloat64(misses) != 2 {
		t.Errorf("Final hits/misses mismatch: got hits=%v, misses=%v; want hits=3, misses=2",
			testutil.ToFloat64(hits), testutil.ToFloat64(misses))
	}
	if rate := cache.GetHitRate(); rate != 0.6 {
		t.Errorf("Expected hit rate 0.6, got %f", rate)
	}
}

func TestLRUCache_Disabled(t *testing.T) {
	hits := prometheus.NewCounter(prometheus.CounterOpts{Name: "disabled_hits"})
	misses := prometheus.NewCounter(prometheus.CounterOpts{Name: "disabled_misses"})
	cache := NewLRUCache[[]byte](0, nil, nil, nil)
	cache.SetMetrics(hits, misses)

	cache.Put("k1", []byte("v1"))
	if cache.Len() != 0 {
		t.Errorf("Expected cache size 0 for disabled cache, got %d", cache.Len())
	}
	if _, found := cache.Get("k1"); found {
		t.Error("Get unexpectedly found item in disabled cache")
	}
	if testutil.ToFloat64(hits) != 0 || testutil.ToFloat64(misses) != 0 {
		t.Error("Metrics unexpectedly updated for disabled cache")
	}
}
