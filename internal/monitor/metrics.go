package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"dashboard-core/pkg/db"
)

// SystemMetrics tracks request and query performance.
type SystemMetrics struct {
	// Latency histograms
	APILatency   *LatencyHistogram
	QueryLatency *LatencyHistogram

	// Counters
	requestsServed uint64
	requestErrors  uint64
	queriesRun     uint64
	queryErrors    uint64
	queryRetries   uint64
	poolResets     uint64

	mu          sync.RWMutex
	lastQueryOp string
	lastError   string
	lastErrorAt time.Time

	startedAt time.Time
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily and cached until the next sample.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool         // Whether samples have changed since last Stats()
	cachedStats LatencyStats // Cached computed stats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		APILatency:   NewLatencyHistogram(1000),
		QueryLatency: NewLatencyHistogram(1000),
		startedAt:    time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		// Shift window: remove oldest
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// ObserveRequest records one served HTTP request.
func (m *SystemMetrics) ObserveRequest(elapsed time.Duration, status int) {
	atomic.AddUint64(&m.requestsServed, 1)
	if status >= 500 {
		atomic.AddUint64(&m.requestErrors, 1)
	}
	m.APILatency.RecordDuration(elapsed)
}

// ObserveQuery records one facade call.
func (m *SystemMetrics) ObserveQuery(op string, elapsed time.Duration, err error) {
	atomic.AddUint64(&m.queriesRun, 1)
	m.QueryLatency.RecordDuration(elapsed)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastQueryOp = op
	if err != nil {
		atomic.AddUint64(&m.queryErrors, 1)
		m.lastError = err.Error()
		m.lastErrorAt = time.Now()
	}
}

// IncrementRetries counts one retry of a networked call.
func (m *SystemMetrics) IncrementRetries() {
	atomic.AddUint64(&m.queryRetries, 1)
}

// IncrementPoolResets counts one discarded connection pool.
func (m *SystemMetrics) IncrementPoolResets() {
	atomic.AddUint64(&m.poolResets, 1)
}

// DBHooks wires the query facade into these metrics.
func (m *SystemMetrics) DBHooks() db.Hooks {
	return db.Hooks{
		OnQuery:     m.ObserveQuery,
		OnRetry:     func(int, error) { m.IncrementRetries() },
		OnPoolReset: m.IncrementPoolResets,
	}
}

// MetricsSnapshot is a point-in-time view of SystemMetrics.
type MetricsSnapshot struct {
	APILatency     LatencyStats `json:"api_latency"`
	QueryLatency   LatencyStats `json:"query_latency"`
	RequestsServed uint64       `json:"requests_served"`
	RequestErrors  uint64       `json:"request_errors"`
	QueriesRun     uint64       `json:"queries_run"`
	QueryErrors    uint64       `json:"query_errors"`
	QueryRetries   uint64       `json:"query_retries"`
	PoolResets     uint64       `json:"pool_resets"`
	LastQueryOp    string       `json:"last_query_op,omitempty"`
	LastError      string       `json:"last_error,omitempty"`
	LastErrorAt    *time.Time   `json:"last_error_at,omitempty"`
	GoroutineCount int          `json:"goroutine_count"`
	HeapAlloc      uint64       `json:"heap_alloc_bytes"`
	HeapSys        uint64       `json:"heap_sys_bytes"`
	Uptime         string       `json:"uptime"`
	Timestamp      time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	lastOp, lastErr, lastErrAt := m.lastQueryOp, m.lastError, m.lastErrorAt
	m.mu.RUnlock()

	snap := MetricsSnapshot{
		APILatency:     m.APILatency.Stats(),
		QueryLatency:   m.QueryLatency.Stats(),
		RequestsServed: atomic.LoadUint64(&m.requestsServed),
		RequestErrors:  atomic.LoadUint64(&m.requestErrors),
		QueriesRun:     atomic.LoadUint64(&m.queriesRun),
		QueryErrors:    atomic.LoadUint64(&m.queryErrors),
		QueryRetries:   atomic.LoadUint64(&m.queryRetries),
		PoolResets:     atomic.LoadUint64(&m.poolResets),
		LastQueryOp:    lastOp,
		LastError:      lastErr,
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      memStats.HeapAlloc,
		HeapSys:        memStats.HeapSys,
		Uptime:         time.Since(m.startedAt).Truncate(time.Second).String(),
		Timestamp:      time.Now(),
	}
	if !lastErrAt.IsZero() {
		snap.LastErrorAt = &lastErrAt
	}
	return snap
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
