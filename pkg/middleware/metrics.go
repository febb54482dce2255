package middleware

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// MetricsCollector collects HTTP request metrics.
type MetricsCollector struct {
	mu        sync.RWMutex
	namespace string
	subsystem string

	requests map[requestKey]*requestStats

	activeRequests int64
}

type requestKey struct {
	method string
	route  string
	status int
}

type requestStats struct {
	mu    sync.Mutex
	count uint64
	sum   float64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector(namespace, subsystem string) *MetricsCollector {
	return &MetricsCollector{
		namespace: namespace,
		subsystem: subsystem,
		requests:  make(map[requestKey]*requestStats),
	}
}

// RecordRequest records one finished request.
func (m *MetricsCollector) RecordRequest(method, route string, status int, d time.Duration) {
	key := requestKey{method: method, route: route, status: status}

	m.mu.RLock()
	stats, ok := m.requests[key]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if stats, ok = m.requests[key]; !ok {
			stats = &requestStats{}
			m.requests[key] = stats
		}
		m.mu.Unlock()
	}

	stats.mu.Lock()
	stats.count++
	stats.sum += d.Seconds()
	stats.mu.Unlock()
}

// RequestCount returns the number of requests recorded for method, route
// and status.
func (m *MetricsCollector) RequestCount(method, route string, status int) uint64 {
	m.mu.RLock()
	stats, ok := m.requests[requestKey{method: method, route: route, status: status}]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	stats.mu.Lock()
	defer stats.mu.Unlock()
	return stats.count
}

// ActiveRequests returns the number of requests currently in flight.
func (m *MetricsCollector) ActiveRequests() int64 {
	return atomic.LoadInt64(&m.activeRequests)
}

// Export exports metrics in Prometheus text format.
func (m *MetricsCollector) Export() string {
	prefix := m.namespace
	if m.subsystem != "" {
		prefix += "_" + m.subsystem
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# HELP %s_requests_active Current number of active requests.\n", prefix)
	fmt.Fprintf(&sb, "# TYPE %s_requests_active gauge\n", prefix)
	fmt.Fprintf(&sb, "%s_requests_active %d\n", prefix, m.ActiveRequests())

	type row struct {
		labels string
		count  uint64
		sum    float64
	}

	m.mu.RLock()
	rows := make([]row, 0, len(m.requests))
	for k, s := range m.requests {
		s.mu.Lock()
		rows = append(rows, row{
			labels: fmt.Sprintf("method=%q,path=%q,status=%q", k.method, k.route, strconv.Itoa(k.status)),
			count:  s.count,
			sum:    s.sum,
		})
		s.mu.Unlock()
	}
	m.mu.RUnlock()
	if len(rows) == 0 {
		return sb.String()
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].labels < rows[j].labels })

	fmt.Fprintf(&sb, "\n# HELP %s_requests_total Total number of HTTP requests.\n", prefix)
	fmt.Fprintf(&sb, "# TYPE %s_requests_total counter\n", prefix)
	for _, r := range rows {
		fmt.Fprintf(&sb, "%s_requests_total{%s} %d\n", prefix, r.labels, r.count)
	}

	fmt.Fprintf(&sb, "\n# HELP %s_request_duration_seconds HTTP request duration in seconds.\n", prefix)
	fmt.Fprintf(&sb, "# TYPE %s_request_duration_seconds summary\n", prefix)
	for _, r := range rows {
		fmt.Fprintf(&sb, "%s_request_duration_seconds_count{%s} %d\n", prefix, r.labels, r.count)
		fmt.Fprintf(&sb, "%s_request_duration_seconds_sum{%s} %.6f\n", prefix, r.labels, r.sum)
	}
	return sb.String()
}

// Metrics returns a middleware that records every request except those to
// skipPath. Requests are keyed by route template so path parameters do not
// create new series.
func Metrics(collector *MetricsCollector, skipPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == skipPath {
			c.Next()
			return
		}

		atomic.AddInt64(&collector.activeRequests, 1)
		start := time.Now()
		c.Next()
		atomic.AddInt64(&collector.activeRequests, -1)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		collector.RecordRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
