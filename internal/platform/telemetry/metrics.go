package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// durationBuckets are request duration boundaries in seconds.
var durationBuckets = []float64{
	0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0,
}

// histogram keeps non-cumulative bucket counts; exposition accumulates them.
type histogram struct {
	boundaries   []float64
	mu           sync.Mutex
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{boundaries: boundaries, bucketCounts: make([]int64, len(boundaries))}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	for {
		old := atomic.LoadUint64(&h.sum)
		if atomic.CompareAndSwapUint64(&h.sum, old, math.Float64bits(math.Float64frombits(old)+v)) {
			break
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulative() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int64, len(h.bucketCounts))
	var running int64
	for i, c := range h.bucketCounts {
		running += c
		out[i] = running
	}
	return out
}

// Metrics holds the process-local counters exposed at /metrics.
type Metrics struct {
	mu        sync.RWMutex
	durations map[string]*histogram // method|route|status
	counters  map[string]*int64     // name|label
	active    int64
	gauges    map[string]*int64
}

func NewMetrics() *Metrics {
	return &Metrics{
		durations: make(map[string]*histogram),
		counters:  make(map[string]*int64),
		gauges:    make(map[string]*int64),
	}
}

func labelsKey(parts ...string) string { return strings.Join(parts, "|") }

func (m *Metrics) duration(key string) *histogram {
	m.mu.RLock()
	h, ok := m.durations[key]
	m.mu.RUnlock()
	if ok {
		return h
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok = m.durations[key]; !ok {
		h = newHistogram(durationBuckets)
		m.durations[key] = h
	}
	return h
}

func slot(mu *sync.RWMutex, items map[string]*int64, key string) *int64 {
	mu.RLock()
	p, ok := items[key]
	mu.RUnlock()
	if ok {
		return p
	}
	mu.Lock()
	defer mu.Unlock()
	if p, ok = items[key]; !ok {
		p = new(int64)
		items[key] = p
	}
	return p
}

// AppointmentEvent counts committed appointment lifecycle events by type.
func (m *Metrics) AppointmentEvent(eventType string) {
	atomic.AddInt64(slot(&m.mu, m.counters, labelsKey("appointment_events_total", eventType)), 1)
}

// SchedulingRejection counts requests refused with a domain error,
// e.g. reason "conflict" or "authorization".
func (m *Metrics) SchedulingRejection(reason string) {
	atomic.AddInt64(slot(&m.mu, m.counters, labelsKey("scheduling_rejections_total", reason)), 1)
}

func (m *Metrics) Counter(name, label string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.counters[labelsKey(name, label)]; ok {
		return atomic.LoadInt64(p)
	}
	return 0
}

// SetGauge records a point-in-time value such as pool sizes.
func (m *Metrics) SetGauge(name string, v int64) {
	atomic.StoreInt64(slot(&m.mu, m.gauges, name), v)
}

func (m *Metrics) Gauge(name string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.gauges[name]; ok {
		return atomic.LoadInt64(p)
	}
	return 0
}

func (m *Metrics) ActiveRequests() int64 { return atomic.LoadInt64(&m.active) }

// RequestDuration returns the histogram for one route and status, or nil.
func (m *Metrics) RequestDuration(method, route string, status int) *histogram {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.durations[labelsKey(method, route, strconv.Itoa(status))]
}

// Middleware records request durations labelled by route pattern.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&m.active, 1)
			start := time.Now()
			err := next(c)
			atomic.AddInt64(&m.active, -1)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil {
				status = http.StatusInternalServerError
			}
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			m.duration(labelsKey(c.Request().Method, route, strconv.Itoa(status))).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the metrics in Prometheus text exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		m.mu.RLock()
		durations := make(map[string]*histogram, len(m.durations))
		for k, v := range m.durations {
			durations[k] = v
		}
		counters := make(map[string]int64, len(m.counters))
		for k, p := range m.counters {
			counters[k] = atomic.LoadInt64(p)
		}
		gauges := make(map[string]int64, len(m.gauges))
		for k, p := range m.gauges {
			gauges[k] = atomic.LoadInt64(p)
		}
		m.mu.RUnlock()

		b.WriteString("# HELP http_server_request_duration_seconds Duration of HTTP requests in seconds.\n")
		b.WriteString("# TYPE http_server_request_duration_seconds histogram\n")
		for _, key := range sortedKeys(durations) {
			parts := strings.SplitN(key, "|", 3)
			labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
			writeHistogram(&b, "http_server_request_duration_seconds", labels, durations[key])
		}
		b.WriteByte('\n')

		b.WriteString("# HELP http_server_active_requests Number of in-flight HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", m.ActiveRequests())

		counterLabels := map[string]string{
			"appointment_events_total":    "type",
			"scheduling_rejections_total": "reason",
		}
		for _, name := range []string{"appointment_events_total", "scheduling_rejections_total"} {
			fmt.Fprintf(&b, "# TYPE %s counter\n", name)
			for _, key := range sortedKeys(counters) {
				parts := strings.SplitN(key, "|", 2)
				if parts[0] == name {
					fmt.Fprintf(&b, "%s{%s=%q} %d\n", name, counterLabels[name], parts[1], counters[key])
				}
			}
			b.WriteByte('\n')
		}

		for _, name := range sortedKeys(gauges) {
			fmt.Fprintf(&b, "# TYPE %s gauge\n%s %d\n\n", name, name, gauges[name])
		}
		return c.String(http.StatusOK, b.String())
	}
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulative()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	total := h.Count()
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
