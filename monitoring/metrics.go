package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"carprice/predict"
)

// HistoryCounter reports how many predictions the history store holds.
type HistoryCounter interface {
	Count(ctx context.Context) (int, error)
}

// MetricsOption 指标收集器选项
type MetricsOption func(*Metrics)

// WithHub adds the live feed counters to snapshots.
func WithHub(h *Hub) MetricsOption {
	return func(m *Metrics) { m.hub = h }
}

// WithHistory adds the stored row count to snapshots.
func WithHistory(c HistoryCounter) MetricsOption {
	return func(m *Metrics) { m.history = c }
}

// WithLogger sets the logger used when a snapshot source fails.
func WithLogger(l *zap.Logger) MetricsOption {
	return func(m *Metrics) { m.logger = l }
}

// Metrics 预测服务指标. It is a predict.Recorder for successful predictions;
// failures are counted through ObserveError.
type Metrics struct {
	mu sync.RWMutex

	predictions int64
	cached      int64
	errors      map[predict.Kind]int64

	latencyCount int64
	latencySum   time.Duration
	latencyMin   time.Duration
	latencyMax   time.Duration
	lastPrice    float64
	lastAt       time.Time

	startTime time.Time

	hub     *Hub
	history HistoryCounter
	logger  *zap.Logger
}

// MetricsSnapshot 指标快照
type MetricsSnapshot struct {
	Predictions   int64                  `json:"predictions"`
	Cached        int64                  `json:"cached"`
	Errors        map[predict.Kind]int64 `json:"errors"`
	LatencyMinUS  int64                  `json:"latency_min_us"`
	LatencyMaxUS  int64                  `json:"latency_max_us"`
	LatencyMeanUS int64                  `json:"latency_mean_us"`
	LastPrice     float64                `json:"last_price"`
	LastAt        time.Time              `json:"last_at,omitempty"`
	Uptime        string                 `json:"uptime"`
	Goroutines    int                    `json:"goroutines"`
	HeapAlloc     uint64                 `json:"heap_alloc"`
	GCCount       uint32                 `json:"gc_count"`

	Stream            *Stats `json:"stream,omitempty"`
	StoredPredictions *int   `json:"stored_predictions,omitempty"`
}

// NewMetrics 创建指标收集器
func NewMetrics(opts ...MetricsOption) *Metrics {
	m := &Metrics{
		errors:    make(map[predict.Kind]int64),
		startTime: time.Now(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record implements predict.Recorder.
func (m *Metrics) Record(_ context.Context, ev predict.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.predictions++
	if ev.Cached {
		m.cached++
	}
	if m.latencyCount == 0 || ev.Duration < m.latencyMin {
		m.latencyMin = ev.Duration
	}
	if ev.Duration > m.latencyMax {
		m.latencyMax = ev.Duration
	}
	m.latencyCount++
	m.latencySum += ev.Duration
	m.lastPrice = float64(ev.Prediction)
	m.lastAt = ev.At
	return nil
}

// ObserveError 记录失败请求
func (m *Metrics) ObserveError(kind predict.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
}

// Snapshot 获取指标快照
func (m *Metrics) Snapshot(ctx context.Context) MetricsSnapshot {
	s := m.counters()
	if m.hub != nil {
		stats := m.hub.Stats()
		s.Stream = &stats
	}
	if m.history != nil {
		n, err := m.history.Count(ctx)
		if err != nil {
			m.logger.Warn("count stored predictions", zap.Error(err))
		} else {
			s.StoredPredictions = &n
		}
	}
	return s
}

func (m *Metrics) counters() MetricsSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m.mu.RLock()
	defer m.mu.RUnlock()

	s := MetricsSnapshot{
		Predictions:  m.predictions,
		Cached:       m.cached,
		Errors:       make(map[predict.Kind]int64, len(m.errors)),
		LatencyMinUS: m.latencyMin.Microseconds(),
		LatencyMaxUS: m.latencyMax.Microseconds(),
		LastPrice:    m.lastPrice,
		LastAt:       m.lastAt,
		Uptime:       time.Since(m.startTime).Round(time.Second).String(),
		Goroutines:   runtime.NumGoroutine(),
		HeapAlloc:    mem.HeapAlloc,
		GCCount:      mem.NumGC,
	}
	for k, v := range m.errors {
		s.Errors[k] = v
	}
	if m.latencyCount > 0 {
		s.LatencyMeanUS = (m.latencySum / time.Duration(m.latencyCount)).Microseconds()
	}
	return s
}

// ExportPrometheus 导出Prometheus文本格式
func (m *Metrics) ExportPrometheus(ctx context.Context) string {
	s := m.Snapshot(ctx)
	var b strings.Builder

	write := func(name, typ, help string, value float64) {
		fmt.Fprintf(&b, "# HELP %s %s\n", name, help)
		fmt.Fprintf(&b, "# TYPE %s %s\n", name, typ)
		fmt.Fprintf(&b, "%s %g\n", name, value)
	}

	write("carprice_predictions_total", "counter", "Successful predictions", float64(s.Predictions))
	write("carprice_predictions_cached_total", "counter", "Predictions served from the cache", float64(s.Cached))

	kinds := make([]string, 0, len(s.Errors))
	for k := range s.Errors {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	b.WriteString("# HELP carprice_prediction_errors_total Failed prediction requests by kind\n")
	b.WriteString("# TYPE carprice_prediction_errors_total counter\n")
	for _, k := range kinds {
		fmt.Fprintf(&b, "carprice_prediction_errors_total{kind=%q} %d\n", k, s.Errors[predict.Kind(k)])
	}

	write("carprice_prediction_latency_mean_seconds", "gauge", "Mean prediction latency", float64(s.LatencyMeanUS)/1e6)
	write("carprice_prediction_latency_max_seconds", "gauge", "Max prediction latency", float64(s.LatencyMaxUS)/1e6)
	write("carprice_goroutines", "gauge", "Number of goroutines", float64(s.Goroutines))
	write("carprice_heap_alloc_bytes", "gauge", "Heap bytes allocated", float64(s.HeapAlloc))
	if s.Stream != nil {
		write("carprice_ws_clients", "gauge", "Connected live feed clients", float64(s.Stream.ConnectedClients))
		write("carprice_ws_messages_sent_total", "counter", "Live feed messages delivered", float64(s.Stream.MessagesSent))
		write("carprice_ws_messages_dropped_total", "counter", "Live feed messages dropped", float64(s.Stream.MessagesDropped))
	}
	if s.StoredPredictions != nil {
		write("carprice_history_rows", "gauge", "Predictions in the history store", float64(*s.StoredPredictions))
	}
	return b.String()
}
