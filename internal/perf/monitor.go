package perf

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// RollingStats holds process-wide request aggregates. One instance is
// created at startup and shared by reference with the admission
// controller and the monitor; every mutation happens under the mutex.
type RollingStats struct {
	mu         sync.Mutex
	startedAt  time.Time
	total      int64
	samples    int64
	avgMS      float64
	concurrent int
	queueDepth int
}

// Snapshot is the read-only view served by the stats endpoint.
type Snapshot struct {
	TotalRequests      int64   `json:"total_requests"`
	AvgLatencyMS       float64 `json:"avg_latency_ms"`
	ConcurrentRequests int     `json:"concurrent_requests"`
	QueueDepth         int     `json:"queue_depth"`
	UptimeSeconds      float64 `json:"uptime_seconds"`
}

func NewRollingStats() *RollingStats {
	return &RollingStats{startedAt: time.Now()}
}

// Admitted records one admitted request entering the pipeline.
func (s *RollingStats) Admitted() {
	s.mu.Lock()
	s.total++
	s.concurrent++
	s.mu.Unlock()
}

// Released records a request leaving the pipeline, on any path.
func (s *RollingStats) Released() {
	s.mu.Lock()
	s.concurrent--
	s.mu.Unlock()
}

// SetQueueDepth publishes the current admission queue length.
func (s *RollingStats) SetQueueDepth(depth int) {
	s.mu.Lock()
	s.queueDepth = depth
	s.mu.Unlock()
}

// foldLatency applies the incremental mean update for one finished request.
func (s *RollingStats) foldLatency(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	s.mu.Lock()
	s.samples++
	n := float64(s.samples)
	s.avgMS = (s.avgMS*(n-1) + ms) / n
	s.mu.Unlock()
}

func (s *RollingStats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		TotalRequests:      s.total,
		AvgLatencyMS:       s.avgMS,
		ConcurrentRequests: s.concurrent,
		QueueDepth:         s.queueDepth,
		UptimeSeconds:      time.Since(s.startedAt).Seconds(),
	}
}

// Checkpoint is one labeled timestamp inside a request's lifetime.
type Checkpoint struct {
	Label string
	At    time.Time
}

type sample struct {
	start       time.Time
	checkpoints []Checkpoint
}

// Monitor records per-request checkpoints and folds finished requests
// into the shared RollingStats. Callers never block on it: missing ids
// are ignored and all methods return immediately.
type Monitor struct {
	stats *RollingStats
	log   *slog.Logger

	mu     sync.Mutex
	active map[string]*sample

	latencyHist metric.Float64Histogram
}

func NewMonitor(stats *RollingStats, log *slog.Logger) *Monitor {
	m := &Monitor{
		stats:  stats,
		log:    log.With(slog.String("component", "perf-monitor")),
		active: make(map[string]*sample),
	}
	if err := m.initMetrics(); err != nil {
		m.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return m
}

func (m *Monitor) initMetrics() error {
	meter := otel.Meter("github.com/voxalabs/voxa-server/internal/perf")
	concurrentGauge, err := meter.Int64ObservableGauge("voxa.requests.concurrent", metric.WithDescription("Requests currently holding a permit"))
	if err != nil {
		return err
	}
	queueGauge, err := meter.Int64ObservableGauge("voxa.admission.queue_depth", metric.WithDescription("Requests waiting for a permit"))
	if err != nil {
		return err
	}
	totalCounter, err := meter.Int64ObservableCounter("voxa.requests.total", metric.WithDescription("Admitted requests since start"))
	if err != nil {
		return err
	}
	hist, err := meter.Float64Histogram("voxa.request.latency_ms", metric.WithDescription("End-to-end request latency"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}
	m.latencyHist = hist
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		snap := m.stats.Snapshot()
		obs.ObserveInt64(concurrentGauge, int64(snap.ConcurrentRequests))
		obs.ObserveInt64(queueGauge, int64(snap.QueueDepth))
		obs.ObserveInt64(totalCounter, snap.TotalRequests)
		return nil
	}, concurrentGauge, queueGauge, totalCounter)
	return err
}

// Begin opens a sample for the request id. The start timestamp anchors
// the latency measurement, so callers invoke it before admission.
func (m *Monitor) Begin(id string) {
	now := time.Now()
	m.mu.Lock()
	m.active[id] = &sample{start: now}
	m.mu.Unlock()
}

// Record appends a labeled checkpoint to the request's sample.
func (m *Monitor) Record(id, label string) {
	now := time.Now()
	m.mu.Lock()
	if s, ok := m.active[id]; ok {
		s.checkpoints = append(s.checkpoints, Checkpoint{Label: label, At: now})
	}
	m.mu.Unlock()
}

// Checkpoints returns a copy of the sample's checkpoints, for diagnostics.
func (m *Monitor) Checkpoints(id string) []Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.active[id]
	if !ok {
		return nil
	}
	out := make([]Checkpoint, len(s.checkpoints))
	copy(out, s.checkpoints)
	return out
}

// Abort discards the sample without folding it into the rolling
// average. Used for requests rejected before synthesis started.
func (m *Monitor) Abort(id string) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

// Finalize closes the sample, folds its latency into RollingStats and
// returns the measured duration. Unknown ids return zero. Finalizing
// the same id twice folds only once.
func (m *Monitor) Finalize(id string) time.Duration {
	m.mu.Lock()
	s, ok := m.active[id]
	if ok {
		delete(m.active, id)
	}
	m.mu.Unlock()
	if !ok {
		return 0
	}
	latency := time.Since(s.start)
	m.stats.foldLatency(latency)
	if m.latencyHist != nil {
		m.latencyHist.Record(context.Background(), float64(latency)/float64(time.Millisecond))
	}
	if m.log.Enabled(context.Background(), slog.LevelDebug) {
		prev := s.start
		for _, cp := range s.checkpoints {
			m.log.Debug("checkpoint",
				slog.String("request_id", id),
				slog.String("label", cp.Label),
				slog.Duration("since_prev", cp.At.Sub(prev)))
			prev = cp.At
		}
	}
	return latency
}
