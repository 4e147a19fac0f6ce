package protocol

import "time"

// SynthesisEvent announces a finished synthesis request on the bus.
type SynthesisEvent struct {
	RequestID  string    `json:"request_id"`
	Voice      string    `json:"voice"`
	Format     string    `json:"format"`
	TextChars  int       `json:"text_chars"`
	Chunks     int       `json:"chunks"`
	DurationMS int       `json:"duration_ms"`
	LatencyMS  float64   `json:"latency_ms"`
	Queued     bool      `json:"queued"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ServerStatus is the periodic liveness beacon for one server process.
type ServerStatus struct {
	Name               string    `json:"name"`
	Version            string    `json:"version"`
	Engine             string    `json:"engine"`
	TotalRequests      int64     `json:"total_requests"`
	AvgLatencyMS       float64   `json:"avg_latency_ms"`
	ConcurrentRequests int       `json:"concurrent_requests"`
	QueueDepth         int       `json:"queue_depth"`
	UptimeSeconds      float64   `json:"uptime_seconds"`
	Timestamp          time.Time `json:"timestamp"`
}

const (
	SubjectRequestCompleted = "request.completed"
	SubjectRequestFailed    = "request.failed"
	SubjectServerStatus     = "server.status"
)

// Subject joins the configured subject prefix with a suffix constant.
func Subject(prefix, suffix string) string {
	if prefix == "" {
		return suffix
	}
	return prefix + "." + suffix
}
