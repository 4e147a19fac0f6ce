// Package engine hosts the pluggable synthesis backends. A backend
// turns one chunk of text into mono float32 samples; everything above
// it (splitting, dispatch, assembly, encoding) is backend-agnostic.
package engine

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/voxalabs/voxa-server/internal/config"
)

// Params are the generation knobs forwarded to the backend on every
// call.
type Params struct {
	Temperature    float64
	Exaggeration   float64
	GuidanceWeight float64
	Seed           int64
}

// DefaultParams maps the configured generation defaults onto Params.
func DefaultParams(cfg config.GenerationConfig) Params {
	return Params{
		Temperature:    cfg.Temperature,
		Exaggeration:   cfg.Exaggeration,
		GuidanceWeight: cfg.GuidanceWeight,
		Seed:           cfg.Seed,
	}
}

// Result is one synthesized chunk of mono audio.
type Result struct {
	Samples    []float32
	SampleRate int
}

// Engine is the contract for producing audio samples from text.
type Engine interface {
	// Load prepares the backend (warmup synthesis for the external
	// modes) and must succeed before Synthesize is called.
	Load(ctx context.Context) error
	Loaded() bool
	Synthesize(ctx context.Context, text, voicePath string, p Params) (Result, error)
	// Stats reports backend call counters for the performance API.
	Stats() map[string]any
}

// New builds the backend selected by engine.mode.
func New(cfg config.Config, log *slog.Logger) (Engine, error) {
	switch cfg.Engine.Mode {
	case "mock":
		return NewMock(cfg.Audio.SampleRate), nil
	case "exec":
		return newExecEngine(cfg, log)
	case "http":
		return newHTTPEngine(cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown engine mode %q", cfg.Engine.Mode)
	}
}

// synthRequest is the wire request shared by the exec and http
// backends.
type synthRequest struct {
	Text           string  `json:"text"`
	VoicePath      string  `json:"voice_path,omitempty"`
	Temperature    float64 `json:"temperature"`
	Exaggeration   float64 `json:"exaggeration"`
	GuidanceWeight float64 `json:"guidance_weight"`
	Seed           int64   `json:"seed,omitempty"`
}

type synthResponse struct {
	SamplesBase64 string `json:"samples_base64"`
	SampleRate    int    `json:"sample_rate"`
	Error         string `json:"error,omitempty"`
}

func newSynthRequest(text, voicePath string, p Params) synthRequest {
	return synthRequest{
		Text:           text,
		VoicePath:      voicePath,
		Temperature:    p.Temperature,
		Exaggeration:   p.Exaggeration,
		GuidanceWeight: p.GuidanceWeight,
		Seed:           p.Seed,
	}
}

func (r synthResponse) result() (Result, error) {
	if r.Error != "" {
		return Result{}, fmt.Errorf("engine: %s", r.Error)
	}
	if r.SampleRate <= 0 {
		return Result{}, fmt.Errorf("engine response has sample rate %d", r.SampleRate)
	}
	samples, err := decodeSamples(r.SamplesBase64)
	if err != nil {
		return Result{}, err
	}
	return Result{Samples: samples, SampleRate: r.SampleRate}, nil
}

// decodeSamples unpacks base64-encoded little-endian float32 audio.
func decodeSamples(encoded string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode engine samples: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("engine sample payload not float32 aligned: %d bytes", len(raw))
	}
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples, nil
}

// callStats tracks per-backend call counters.
type callStats struct {
	mu       sync.Mutex
	calls    int64
	failures int64
	totalMS  float64
}

func (s *callStats) record(d time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err != nil {
		s.failures++
		return
	}
	s.totalMS += float64(d) / float64(time.Millisecond)
}

func (s *callStats) snapshot(mode string, loaded bool) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	avg := 0.0
	if ok := s.calls - s.failures; ok > 0 {
		avg = s.totalMS / float64(ok)
	}
	return map[string]any{
		"mode":           mode,
		"loaded":         loaded,
		"calls":          s.calls,
		"failures":       s.failures,
		"avg_latency_ms": avg,
	}
}
