package engine

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync/atomic"
	"time"
)

// Mock produces deterministic pseudo-audio without loading a model:
// a sine tone whose pitch follows the text and whose phase follows the
// seed, long enough to exercise chunked encoding.
type Mock struct {
	SampleRate int
	Delay      time.Duration
	loaded     atomic.Bool
	stats      callStats
}

func NewMock(sampleRate int) *Mock {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &Mock{SampleRate: sampleRate, Delay: 10 * time.Millisecond}
}

func (m *Mock) Load(ctx context.Context) error {
	m.loaded.Store(true)
	return nil
}

func (m *Mock) Loaded() bool { return m.loaded.Load() }

func (m *Mock) Synthesize(ctx context.Context, text, voicePath string, p Params) (Result, error) {
	start := time.Now()
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			m.stats.record(0, ctx.Err())
			return Result{}, ctx.Err()
		case <-time.After(m.Delay):
		}
	}

	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	frames := m.SampleRate * (120 + 60*words) / 1000

	h := fnv.New32a()
	h.Write([]byte(text))
	h.Write([]byte(voicePath))
	freq := 110 + float64(h.Sum32()%220)
	phase := float64(p.Seed%360) * math.Pi / 180

	samples := make([]float32, frames)
	step := 2 * math.Pi * freq / float64(m.SampleRate)
	for i := range samples {
		samples[i] = 0.3 * float32(math.Sin(phase+step*float64(i)))
	}

	m.stats.record(time.Since(start), nil)
	return Result{Samples: samples, SampleRate: m.SampleRate}, nil
}

func (m *Mock) Stats() map[string]any {
	return m.stats.snapshot("mock", m.Loaded())
}
