package engine

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voxalabs/voxa-server/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func encodeSamples(t *testing.T, samples []float32) string {
	t.Helper()
	raw := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(s))
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestMockDeterministic(t *testing.T) {
	m := NewMock(24000)
	m.Delay = 0
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !m.Loaded() {
		t.Fatalf("mock did not report loaded")
	}

	p := Params{Seed: 42}
	a, err := m.Synthesize(context.Background(), "hello there", "", p)
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	b, err := m.Synthesize(context.Background(), "hello there", "", p)
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	if len(a.Samples) != len(b.Samples) {
		t.Fatalf("length not deterministic: %d != %d", len(a.Samples), len(b.Samples))
	}
	for i := range a.Samples {
		if a.Samples[i] != b.Samples[i] {
			t.Fatalf("sample %d not deterministic", i)
		}
	}
	if a.SampleRate != 24000 {
		t.Fatalf("expected sample rate 24000, got %d", a.SampleRate)
	}

	longer, err := m.Synthesize(context.Background(), "one two three four five six", "", p)
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	if len(longer.Samples) <= len(a.Samples) {
		t.Fatalf("longer text did not produce longer audio")
	}
}

func TestMockSeedShiftsPhase(t *testing.T) {
	m := NewMock(24000)
	m.Delay = 0
	zero, err := m.Synthesize(context.Background(), "hi", "", Params{Seed: 0})
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	ninety, err := m.Synthesize(context.Background(), "hi", "", Params{Seed: 90})
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	if zero.Samples[0] == ninety.Samples[0] {
		t.Fatalf("seed did not change the waveform")
	}
}

func TestDecodeSamplesRoundTrip(t *testing.T) {
	want := []float32{0, 0.25, -0.25, 1}
	got, err := decodeSamples(encodeSamples(t, want))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: expected %f, got %f", i, want[i], got[i])
		}
	}

	if _, err := decodeSamples("AAA="); err == nil {
		t.Fatalf("expected alignment error")
	}
	if _, err := decodeSamples("not base64!!"); err == nil {
		t.Fatalf("expected base64 error")
	}
}

func TestExecEngineSynthesize(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Mode = "exec"
	cfg.Engine.Command = `printf '{"samples_base64":"AAAAAA==","sample_rate":24000}'`

	eng, err := New(cfg, newLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !eng.Loaded() {
		t.Fatalf("engine did not report loaded")
	}

	res, err := eng.Synthesize(context.Background(), "hello", "", Params{})
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	if len(res.Samples) != 1 || res.Samples[0] != 0 {
		t.Fatalf("unexpected samples %v", res.Samples)
	}
	if res.SampleRate != 24000 {
		t.Fatalf("expected sample rate 24000, got %d", res.SampleRate)
	}

	stats := eng.Stats()
	if stats["mode"] != "exec" {
		t.Fatalf("wrong mode in stats: %v", stats["mode"])
	}
	if stats["calls"].(int64) != 2 {
		t.Fatalf("expected 2 calls counted, got %v", stats["calls"])
	}
}

func TestExecEngineReportsBackendError(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Mode = "exec"
	cfg.Engine.Command = `printf '{"error":"synthesis exploded"}'`

	eng, err := New(cfg, newLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	_, err = eng.Synthesize(context.Background(), "hello", "", Params{})
	if err == nil || !strings.Contains(err.Error(), "synthesis exploded") {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestExecEngineCommandFailure(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Mode = "exec"
	cfg.Engine.Command = "false"

	eng, err := New(cfg, newLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := eng.Synthesize(context.Background(), "hello", "", Params{}); err == nil {
		t.Fatalf("expected command failure")
	}
}

func TestHTTPEngineSynthesize(t *testing.T) {
	want := []float32{0.1, -0.1, 0.2}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req synthRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Text == "" {
			t.Errorf("request text missing")
		}
		if req.GuidanceWeight != 0.7 {
			t.Errorf("guidance weight not forwarded: %f", req.GuidanceWeight)
		}
		json.NewEncoder(w).Encode(synthResponse{
			SamplesBase64: encodeSamples(t, want),
			SampleRate:    44100,
		})
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Engine.Mode = "http"
	cfg.Engine.Endpoint = srv.URL

	eng, err := New(cfg, newLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	res, err := eng.Synthesize(context.Background(), "hello", "", Params{GuidanceWeight: 0.7})
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	if res.SampleRate != 44100 {
		t.Fatalf("expected sample rate 44100, got %d", res.SampleRate)
	}
	if len(res.Samples) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(res.Samples))
	}
}

func TestHTTPEngineStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Engine.Mode = "http"
	cfg.Engine.Endpoint = srv.URL

	eng, err := New(cfg, newLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := eng.Synthesize(context.Background(), "hello", "", Params{}); err == nil {
		t.Fatalf("expected status error")
	}
}

func TestNewRejectsUnknownMode(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Mode = "quantum"
	if _, err := New(cfg, newLogger()); err == nil {
		t.Fatalf("expected unknown mode error")
	}
}
