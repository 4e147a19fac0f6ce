package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/voxalabs/voxa-server/internal/admission"
	"github.com/voxalabs/voxa-server/internal/audio"
	"github.com/voxalabs/voxa-server/internal/config"
	"github.com/voxalabs/voxa-server/internal/engine"
	"github.com/voxalabs/voxa-server/internal/history"
	"github.com/voxalabs/voxa-server/internal/perf"
	"github.com/voxalabs/voxa-server/internal/synth"
	"github.com/voxalabs/voxa-server/internal/voices"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type apiFixture struct {
	mux   *http.ServeMux
	cfg   config.Config
	ctrl  *admission.Controller
	stats *perf.RollingStats
}

// newAPIFixture wires the full handler stack against a loaded mock
// engine unless the test supplies its own.
func newAPIFixture(t *testing.T, eng engine.Engine, mutate func(*config.Config)) *apiFixture {
	t.Helper()

	cfg := config.Default()
	cfg.Voices.PredefinedDir = filepath.Join(t.TempDir(), "voices")
	cfg.Voices.ReferenceDir = filepath.Join(t.TempDir(), "reference")
	cfg.History.Mode = "ephemeral"
	if mutate != nil {
		mutate(&cfg)
	}

	log := newLogger()
	lib, err := voices.NewLibrary(cfg.Voices, log)
	if err != nil {
		t.Fatalf("new library: %v", err)
	}
	voiceFile := filepath.Join(cfg.Voices.PredefinedDir, cfg.Voices.DefaultVoice)
	if err := os.WriteFile(voiceFile, audio.EncodeWAV(make([]float32, 8000), 8000), 0o644); err != nil {
		t.Fatalf("write voice fixture: %v", err)
	}

	if eng == nil {
		mock := engine.NewMock(24000)
		mock.Delay = 0
		if err := mock.Load(context.Background()); err != nil {
			t.Fatalf("load mock engine: %v", err)
		}
		eng = mock
	}

	stats := perf.NewRollingStats()
	ctrl := admission.New(cfg.Admission, stats, log)
	disp := synth.NewDispatcher(eng, cfg.Dispatcher.Workers, log)
	t.Cleanup(disp.Close)
	mon := perf.NewMonitor(stats, log)
	store, err := history.Open(context.Background(), cfg.History, log)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	enc := audio.NewEncoder(cfg.Audio, log)
	pl := synth.NewPipeline(cfg, lib, ctrl, disp, enc, mon, store, nil, log)

	mux := http.NewServeMux()
	New(cfg, pl, eng, lib, stats, store, log).Register(mux)
	return &apiFixture{mux: mux, cfg: cfg, ctrl: ctrl, stats: stats}
}

func postJSON(t *testing.T, mux *http.ServeMux, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error.Kind
}

func TestTTSStreamsWAV(t *testing.T) {
	fx := newAPIFixture(t, nil, nil)

	rec := postJSON(t, fx.mux, "/tts", map[string]any{"text": "Hello over HTTP."})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("expected audio/wav, got %q", ct)
	}
	cd := rec.Header().Get("Content-Disposition")
	if !strings.HasPrefix(cd, "attachment; filename=tts_output_") || !strings.HasSuffix(cd, ".wav") {
		t.Fatalf("unexpected disposition %q", cd)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("RIFF")) {
		t.Fatalf("expected riff payload")
	}

	snap := fx.stats.Snapshot()
	if snap.TotalRequests != 1 {
		t.Fatalf("expected 1 total request, got %d", snap.TotalRequests)
	}
	if snap.ConcurrentRequests != 0 {
		t.Fatalf("permit not released: %d", snap.ConcurrentRequests)
	}
}

func TestTTSEmptyText(t *testing.T) {
	fx := newAPIFixture(t, nil, nil)

	rec := postJSON(t, fx.mux, "/tts", map[string]any{"text": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if kind := errorKind(t, rec); kind != "invalid_request" {
		t.Fatalf("expected invalid_request, got %q", kind)
	}
}

func TestTTSUnknownFormat(t *testing.T) {
	fx := newAPIFixture(t, nil, nil)

	rec := postJSON(t, fx.mux, "/tts", map[string]any{"text": "hi", "output_format": "flac"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if kind := errorKind(t, rec); kind != "unsupported_format" {
		t.Fatalf("expected unsupported_format, got %q", kind)
	}
}

func TestTTSUnknownVoice(t *testing.T) {
	fx := newAPIFixture(t, nil, nil)

	rec := postJSON(t, fx.mux, "/tts", map[string]any{"text": "hi", "predefined_voice_id": "Nobody"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if kind := errorKind(t, rec); kind != "voice_not_found" {
		t.Fatalf("expected voice_not_found, got %q", kind)
	}
}

func TestTTSCloneMode(t *testing.T) {
	fx := newAPIFixture(t, nil, nil)
	clip := filepath.Join(fx.cfg.Voices.ReferenceDir, "Sam.wav")
	if err := os.WriteFile(clip, audio.EncodeWAV(make([]float32, 4000), 8000), 0o644); err != nil {
		t.Fatalf("write reference clip: %v", err)
	}

	rec := postJSON(t, fx.mux, "/tts", map[string]any{
		"text":                     "clone me",
		"voice_mode":               "clone",
		"reference_audio_filename": "Sam.wav",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = postJSON(t, fx.mux, "/tts", map[string]any{"text": "clone me", "voice_mode": "clone"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without filename, got %d", rec.Code)
	}
}

func TestTTSCloneScopedToReferenceDir(t *testing.T) {
	fx := newAPIFixture(t, nil, nil)

	// The default voice exists on the predefined side only.
	rec := postJSON(t, fx.mux, "/tts", map[string]any{
		"text":                     "hi",
		"voice_mode":               "clone",
		"reference_audio_filename": fx.cfg.Voices.DefaultVoice,
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestTTSInvalidVoiceMode(t *testing.T) {
	fx := newAPIFixture(t, nil, nil)

	rec := postJSON(t, fx.mux, "/tts", map[string]any{"text": "hi", "voice_mode": "robot"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTTSOverloaded(t *testing.T) {
	fx := newAPIFixture(t, nil, func(cfg *config.Config) {
		cfg.Admission.MaxConcurrent = 1
		cfg.Admission.QueueSize = 0
	})

	release, _, err := fx.ctrl.Acquire(context.Background())
	if err != nil {
		t.Fatalf("prefill permit: %v", err)
	}
	defer release()

	rec := postJSON(t, fx.mux, "/tts", map[string]any{"text": "hi"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if kind := errorKind(t, rec); kind != "overloaded" {
		t.Fatalf("expected overloaded, got %q", kind)
	}
}

func TestTTSEngineNotReady(t *testing.T) {
	cold := engine.NewMock(24000)
	cold.Delay = 0
	fx := newAPIFixture(t, cold, nil)

	rec := postJSON(t, fx.mux, "/tts", map[string]any{"text": "hi"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if kind := errorKind(t, rec); kind != "engine_not_ready" {
		t.Fatalf("expected engine_not_ready, got %q", kind)
	}
}

func TestSpeechEndpoint(t *testing.T) {
	fx := newAPIFixture(t, nil, nil)

	rec := postJSON(t, fx.mux, "/v1/audio/speech", map[string]any{
		"model":           "tts-1",
		"input":           "Hi there.",
		"voice":           "Olivia",
		"response_format": "pcm",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/pcm" {
		t.Fatalf("expected audio/pcm, got %q", ct)
	}
	if n := rec.Body.Len(); n == 0 || n%2 != 0 {
		t.Fatalf("expected even-length pcm payload, got %d bytes", n)
	}
}

func TestSpeechUnknownVoice(t *testing.T) {
	fx := newAPIFixture(t, nil, nil)

	rec := postJSON(t, fx.mux, "/v1/audio/speech", map[string]any{"input": "hi", "voice": "Ghost"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSpeechRejectsBadSpeed(t *testing.T) {
	fx := newAPIFixture(t, nil, nil)

	rec := postJSON(t, fx.mux, "/v1/audio/speech", map[string]any{"input": "hi", "speed": -1})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
