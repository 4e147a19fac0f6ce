package synth

import (
	"bytes"
	"context"
	"errors"
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
	"github.com/voxalabs/voxa-server/internal/voices"
)

type pipelineFixture struct {
	pipeline *Pipeline
	stats    *perf.RollingStats
	ctrl     *admission.Controller
	store    *history.Store
}

func newPipelineFixture(t *testing.T, eng engine.Engine, mutate func(*config.Config)) *pipelineFixture {
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
		eng = mock
	}

	stats := perf.NewRollingStats()
	ctrl := admission.New(cfg.Admission, stats, log)
	disp := NewDispatcher(eng, cfg.Dispatcher.Workers, log)
	t.Cleanup(disp.Close)
	mon := perf.NewMonitor(stats, log)
	store, err := history.Open(context.Background(), cfg.History, log)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	enc := audio.NewEncoder(cfg.Audio, log)
	p := NewPipeline(cfg, lib, ctrl, disp, enc, mon, store, nil, log)
	return &pipelineFixture{pipeline: p, stats: stats, ctrl: ctrl, store: store}
}

func drainResponse(t *testing.T, resp *Response) []byte {
	t.Helper()
	var buf bytes.Buffer
	for chunk := range resp.Stream.Chunks() {
		buf.Write(chunk)
	}
	return buf.Bytes()
}

func TestSubmitWAVEndToEnd(t *testing.T) {
	fx := newPipelineFixture(t, nil, nil)

	resp, err := fx.pipeline.Submit(context.Background(), Request{
		Text:   "Hello from the pipeline.",
		Format: audio.FormatWAV,
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if resp.Chunks != 1 {
		t.Fatalf("expected a single chunk, got %d", resp.Chunks)
	}
	if resp.SampleRate != 24000 {
		t.Fatalf("expected sample rate 24000, got %d", resp.SampleRate)
	}
	if resp.DurationMS <= 0 {
		t.Fatalf("expected positive duration, got %d", resp.DurationMS)
	}
	if resp.Voice != "Olivia" {
		t.Fatalf("expected default voice, got %q", resp.Voice)
	}

	payload := drainResponse(t, resp)
	if resp.Stream.Err() != nil {
		t.Fatalf("stream error: %v", resp.Stream.Err())
	}
	if !bytes.HasPrefix(payload, []byte("RIFF")) {
		t.Fatalf("expected riff payload")
	}

	resp.Close()
	resp.Close()

	snap := fx.stats.Snapshot()
	if snap.TotalRequests != 1 {
		t.Fatalf("expected 1 total request, got %d", snap.TotalRequests)
	}
	if snap.ConcurrentRequests != 0 {
		t.Fatalf("permit not released: %d", snap.ConcurrentRequests)
	}
	if snap.AvgLatencyMS <= 0 {
		t.Fatalf("latency not folded: %f", snap.AvgLatencyMS)
	}
}

func TestSubmitEmptyText(t *testing.T) {
	fx := newPipelineFixture(t, nil, nil)
	if _, err := fx.pipeline.Submit(context.Background(), Request{Text: "   ", Format: audio.FormatWAV}); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

func TestSubmitUnknownVoiceLeavesNoTrace(t *testing.T) {
	fx := newPipelineFixture(t, nil, nil)

	_, err := fx.pipeline.Submit(context.Background(), Request{
		Text:    "hello",
		VoiceID: "Nobody.wav",
		Format:  audio.FormatWAV,
	})
	if !errors.Is(err, voices.ErrVoiceNotFound) {
		t.Fatalf("expected ErrVoiceNotFound, got %v", err)
	}
	if snap := fx.stats.Snapshot(); snap.TotalRequests != 0 {
		t.Fatalf("rejected request counted: %d", snap.TotalRequests)
	}
}

func TestSubmitOverloaded(t *testing.T) {
	fx := newPipelineFixture(t, nil, func(cfg *config.Config) {
		cfg.Admission.MaxConcurrent = 1
		cfg.Admission.QueueSize = 0
	})

	release, _, err := fx.ctrl.Acquire(context.Background())
	if err != nil {
		t.Fatalf("saturate: %v", err)
	}
	defer release()

	_, err = fx.pipeline.Submit(context.Background(), Request{Text: "hello", Format: audio.FormatWAV})
	if !errors.Is(err, admission.ErrOverloaded) {
		t.Fatalf("expected ErrOverloaded, got %v", err)
	}
	// only the saturating acquire is counted
	if snap := fx.stats.Snapshot(); snap.TotalRequests != 1 {
		t.Fatalf("rejected request counted: %d", snap.TotalRequests)
	}
}

func TestSubmitSplitText(t *testing.T) {
	fx := newPipelineFixture(t, nil, nil)

	text := strings.TrimSpace(strings.Repeat("This sentence pads the request with words. ", 5))
	resp, err := fx.pipeline.Submit(context.Background(), Request{
		Text:      text,
		Format:    audio.FormatWAV,
		Split:     true,
		ChunkSize: 60,
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if resp.Chunks < 2 {
		t.Fatalf("expected split into multiple chunks, got %d", resp.Chunks)
	}
	payload := drainResponse(t, resp)
	resp.Close()
	if len(payload) < 44 {
		t.Fatalf("payload too small: %d bytes", len(payload))
	}
}

func TestSubmitChunkFailure(t *testing.T) {
	boom := errors.New("engine exploded")
	eng := &fakeEngine{fail: map[string]error{"hello": boom}}
	fx := newPipelineFixture(t, eng, func(cfg *config.Config) {
		cfg.History.Mode = "persistent"
		cfg.History.Path = filepath.Join(t.TempDir(), "history.db")
	})

	_, err := fx.pipeline.Submit(context.Background(), Request{Text: "hello", Format: audio.FormatWAV})
	var chunkErr *ChunkError
	if !errors.As(err, &chunkErr) {
		t.Fatalf("expected ChunkError, got %v", err)
	}

	snap := fx.stats.Snapshot()
	if snap.TotalRequests != 1 {
		t.Fatalf("admitted request not counted: %d", snap.TotalRequests)
	}
	if snap.ConcurrentRequests != 0 {
		t.Fatalf("permit not released after failure: %d", snap.ConcurrentRequests)
	}

	entries, err := fx.store.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(entries))
	}
	if entries[0].Status != history.StatusFailed {
		t.Fatalf("expected failed status, got %s", entries[0].Status)
	}
	if !strings.Contains(entries[0].Error, "engine exploded") {
		t.Fatalf("error text lost: %q", entries[0].Error)
	}
}

func TestSubmitRecordsHistoryOnClose(t *testing.T) {
	fx := newPipelineFixture(t, nil, func(cfg *config.Config) {
		cfg.History.Mode = "persistent"
		cfg.History.Path = filepath.Join(t.TempDir(), "history.db")
	})

	resp, err := fx.pipeline.Submit(context.Background(), Request{Text: "record me", Format: audio.FormatWAV})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	drainResponse(t, resp)

	if entries, _ := fx.store.Recent(context.Background(), 5); len(entries) != 0 {
		t.Fatalf("history written before close")
	}

	resp.Close()

	entries, err := fx.store.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Status != history.StatusCompleted {
		t.Fatalf("expected completed, got %s", e.Status)
	}
	if e.RequestID != resp.RequestID {
		t.Fatalf("request id mismatch: %s != %s", e.RequestID, resp.RequestID)
	}
	if e.TextChars != len("record me") {
		t.Fatalf("text chars mismatch: %d", e.TextChars)
	}
	if e.Format != "wav" || e.Chunks != 1 {
		t.Fatalf("metadata lost: %+v", e)
	}
}
