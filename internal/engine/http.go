package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/voxalabs/voxa-server/internal/config"
)

// httpEngine forwards synthesis calls to a model server speaking the
// same JSON bodies as the exec protocol.
type httpEngine struct {
	endpoint string
	warmup   string
	defaults Params
	timeout  time.Duration
	log      *slog.Logger
	loaded   atomic.Bool
	stats    callStats
}

func newHTTPEngine(cfg config.Config, log *slog.Logger) *httpEngine {
	return &httpEngine{
		endpoint: cfg.Engine.Endpoint,
		warmup:   cfg.Engine.WarmupText,
		defaults: DefaultParams(cfg.Generation),
		timeout:  time.Duration(cfg.Engine.LoadTimeout) * time.Millisecond,
		log:      log.With(slog.String("component", "engine"), slog.String("mode", "http")),
	}
}

func (e *httpEngine) Load(ctx context.Context) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	start := time.Now()
	res, err := e.Synthesize(ctx, e.warmup, "", e.defaults)
	if err != nil {
		return fmt.Errorf("engine warmup: %w", err)
	}
	e.loaded.Store(true)
	e.log.Info("engine warmed up",
		slog.Int("samples", len(res.Samples)),
		slog.Int("sample_rate", res.SampleRate),
		slog.Duration("took", time.Since(start)))
	return nil
}

func (e *httpEngine) Loaded() bool { return e.loaded.Load() }

func (e *httpEngine) Synthesize(ctx context.Context, text, voicePath string, p Params) (Result, error) {
	start := time.Now()
	res, err := e.synthesize(ctx, text, voicePath, p)
	e.stats.record(time.Since(start), err)
	return res, err
}

func (e *httpEngine) synthesize(ctx context.Context, text, voicePath string, p Params) (Result, error) {
	body, err := json.Marshal(newSynthRequest(text, voicePath, p))
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("engine returned status %s", resp.Status)
	}

	var decoded synthResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("decode engine response: %w", err)
	}
	return decoded.result()
}

func (e *httpEngine) Stats() map[string]any {
	return e.stats.snapshot("http", e.Loaded())
}
