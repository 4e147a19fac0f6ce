package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/voxalabs/voxa-server/internal/config"
)

// execEngine spawns one subprocess per synthesis call. Concurrency is
// bounded upstream by the dispatcher pool, so calls need no mutex.
type execEngine struct {
	cmd      []string
	warmup   string
	defaults Params
	timeout  time.Duration
	log      *slog.Logger
	loaded   atomic.Bool
	stats    callStats
}

func newExecEngine(cfg config.Config, log *slog.Logger) (*execEngine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Engine.Command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command empty")
	}
	return &execEngine{
		cmd:      args,
		warmup:   cfg.Engine.WarmupText,
		defaults: DefaultParams(cfg.Generation),
		timeout:  time.Duration(cfg.Engine.LoadTimeout) * time.Millisecond,
		log:      log.With(slog.String("component", "engine"), slog.String("mode", "exec")),
	}, nil
}

func (e *execEngine) Load(ctx context.Context) error {
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

func (e *execEngine) Loaded() bool { return e.loaded.Load() }

func (e *execEngine) Synthesize(ctx context.Context, text, voicePath string, p Params) (Result, error) {
	start := time.Now()
	res, err := e.synthesize(ctx, text, voicePath, p)
	e.stats.record(time.Since(start), err)
	return res, err
}

func (e *execEngine) synthesize(ctx context.Context, text, voicePath string, p Params) (Result, error) {
	payload, err := json.Marshal(newSynthRequest(text, voicePath, p))
	if err != nil {
		return Result{}, err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("engine command failed: %w: %s", err, stderr.String())
	}

	var resp synthResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("decode engine response: %w", err)
	}
	return resp.result()
}

func (e *execEngine) Stats() map[string]any {
	return e.stats.snapshot("exec", e.Loaded())
}
