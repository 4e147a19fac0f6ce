// Package synth runs the synthesis pipeline: admission, text
// splitting, worker-pool dispatch, assembly and encoding, with
// per-request performance samples and optional history and bus
// publication.
package synth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxalabs/voxa-server/internal/admission"
	"github.com/voxalabs/voxa-server/internal/audio"
	"github.com/voxalabs/voxa-server/internal/bus"
	"github.com/voxalabs/voxa-server/internal/config"
	"github.com/voxalabs/voxa-server/internal/engine"
	"github.com/voxalabs/voxa-server/internal/history"
	"github.com/voxalabs/voxa-server/internal/perf"
	"github.com/voxalabs/voxa-server/internal/protocol"
	"github.com/voxalabs/voxa-server/internal/voices"
)

// ErrEmptyText rejects requests with no synthesizable text.
var ErrEmptyText = errors.New("text must not be empty")

// Request is one fully resolved synthesis request. Generation values
// are already merged with the configured defaults by the caller.
type Request struct {
	ID          string
	Text        string
	VoiceID     string
	VoiceKind   string // restrict resolution to one library side, empty for both
	Format      audio.Format
	Params      engine.Params
	SpeedFactor float64
	Split       bool
	ChunkSize   int
	TargetRate  int
}

// Response carries the encoded stream plus request metadata. Close
// releases the admission permit, finalizes the performance sample and
// records the outcome; it must be called exactly once when streaming
// ends, and further calls are no-ops.
type Response struct {
	RequestID  string
	Voice      string
	Format     audio.Format
	SampleRate int
	Chunks     int
	DurationMS int
	Queued     bool
	Stream     *audio.Stream

	once   sync.Once
	finish func()
}

func (r *Response) Close() {
	if r.finish == nil {
		return
	}
	r.once.Do(r.finish)
}

// Pipeline owns the full synthesis flow for every endpoint.
type Pipeline struct {
	cfg        config.Config
	log        *slog.Logger
	voices     *voices.Library
	admission  *admission.Controller
	dispatcher *Dispatcher
	encoder    *audio.Encoder
	monitor    *perf.Monitor
	history    *history.Store
	bus        *bus.Client
}

func NewPipeline(
	cfg config.Config,
	lib *voices.Library,
	ctrl *admission.Controller,
	disp *Dispatcher,
	enc *audio.Encoder,
	mon *perf.Monitor,
	hist *history.Store,
	busClient *bus.Client,
	log *slog.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		log:        log.With(slog.String("component", "pipeline")),
		voices:     lib,
		admission:  ctrl,
		dispatcher: disp,
		encoder:    enc,
		monitor:    mon,
		history:    hist,
		bus:        busClient,
	}
}

// Submit runs a request through the pipeline and returns the response
// stream. Requests rejected before synthesis (empty text, unknown
// voice, full admission queue) leave no trace in the rolling stats.
func (p *Pipeline) Submit(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	log := p.log.With(slog.String("request_id", req.ID))

	p.monitor.Begin(req.ID)
	p.monitor.Record(req.ID, "request received")

	voice, err := p.voices.ResolveKind(req.VoiceID, req.VoiceKind)
	if err != nil {
		p.monitor.Abort(req.ID)
		return nil, err
	}
	p.monitor.Record(req.ID, "voice resolved")

	release, waited, err := p.admission.Acquire(ctx)
	if err != nil {
		p.monitor.Abort(req.ID)
		return nil, err
	}
	p.monitor.Record(req.ID, "admission granted")

	fail := func(failure error) error {
		release()
		latency := p.monitor.Finalize(req.ID)
		p.recordOutcome(ctx, req, voice.Name, 0, 0, waited, latency, failure)
		log.Error("synthesis failed",
			slog.String("voice", voice.Name),
			slog.String("error", failure.Error()))
		return failure
	}

	chunks := p.policyFor(req).Split(req.Text)
	p.monitor.Record(req.ID, "synthesis dispatched")

	segments, rate, err := p.dispatcher.Synthesize(ctx, chunks, voice.Path, req.Params)
	if err != nil {
		return nil, fail(err)
	}
	p.monitor.Record(req.ID, "chunks joined")

	assembled, err := audio.Assemble(segments, rate, p.processOptions(req))
	if err != nil {
		return nil, fail(err)
	}
	p.monitor.Record(req.ID, "audio assembled")

	stream, err := p.encoder.Encode(ctx, assembled, req.Format, req.TargetRate)
	if err != nil {
		return nil, fail(err)
	}
	p.monitor.Record(req.ID, "encode started")

	outRate := assembled.SampleRate
	if req.TargetRate > 0 {
		outRate = req.TargetRate
	}

	resp := &Response{
		RequestID:  req.ID,
		Voice:      voice.Name,
		Format:     req.Format,
		SampleRate: outRate,
		Chunks:     len(chunks),
		DurationMS: assembled.DurationMS(),
		Queued:     waited,
		Stream:     stream,
	}
	resp.finish = func() {
		release()
		latency := p.monitor.Finalize(req.ID)
		// The request context is usually gone by now; history and bus
		// still need to see the outcome.
		p.recordOutcome(context.Background(), req, voice.Name, resp.Chunks, resp.DurationMS, waited, latency, stream.Err())
	}

	log.Info("synthesis ready",
		slog.String("voice", voice.Name),
		slog.String("format", string(req.Format)),
		slog.Int("chunks", len(chunks)),
		slog.Int("duration_ms", resp.DurationMS),
		slog.Bool("queued", waited))
	return resp, nil
}

func (p *Pipeline) policyFor(req Request) SplitPolicy {
	if req.Split {
		return SentenceSplit(req.ChunkSize)
	}
	return NoSplit()
}

func (p *Pipeline) processOptions(req Request) audio.ProcessOptions {
	return audio.ProcessOptions{
		SpeedFactor:          req.SpeedFactor,
		TrimSilence:          p.cfg.Audio.TrimSilence,
		FixInternalSilence:   p.cfg.Audio.FixInternalSilence,
		MaxInternalSilenceMS: p.cfg.Audio.MaxInternalSilenceMS,
		SilenceThreshold:     p.cfg.Audio.SilenceThreshold,
	}
}

func (p *Pipeline) recordOutcome(ctx context.Context, req Request, voice string, chunks, durationMS int, queued bool, latency time.Duration, failure error) {
	errText := ""
	status := history.StatusCompleted
	if failure != nil {
		errText = failure.Error()
		status = history.StatusFailed
	}

	if p.history != nil {
		entry := history.Entry{
			RequestID:  req.ID,
			Voice:      voice,
			Format:     string(req.Format),
			TextChars:  len(req.Text),
			Chunks:     chunks,
			DurationMS: durationMS,
			LatencyMS:  latency.Milliseconds(),
			Status:     status,
			Error:      errText,
		}
		if err := p.history.Record(ctx, entry); err != nil {
			p.log.Warn("record history",
				slog.String("request_id", req.ID),
				slog.String("error", err.Error()))
		}
	}

	p.bus.PublishSynthesis(protocol.SynthesisEvent{
		RequestID:  req.ID,
		Voice:      voice,
		Format:     string(req.Format),
		TextChars:  len(req.Text),
		Chunks:     chunks,
		DurationMS: durationMS,
		LatencyMS:  float64(latency) / float64(time.Millisecond),
		Queued:     queued,
		Error:      errText,
		Timestamp:  time.Now().UTC(),
	})
}
