package synth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxalabs/voxa-server/internal/engine"
)

// ChunkError reports the lowest-indexed chunk whose synthesis failed.
type ChunkError struct {
	Index int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("synthesize chunk %d: %v", e.Index, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

type chunkResult struct {
	index int
	res   engine.Result
	err   error
}

type synthJob struct {
	ctx       context.Context
	text      string
	voicePath string
	params    engine.Params
	index     int
	results   chan<- chunkResult
}

// Dispatcher fans chunk synthesis across a fixed worker pool shared by
// every request, so total backend concurrency stays bounded no matter
// how requests split.
type Dispatcher struct {
	eng  engine.Engine
	log  *slog.Logger
	jobs chan synthJob
	wg   sync.WaitGroup
}

func NewDispatcher(eng engine.Engine, workers int, log *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	d := &Dispatcher{
		eng:  eng,
		log:  log.With(slog.String("component", "dispatcher")),
		jobs: make(chan synthJob),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.jobs {
		if err := job.ctx.Err(); err != nil {
			job.results <- chunkResult{index: job.index, err: err}
			continue
		}
		res, err := d.eng.Synthesize(job.ctx, job.text, job.voicePath, job.params)
		job.results <- chunkResult{index: job.index, res: res, err: err}
	}
}

// Close stops the worker pool after in-flight jobs finish.
func (d *Dispatcher) Close() {
	close(d.jobs)
	d.wg.Wait()
}

// Synthesize runs every chunk through the pool and joins the results
// in index order. All chunks run to completion before any failure is
// reported; when several fail, the error names the lowest index. The
// sample rate of the lowest-indexed chunk wins, with a warning when
// later chunks disagree.
func (d *Dispatcher) Synthesize(ctx context.Context, chunks []string, voicePath string, p engine.Params) ([][]float32, int, error) {
	if len(chunks) == 0 {
		return nil, 0, fmt.Errorf("no text chunks to synthesize")
	}

	results := make(chan chunkResult, len(chunks))
	var failed []chunkResult
	submitted := 0
	for i, text := range chunks {
		job := synthJob{ctx: ctx, text: text, voicePath: voicePath, params: p, index: i, results: results}
		select {
		case d.jobs <- job:
			submitted++
		case <-ctx.Done():
			failed = append(failed, chunkResult{index: i, err: ctx.Err()})
		}
	}

	segments := make([][]float32, len(chunks))
	rates := make([]int, len(chunks))
	for i := 0; i < submitted; i++ {
		r := <-results
		if r.err != nil {
			failed = append(failed, r)
			continue
		}
		segments[r.index] = r.res.Samples
		rates[r.index] = r.res.SampleRate
	}

	if len(failed) > 0 {
		lowest := failed[0]
		for _, f := range failed[1:] {
			if f.index < lowest.index {
				lowest = f
			}
		}
		return nil, 0, &ChunkError{Index: lowest.index, Err: lowest.err}
	}

	sampleRate := rates[0]
	for i, r := range rates[1:] {
		if r != sampleRate {
			d.log.Warn("inconsistent engine sample rate",
				slog.Int("chunk", i+1),
				slog.Int("rate", r),
				slog.Int("using", sampleRate))
		}
	}

	return segments, sampleRate, nil
}
