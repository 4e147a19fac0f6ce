package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/voxalabs/voxa-server/internal/config"
)

// Stream is a lazy, finite, single-consumption sequence of encoded
// byte chunks. Err is settled once Chunks closes; a stream that fails
// before the plausibility threshold closes with zero chunks emitted so
// callers never see a truncated prefix.
type Stream struct {
	ch  chan []byte
	mu  sync.Mutex
	err error
}

// Chunks returns the ordered chunk sequence. It is consumed exactly
// once and is not restartable.
func (s *Stream) Chunks() <-chan []byte { return s.ch }

// Err reports the terminal error, if any. Callers that abandon the
// stream early may observe nil even when the producer later fails.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func newReadyStream(payload []byte) *Stream {
	ch := make(chan []byte, 1)
	ch <- payload
	close(ch)
	return &Stream{ch: ch}
}

// Encoder turns assembled audio into encoded output streams.
type Encoder struct {
	cfg config.AudioConfig
	log *slog.Logger
}

func NewEncoder(cfg config.AudioConfig, log *slog.Logger) *Encoder {
	return &Encoder{
		cfg: cfg,
		log: log.With(slog.String("component", "encoder")),
	}
}

// Encode produces the byte-chunk stream for the assembled buffer.
//
// wav frames the whole payload eagerly (one pre-framed chunk, no
// resample when rates already match). pcm and the compressed formats
// emit lazily in chunk_frames-sized pieces; compressed output is piped
// through the configured transcoder process. targetRate 0 keeps the
// source rate.
func (e *Encoder) Encode(ctx context.Context, a Assembled, format Format, targetRate int) (*Stream, error) {
	samples, rate := a.Samples, a.SampleRate
	if targetRate > 0 && targetRate != rate {
		samples = Resample(samples, rate, targetRate)
		rate = targetRate
	}

	switch format {
	case FormatWAV:
		payload := EncodeWAV(samples, rate)
		if len(payload) < e.cfg.MinOutputBytes {
			return nil, fmt.Errorf("wav output is %d bytes, need %d: %w", len(payload), e.cfg.MinOutputBytes, ErrOutputTooSmall)
		}
		return newReadyStream(payload), nil
	case FormatPCM:
		if len(samples)*2 < e.cfg.MinOutputBytes {
			return nil, fmt.Errorf("pcm output is %d bytes, need %d: %w", len(samples)*2, e.cfg.MinOutputBytes, ErrOutputTooSmall)
		}
		s := &Stream{ch: make(chan []byte)}
		go e.producePCM(ctx, s, samples)
		return s, nil
	case FormatOpus, FormatMP3:
		if strings.TrimSpace(e.cfg.TranscodeCommand) == "" {
			return nil, fmt.Errorf("no transcoder configured for %s: %w", format, ErrUnsupportedFormat)
		}
		args, err := buildTranscodeArgs(e.cfg.TranscodeCommand, rate, format)
		if err != nil {
			return nil, err
		}
		s := &Stream{ch: make(chan []byte)}
		go e.produceTranscoded(ctx, s, samples, args)
		return s, nil
	default:
		return nil, fmt.Errorf("%q: %w", format, ErrUnsupportedFormat)
	}
}

func (e *Encoder) producePCM(ctx context.Context, s *Stream, samples []float32) {
	defer close(s.ch)
	step := e.cfg.ChunkFrames
	for off := 0; off < len(samples); off += step {
		end := off + step
		if end > len(samples) {
			end = len(samples)
		}
		select {
		case s.ch <- PCM16Bytes(samples[off:end]):
		case <-ctx.Done():
			s.setErr(ctx.Err())
			return
		}
	}
}

func (e *Encoder) produceTranscoded(ctx context.Context, s *Stream, samples []float32, args []string) {
	defer close(s.ch)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.setErr(fmt.Errorf("transcoder stdin: %w", err))
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.setErr(fmt.Errorf("transcoder stdout: %w", err))
		return
	}
	if err := cmd.Start(); err != nil {
		s.setErr(fmt.Errorf("start transcoder: %w", err))
		return
	}

	go func() {
		// Short-reading transcoders close their end early; the stream
		// outcome is judged by stdout and the exit status instead.
		if _, err := stdin.Write(PCM16Bytes(samples)); err != nil {
			e.log.Debug("transcoder stdin write ended early", slog.String("error", err.Error()))
		}
		stdin.Close()
	}()

	chunkBytes := e.cfg.ChunkFrames * 2
	var pending [][]byte
	pendingBytes := 0
	flushed := false
	total := 0

	emit := func(chunk []byte) bool {
		select {
		case s.ch <- chunk:
			return true
		case <-ctx.Done():
			s.setErr(ctx.Err())
			return false
		}
	}

	buf := make([]byte, chunkBytes)
	for {
		n, readErr := io.ReadFull(stdout, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			total += n
			if flushed {
				if !emit(chunk) {
					cmd.Wait()
					return
				}
			} else {
				pending = append(pending, chunk)
				pendingBytes += n
				if pendingBytes >= e.cfg.MinOutputBytes {
					for _, p := range pending {
						if !emit(p) {
							cmd.Wait()
							return
						}
					}
					pending = nil
					flushed = true
				}
			}
		}
		if readErr != nil {
			break
		}
	}

	waitErr := cmd.Wait()
	if waitErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			s.setErr(fmt.Errorf("transcoder failed: %w: %s", waitErr, msg))
		} else {
			s.setErr(fmt.Errorf("transcoder failed: %w", waitErr))
		}
		return
	}
	if !flushed {
		s.setErr(fmt.Errorf("transcoded output is %d bytes, need %d: %w", total, e.cfg.MinOutputBytes, ErrOutputTooSmall))
	}
}

func buildTranscodeArgs(template string, rate int, format Format) ([]string, error) {
	cmdStr := strings.ReplaceAll(template, "{rate}", strconv.Itoa(rate))
	cmdStr = strings.ReplaceAll(cmdStr, "{format}", string(format))
	parser := shellwords.NewParser()
	args, err := parser.Parse(cmdStr)
	if err != nil {
		return nil, fmt.Errorf("parse transcode command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcode command empty")
	}
	return args, nil
}
