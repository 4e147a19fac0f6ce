// Package audio turns ordered synthesis output into encoded byte
// streams: index-order assembly, optional post-processing, and lazy
// encoding into the supported container formats.
package audio

import (
	"errors"
	"fmt"
)

// Format names a supported output container.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatPCM  Format = "pcm"
	FormatOpus Format = "opus"
	FormatMP3  Format = "mp3"
)

var (
	// ErrEmptyInput is returned when assembly receives zero segments.
	ErrEmptyInput = errors.New("no audio segments to assemble")
	// ErrUnsupportedFormat is returned for unknown output formats and
	// for compressed formats with no transcoder configured.
	ErrUnsupportedFormat = errors.New("unsupported output format")
	// ErrOutputTooSmall flags encoded output below the plausibility
	// threshold, the usual sign of silent or garbage synthesis.
	ErrOutputTooSmall = errors.New("encoded output below minimum size")
)

// ParseFormat validates a requested format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatWAV, FormatPCM, FormatOpus, FormatMP3:
		return Format(s), nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrUnsupportedFormat)
	}
}

// MediaType returns the Content-Type value for the format.
func (f Format) MediaType() string {
	return "audio/" + string(f)
}

// ConcatError reports structurally unusable segments, carrying every
// segment's length for diagnostics.
type ConcatError struct {
	Lengths []int
}

func (e *ConcatError) Error() string {
	return fmt.Sprintf("cannot concatenate audio segments, lengths %v", e.Lengths)
}

// Assembled is the single post-processed buffer handed to the encoder.
type Assembled struct {
	Samples    []float32
	SampleRate int
}

// DurationMS reports the buffer length in milliseconds.
func (a Assembled) DurationMS() int {
	if a.SampleRate <= 0 {
		return 0
	}
	return len(a.Samples) * 1000 / a.SampleRate
}
