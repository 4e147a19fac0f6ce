package audio

// ProcessOptions controls the optional post-processing stages applied
// after concatenation. Zero values skip every stage.
type ProcessOptions struct {
	SpeedFactor          float64
	TrimSilence          bool
	FixInternalSilence   bool
	MaxInternalSilenceMS int
	SilenceThreshold     float64
}

// Assemble concatenates per-chunk sample buffers in ascending index
// order (the order of the segments slice) and applies the enabled
// post-processing stages in a fixed order: speed scaling, edge silence
// trim, internal silence normalization. Segments must all be non-empty;
// a nil or empty segment fails the whole assembly with a ConcatError
// listing every segment length.
func Assemble(segments [][]float32, sampleRate int, opts ProcessOptions) (Assembled, error) {
	if len(segments) == 0 {
		return Assembled{}, ErrEmptyInput
	}

	total := 0
	for _, seg := range segments {
		if len(seg) == 0 {
			lengths := make([]int, len(segments))
			for i, s := range segments {
				lengths[i] = len(s)
			}
			return Assembled{}, &ConcatError{Lengths: lengths}
		}
		total += len(seg)
	}

	buf := make([]float32, 0, total)
	for _, seg := range segments {
		buf = append(buf, seg...)
	}

	if opts.SpeedFactor != 0 && opts.SpeedFactor != 1.0 {
		buf = SpeedScale(buf, opts.SpeedFactor)
	}
	if opts.TrimSilence {
		buf = TrimSilence(buf, opts.SilenceThreshold)
	}
	if opts.FixInternalSilence {
		buf = FixInternalSilence(buf, sampleRate, opts.MaxInternalSilenceMS, opts.SilenceThreshold)
	}

	return Assembled{Samples: buf, SampleRate: sampleRate}, nil
}
