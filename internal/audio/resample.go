package audio

// Resample converts the buffer from srcRate to dstRate with linear
// interpolation. Equal or non-positive rates return the input as-is.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if len(samples) == 0 || srcRate == dstRate || srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	return lerpStride(samples, float64(srcRate)/float64(dstRate))
}
