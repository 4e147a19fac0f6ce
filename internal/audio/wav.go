package audio

import (
	"encoding/binary"
	"math"
)

const wavHeaderSize = 44

// EncodeWAV frames mono float32 samples as a complete 16-bit PCM
// RIFF/WAVE payload in a single allocation.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	dataLen := len(samples) * 2
	out := make([]byte, wavHeaderSize+dataLen)
	writeWAVHeader(out, dataLen, sampleRate, 1, 16)
	pcm16LE(samples, out[wavHeaderSize:])
	return out
}

func writeWAVHeader(dst []byte, dataLen, sampleRate, channels, bitsPerSample int) {
	copy(dst[0:4], "RIFF")
	binary.LittleEndian.PutUint32(dst[4:8], uint32(36+dataLen))
	copy(dst[8:12], "WAVE")

	copy(dst[12:16], "fmt ")
	binary.LittleEndian.PutUint32(dst[16:20], 16)
	binary.LittleEndian.PutUint16(dst[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(dst[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(dst[24:28], uint32(sampleRate))
	byteRate := sampleRate * channels * bitsPerSample / 8
	binary.LittleEndian.PutUint32(dst[28:32], uint32(byteRate))
	blockAlign := channels * bitsPerSample / 8
	binary.LittleEndian.PutUint16(dst[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(dst[34:36], uint16(bitsPerSample))

	copy(dst[36:40], "data")
	binary.LittleEndian.PutUint32(dst[40:44], uint32(dataLen))
}

// PCM16Bytes quantizes float32 samples in [-1, 1] to headerless
// little-endian 16-bit PCM.
func PCM16Bytes(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	pcm16LE(samples, out)
	return out
}

func pcm16LE(samples []float32, dst []byte) {
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * 32767))
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(v))
	}
}
