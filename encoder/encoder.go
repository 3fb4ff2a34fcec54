package encoder

import (
	"encoding/binary"
	"math"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
	BytesPerSec   = SampleRate * Channels * (BitsPerSample / 8)
)

// PCM16 converts float samples to signed 16-bit PCM. Samples are clamped to
// [-1, 1]; negative values scale by 32768 and the rest by 32767, both
// truncated toward zero, so the full two's-complement range is reachable.
func PCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = sampleToInt16(s)
	}
	return out
}

// PCM16Bytes is PCM16 laid out little-endian, ready for the wire.
func PCM16Bytes(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sampleToInt16(s)))
	}
	return out
}

// Int16s decodes little-endian PCM16 bytes. A trailing odd byte is ignored.
func Int16s(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

func sampleToInt16(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	v = max(-1, min(1, v))
	if v < 0 {
		return int16(v * 32768)
	}
	return int16(v * 32767)
}
