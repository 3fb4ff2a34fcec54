// Package resample converts captured audio to the wire sample rate.
package resample

import "math"

// Downsample reduces in from inRate to outRate with a box filter. Each output
// sample averages the input window [round(i*ratio), round((i+1)*ratio)),
// clipped to len(in). Boundaries come from the absolute index rather than an
// accumulated fractional step, so windows partition the input without drift.
//
// Upsampling is not supported: when outRate >= inRate the input is returned
// unchanged. A window that rounds to zero samples repeats the previous output
// sample (0 at the start).
func Downsample(in []float32, inRate, outRate int) []float32 {
	if outRate >= inRate || outRate <= 0 {
		return in
	}
	ratio := float64(inRate) / float64(outRate)
	out := make([]float32, OutputLength(len(in), inRate, outRate))

	offset := 0
	var prev float32
	for i := range out {
		next := int(math.Round(float64(i+1) * ratio))
		if avg, ok := average(in, offset, next); ok {
			prev = avg
		}
		out[i] = prev
		offset = next
	}
	return out
}

func average(in []float32, start, end int) (float32, bool) {
	end = min(end, len(in))
	if start >= end {
		return 0, false
	}
	var sum float64
	for _, s := range in[start:end] {
		sum += float64(s)
	}
	return float32(sum / float64(end-start)), true
}

// OutputLength is the number of samples Downsample produces for n input samples.
func OutputLength(n, inRate, outRate int) int {
	if outRate >= inRate || outRate <= 0 {
		return n
	}
	ratio := float64(inRate) / float64(outRate)
	return int(math.Round(float64(n) / ratio))
}

// Windows returns the input index range [start, end) averaged into each output
// sample, clipped to n. Exposed for diagnostics and tests.
func Windows(n, inRate, outRate int) [][2]int {
	if outRate >= inRate || outRate <= 0 {
		return nil
	}
	ratio := float64(inRate) / float64(outRate)
	windows := make([][2]int, OutputLength(n, inRate, outRate))
	offset := 0
	for i := range windows {
		next := int(math.Round(float64(i+1) * ratio))
		windows[i] = [2]int{min(offset, n), min(next, n)}
		offset = next
	}
	return windows
}
