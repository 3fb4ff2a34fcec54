// Package beep plays short cues when a transcription stream goes live,
// stops, or fails.
package beep

import (
	"math"
	"sync/atomic"
)

var disabled atomic.Bool

// Disable silences every cue for the rest of the process.
func Disable() { disabled.Store(true) }

const (
	sampleRate = 44100

	// Live: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// Stopped: medium pitch, slightly longer
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// Failed: low pitch double-beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30

	// tail pads each cue so the sink buffer fills before the stream drains
	tail = 0.2
)

// tick is a decaying mono sine.
func tick(freq, duration, volume, decay float64) []int16 {
	n := int(sampleRate * duration)
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / sampleRate
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return samples
}

func doubleBeep(freq, beepDur, gapDur, volume, decay float64) []int16 {
	b := tick(freq, beepDur, volume, decay)
	gap := make([]int16, int(sampleRate*gapDur))
	out := make([]int16, 0, len(b)*2+len(gap))
	out = append(out, b...)
	out = append(out, gap...)
	return append(out, b...)
}

func startCue() []int16 { return tick(startFreq, tail, startVolume, startDecay) }
func endCue() []int16   { return tick(endFreq, tail, endVolume, endDecay) }
func errorCue() []int16 { return doubleBeep(errorFreq, 0.08, 0.05, errorVolume, errorDecay) }

func PlayStart() { play(startCue) }
func PlayEnd()   { play(endCue) }
func PlayError() { play(errorCue) }

func play(cue func() []int16) {
	if disabled.Load() {
		return
	}
	go playSamples(cue())
}
