package main

import "time"

const (
	// voiceLevel is the frame RMS above which a sample counts as speech.
	voiceLevel = 0.02

	silenceWarnAfter = 8 * time.Second
	speechMinRatio   = 0.10
	speechClearRatio = 0.25 // higher threshold to clear warning (hysteresis)
)

type silenceEvent int

const (
	silenceNone     silenceEvent = iota
	silenceWarn                  // no voice detected
	silenceClear                 // speech resumed after warning
	silenceAutoStop              // whole auto-stop window below speechMinRatio
)

// silenceWatch tracks the share of recent level samples that carried
// speech. It is fed once per UI tick while the stream is live.
type silenceWatch struct {
	warnAt   int
	windowSz int
	autoStop bool

	ticks       int
	window      []bool
	speechCount int
	warned      bool
}

// newSilenceWatch sizes the windows for samples taken every tick. A zero
// autoStop never ends the stream.
func newSilenceWatch(tick, autoStop time.Duration) *silenceWatch {
	warnAt := int(silenceWarnAfter / tick)
	windowSz := warnAt
	if autoStop > 0 {
		windowSz = max(warnAt, int(autoStop/tick))
	}
	return &silenceWatch{
		warnAt:   warnAt,
		windowSz: windowSz,
		autoStop: autoStop > 0,
		window:   make([]bool, windowSz),
	}
}

func (w *silenceWatch) ratio(n int) float64 {
	n = min(n, w.ticks)
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := 0; i < n; i++ {
		if w.window[(w.ticks-1-i+w.windowSz)%w.windowSz] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (w *silenceWatch) Tick(hasSpeech bool) silenceEvent {
	idx := w.ticks % w.windowSz
	if w.ticks >= w.windowSz && w.window[idx] {
		w.speechCount--
	}
	w.window[idx] = hasSpeech
	if hasSpeech {
		w.speechCount++
	}
	w.ticks++

	if w.autoStop && w.ticks >= w.windowSz && float64(w.speechCount)/float64(w.windowSz) < speechMinRatio {
		return silenceAutoStop
	}

	r := w.ratio(w.warnAt)
	if w.ticks >= w.warnAt && r < speechMinRatio && !w.warned {
		w.warned = true
		return silenceWarn
	}
	if w.warned && r >= speechClearRatio {
		w.warned = false
		return silenceClear
	}
	return silenceNone
}
