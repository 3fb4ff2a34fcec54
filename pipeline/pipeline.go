// Package pipeline runs one capture-to-transcript cycle at a time: microphone
// frames are downsampled, encoded and streamed, and transcript events are
// folded into a persistent buffer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"livenotes/audio"
	"livenotes/encoder"
	"livenotes/log"
	"livenotes/metrics"
	"livenotes/resample"
	"livenotes/transcriber"
	"livenotes/transcript"
)

const (
	StatusConnecting = "Connecting..."
	StatusListening  = "Listening..."
	StatusStopped    = "Stopped."
	StatusClosed     = "Connection closed."
	StatusCleared    = "Cleared."

	// DefaultErrorStatus is shown for an error event without a message.
	DefaultErrorStatus = "Error receiving transcript."
)

// Listener is notified from capture and network goroutines; implementations
// must not block.
type Listener interface {
	StatusChanged(state transcriber.State, message string)
	TranscriptChanged(text string, updatedAt time.Time)
	AudioLevel(rms float64)
}

type Pipeline struct {
	source     *audio.Source
	session    *transcriber.Session
	transcript *transcript.Buffer
	listener   Listener
	endpoint   string

	mu       sync.Mutex
	state    transcriber.State
	status   string
	segments int

	startMu sync.Mutex

	// srcMu guards the microphone hand-over between cycles. owner is the
	// cycle holding the running source, 0 when none.
	srcMu  sync.Mutex
	owner  uint64
	cycles uint64
}

// New wires a pipeline around src. endpoint is only used for logging.
func New(src *audio.Source, dial transcriber.DialFunc, endpoint string, l Listener, m *metrics.Metrics) *Pipeline {
	p := &Pipeline{
		source:     src,
		transcript: transcript.NewBuffer(),
		listener:   l,
		endpoint:   endpoint,
	}
	p.session = transcriber.NewSession(dial, observer{p}, m)
	return p
}

// Start opens the microphone, then the stream. A missing or refused device
// fails synchronously with audio.ErrDeviceUnavailable and leaves nothing
// open. Starting while a cycle is in progress returns
// transcriber.ErrSessionActive.
func (p *Pipeline) Start(ctx context.Context) error {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	if st := p.session.State(); st != transcriber.Idle {
		if st == transcriber.Closed {
			return transcriber.ErrSessionClosed
		}
		return fmt.Errorf("%w: state %s", transcriber.ErrSessionActive, st)
	}

	id, rate, err := p.openSource()
	if err != nil {
		log.Errorf("device_unavailable: %v", err)
		p.setStatus(transcriber.Idle, "Microphone unavailable: "+err.Error())
		return err
	}
	log.SessionStart(p.endpoint, p.source.DeviceName(), rate)

	if err := p.session.StartCycle(ctx, func() { p.releaseSource(id) }); err != nil {
		p.releaseSource(id)
		return err
	}
	return nil
}

// openSource opens the microphone for a new cycle. A source still held by a
// cycle that has ended but not yet been released is stopped first.
func (p *Pipeline) openSource() (uint64, uint32, error) {
	p.srcMu.Lock()
	defer p.srcMu.Unlock()
	p.source.Stop()
	p.owner = 0
	rate, err := p.source.Start(p.onFrame)
	if err != nil {
		return 0, 0, err
	}
	p.cycles++
	p.owner = p.cycles
	return p.owner, rate, nil
}

// releaseSource stops the microphone only if cycle id still owns it.
func (p *Pipeline) releaseSource(id uint64) {
	p.srcMu.Lock()
	defer p.srcMu.Unlock()
	if p.owner != id {
		return
	}
	p.source.Stop()
	p.owner = 0
}

func (p *Pipeline) stopSource() {
	p.srcMu.Lock()
	defer p.srcMu.Unlock()
	p.source.Stop()
	p.owner = 0
}

// Stop flushes the stream and releases the microphone. Safe in any state.
func (p *Pipeline) Stop() {
	p.session.Stop()
	p.stopSource()
}

// Clear empties the transcript whatever the session state.
func (p *Pipeline) Clear() {
	p.transcript.Clear()
	if p.listener != nil {
		p.listener.TranscriptChanged("", time.Time{})
	}
	p.mu.Lock()
	st := p.state
	p.mu.Unlock()
	p.setStatus(st, StatusCleared)
}

// Close ends the session for good.
func (p *Pipeline) Close() {
	p.session.Close()
	p.stopSource()
	p.mu.Lock()
	n := p.segments
	p.mu.Unlock()
	log.SessionEnd(n)
}

func (p *Pipeline) Transcript() (string, time.Time) {
	return p.transcript.Snapshot()
}

func (p *Pipeline) State() transcriber.State {
	return p.session.State()
}

func (p *Pipeline) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Pipeline) Stats() transcriber.Stats {
	return p.session.Stats()
}

func (p *Pipeline) DeviceName() string {
	return p.source.DeviceName()
}

// onFrame runs on the capture goroutine and never blocks: SendAudio drops
// when the stream is not live or its queue is full.
func (p *Pipeline) onFrame(f audio.Frame) {
	if p.listener != nil {
		p.listener.AudioLevel(audio.Level(f.Samples))
	}
	down := resample.Downsample(f.Samples, int(f.SampleRate), encoder.SampleRate)
	p.session.SendAudio(encoder.PCM16Bytes(down))
}

func (p *Pipeline) setStatus(st transcriber.State, msg string) {
	p.mu.Lock()
	p.state = st
	p.status = msg
	p.mu.Unlock()
	if p.listener != nil {
		p.listener.StatusChanged(st, msg)
	}
}

type observer struct{ p *Pipeline }

func (o observer) StateChanged(st transcriber.State, err error) {
	p := o.p
	switch st {
	case transcriber.Connecting:
		p.setStatus(st, StatusConnecting)
	case transcriber.Live:
		p.setStatus(st, StatusListening)
	case transcriber.Stopping:
		p.setStatus(st, StatusStopped)
	case transcriber.Failed:
		p.setStatus(st, "Connection error: "+err.Error())
	case transcriber.Idle:
		switch {
		case errors.Is(err, transcriber.ErrRemoteClosed):
			p.setStatus(st, StatusClosed)
		case err != nil:
			// keep the failure message
			p.mu.Lock()
			msg := p.status
			p.mu.Unlock()
			p.setStatus(st, msg)
		default:
			p.setStatus(st, StatusStopped)
		}
	case transcriber.Closed:
		p.setStatus(st, StatusStopped)
	}
}

func (o observer) Event(ev transcriber.Event) {
	p := o.p
	switch ev.Kind {
	case transcriber.EventPartial, transcriber.EventFinal:
		final := ev.Kind == transcriber.EventFinal
		if !p.transcript.Append(ev.Text, final) {
			return
		}
		if final {
			log.TranscriptionText(ev.Text)
			p.mu.Lock()
			p.segments++
			p.mu.Unlock()
		}
		if p.listener != nil {
			text, at := p.transcript.Snapshot()
			p.listener.TranscriptChanged(text, at)
		}
	case transcriber.EventError:
		msg := ev.Message
		if msg == "" {
			msg = DefaultErrorStatus
		}
		p.mu.Lock()
		st := p.state
		p.mu.Unlock()
		p.setStatus(st, msg)
	}
}
