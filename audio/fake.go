package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"livenotes/encoder"
)

const fakeChunkSize = 1024

// FakeContext plays back a fixed buffer as if it came from a microphone.
// After the buffer is exhausted it keeps delivering silence until stopped.
type FakeContext struct {
	samples []float32
	rate    uint32

	// Interval is the pause between chunks. Zero delivers as fast as the
	// consumer accepts.
	Interval time.Duration
	// Unavailable makes Devices report an empty list.
	Unavailable bool
	// StartErr is returned by every capture's Start.
	StartErr error

	mu   sync.Mutex
	last *FakeCapture
}

func NewFakeContext(samples []float32, sampleRate uint32) *FakeContext {
	return &FakeContext{samples: samples, rate: sampleRate}
}

// NewFakeContextFromWAV loads a 16-bit mono PCM WAV file. With realtime set,
// chunks are paced at the file's sample rate.
func NewFakeContextFromWAV(path string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < encoder.WAVHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%s: not a wav file", path)
	}
	rate := binary.LittleEndian.Uint32(data[24:28])
	bits := binary.LittleEndian.Uint16(data[34:36])
	if bits != 16 {
		return nil, fmt.Errorf("%s: %d-bit samples, want 16", path, bits)
	}
	pcm := encoder.Int16s(data[encoder.WAVHeaderSize:])
	samples := make([]float32, len(pcm))
	for i, v := range pcm {
		samples[i] = float32(v) / 32768
	}
	f := NewFakeContext(samples, rate)
	if realtime {
		f.Interval = time.Duration(fakeChunkSize) * time.Second / time.Duration(rate)
	}
	return f, nil
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	if f.Unavailable {
		return nil, nil
	}
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	c := &FakeCapture{
		samples:   f.samples,
		rate:      f.rate,
		interval:  f.Interval,
		startErr:  f.StartErr,
		audioDone: make(chan struct{}),
	}
	f.mu.Lock()
	f.last = c
	f.mu.Unlock()
	return c, nil
}

func (f *FakeContext) Close() {}

// Last returns the most recently opened capture.
func (f *FakeContext) Last() *FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type FakeCapture struct {
	samples   []float32
	rate      uint32
	interval  time.Duration
	startErr  error
	audioDone chan struct{}

	cb       atomic.Pointer[DataCallback]
	mu       sync.Mutex
	stopCh   chan struct{}
	feedDone chan struct{}
	stops    int
	closes   int
}

// AudioDone is closed once the whole buffer has been delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) { f.cb.Store(&cb) }

func (f *FakeCapture) ClearCallback() { f.cb.Store(nil) }

func (f *FakeCapture) SampleRate() uint32 { return f.rate }

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopCh != nil {
		return errors.New("fake capture already started")
	}
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	go f.feed(f.stopCh, f.feedDone)
	return nil
}

func (f *FakeCapture) feed(stop, done chan struct{}) {
	defer close(done)
	silence := make([]float32, fakeChunkSize)
	pos := 0
	finished := false
	for {
		select {
		case <-stop:
			return
		default:
		}

		if cb := f.cb.Load(); cb != nil {
			if pos < len(f.samples) {
				end := min(pos+fakeChunkSize, len(f.samples))
				chunk := make([]float32, end-pos)
				copy(chunk, f.samples[pos:end])
				pos = end
				(*cb)(chunk, f.rate)
			} else {
				if !finished {
					finished = true
					close(f.audioDone)
				}
				(*cb)(silence, f.rate)
			}
		}

		wait := f.interval
		if wait <= 0 {
			wait = time.Millisecond
		}
		select {
		case <-stop:
			return
		case <-time.After(wait):
		}
	}
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if f.stopCh == nil {
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	<-f.feedDone
}

func (f *FakeCapture) Close() {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
}

func (f *FakeCapture) Stopped() bool { return f.StopCount() > 0 }

func (f *FakeCapture) Closed() bool { return f.CloseCount() > 0 }

// StopCount reports how many times Stop was called.
func (f *FakeCapture) StopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *FakeCapture) CloseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}
