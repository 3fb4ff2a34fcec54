package audio

import (
	"errors"
	"fmt"
	"sync"

	"livenotes/metrics"
)

// Source owns one capture device for the duration of a start/stop cycle and
// regroups its samples into FrameSize frames.
type Source struct {
	ctx     Context
	device  *DeviceInfo
	metrics *metrics.Metrics

	mu      sync.Mutex
	capture CaptureDevice
	rate    uint32

	// frameMu is held for the whole delivery of a frame so Stop can wait
	// out a callback in flight.
	frameMu sync.Mutex
	cb      FrameFunc
	pending []float32
}

// NewSource captures from device, or the system default when device is nil.
func NewSource(ctx Context, device *DeviceInfo, m *metrics.Metrics) *Source {
	return &Source{ctx: ctx, device: device, metrics: m}
}

// Start opens the device and begins delivering frames to cb. It returns the
// negotiated sample rate. Any failure to find, open or start a device is
// reported as ErrDeviceUnavailable and leaves nothing open.
func (s *Source) Start(cb FrameFunc) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture != nil {
		return 0, errors.New("audio source already started")
	}

	devices, err := s.ctx.Devices()
	if err != nil {
		return 0, fmt.Errorf("%w: enumerating devices: %w", ErrDeviceUnavailable, err)
	}
	if len(devices) == 0 {
		return 0, fmt.Errorf("%w: no capture devices found", ErrDeviceUnavailable)
	}

	capture, err := s.ctx.NewCapture(s.device, CaptureConfig{
		SampleRate: PreferredSampleRate,
		Channels:   1,
		PeriodSize: FrameSize,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: opening device: %w", ErrDeviceUnavailable, err)
	}

	s.frameMu.Lock()
	s.cb = cb
	s.pending = s.pending[:0]
	s.frameMu.Unlock()

	capture.SetCallback(s.onData)
	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		capture.Close()
		s.frameMu.Lock()
		s.cb = nil
		s.frameMu.Unlock()
		return 0, fmt.Errorf("%w: starting capture: %w", ErrDeviceUnavailable, err)
	}

	s.capture = capture
	s.rate = capture.SampleRate()
	return s.rate, nil
}

func (s *Source) onData(samples []float32, rate uint32) {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()
	if s.cb == nil {
		return
	}
	s.pending = append(s.pending, samples...)
	for len(s.pending) >= FrameSize {
		frame := make([]float32, FrameSize)
		copy(frame, s.pending[:FrameSize])
		s.pending = s.pending[FrameSize:]
		s.metrics.FrameCaptured(Level(frame))
		s.cb(Frame{Samples: frame, SampleRate: rate, Channels: 1})
	}
}

// Stop disconnects the callback, then stops and closes the device. No frame
// is delivered after Stop returns. Safe to call repeatedly.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture == nil {
		return
	}
	s.capture.ClearCallback()

	s.frameMu.Lock()
	s.cb = nil
	s.pending = nil
	s.frameMu.Unlock()

	s.capture.Stop()
	s.capture.Close()
	s.capture = nil
}

func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture != nil
}

func (s *Source) SampleRate() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

func (s *Source) DeviceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture != nil {
		return s.capture.DeviceName()
	}
	if s.device != nil {
		return s.device.Name
	}
	return "system default"
}
