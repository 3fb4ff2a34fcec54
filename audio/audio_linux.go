//go:build linux

package audio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
)

type pulseContext struct {
	client *pulse.Client
}

func NewContext() (Context, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("livenotes"))
	if err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}
	return &pulseContext{client: c}, nil
}

func (p *pulseContext) Devices() ([]DeviceInfo, error) {
	sources, err := p.client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("pulse list sources: %w", err)
	}
	var devices []DeviceInfo
	for _, s := range sources {
		devices = append(devices, DeviceInfo{
			ID:   s.ID(),
			Name: s.Name(),
		})
	}
	return devices, nil
}

func (p *pulseContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	var source *pulse.Source
	if device != nil {
		s, err := p.client.SourceByID(device.ID)
		if err != nil {
			return nil, fmt.Errorf("pulse source %q: %w", device.Name, err)
		}
		source = s
	}
	c := &pulseCapture{
		client: p.client,
		device: device,
		source: source,
		config: config,
	}

	writer := pulse.Float32Writer(func(buf []float32) (int, error) {
		if cb := c.callback.Load(); cb != nil && len(buf) > 0 {
			(*cb)(buf, c.rate)
		}
		return len(buf), nil
	})

	opts := []pulse.RecordOption{
		pulse.RecordMono,
		pulse.RecordSampleRate(int(config.SampleRate)),
		pulse.RecordLatency(float64(config.PeriodSize) / float64(config.SampleRate)),
	}
	if source != nil {
		opts = append(opts, pulse.RecordSource(source))
	}
	stream, err := p.client.NewRecord(writer, opts...)
	if err != nil {
		return nil, fmt.Errorf("pulse record: %w", err)
	}
	c.stream = stream
	c.rate = uint32(stream.SampleRate())
	return c, nil
}

func (p *pulseContext) Close() {
	p.client.Close()
}

type pulseCapture struct {
	client   *pulse.Client
	device   *DeviceInfo
	source   *pulse.Source
	config   CaptureConfig
	callback atomic.Pointer[DataCallback]
	rate     uint32

	mu     sync.Mutex
	stream *pulse.RecordStream
}

func (c *pulseCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return fmt.Errorf("pulse record stream closed")
	}
	c.stream.Start()
	if err := c.stream.Error(); err != nil {
		return fmt.Errorf("pulse record start: %w", err)
	}
	return nil
}

func (c *pulseCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil && c.stream.Running() {
		c.stream.Stop()
	}
}

func (c *pulseCapture) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
	}
}

func (c *pulseCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *pulseCapture) ClearCallback() {
	c.callback.Store(nil)
}

func (c *pulseCapture) SampleRate() uint32 {
	return c.rate
}

func (c *pulseCapture) DeviceName() string {
	if c.device != nil {
		return c.device.Name
	}
	return "system default"
}
