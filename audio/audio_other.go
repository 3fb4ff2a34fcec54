//go:build !linux

package audio

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

type malgoContext struct {
	ctx *malgo.AllocatedContext
}

func NewContext() (Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	return &malgoContext{ctx: ctx}, nil
}

func (m *malgoContext) Devices() ([]DeviceInfo, error) {
	devices, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	var result []DeviceInfo
	for _, d := range devices {
		result = append(result, DeviceInfo{
			ID:   hex.EncodeToString(d.ID[:]),
			Name: d.Name(),
		})
	}
	return result, nil
}

func (m *malgoContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = config.Channels
	deviceConfig.SampleRate = config.SampleRate
	deviceConfig.PeriodSizeInFrames = config.PeriodSize

	if device != nil {
		idBytes, err := hex.DecodeString(device.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid device ID: %w", err)
		}
		var devID malgo.DeviceID
		copy(devID[:], idBytes)
		deviceConfig.Capture.DeviceID = devID.Pointer()
	}

	c := &malgoCapture{info: device}
	channels := int(config.Channels)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			cb := c.callback.Load()
			if cb == nil {
				return
			}
			(*cb)(monoFloat32(input, channels, int(frameCount)), c.rate)
		},
	}

	dev, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, err
	}
	c.device = dev
	c.rate = dev.SampleRate()
	return c, nil
}

func (m *malgoContext) Close() {
	m.ctx.Uninit()
	m.ctx.Free()
}

// monoFloat32 decodes interleaved little-endian float32 frames, keeping the
// first channel.
func monoFloat32(data []byte, channels, frames int) []float32 {
	if channels < 1 {
		channels = 1
	}
	frames = min(frames, len(data)/(4*channels))
	out := make([]float32, frames)
	for i := range out {
		off := i * channels * 4
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
	}
	return out
}

type malgoCapture struct {
	device   *malgo.Device
	info     *DeviceInfo
	callback atomic.Pointer[DataCallback]
	rate     uint32

	closeOnce sync.Once
}

func (c *malgoCapture) Start() error {
	return c.device.Start()
}

func (c *malgoCapture) Stop() {
	c.device.Stop()
}

func (c *malgoCapture) Close() {
	c.closeOnce.Do(c.device.Uninit)
}

func (c *malgoCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *malgoCapture) ClearCallback() {
	c.callback.Store(nil)
}

func (c *malgoCapture) SampleRate() uint32 {
	return c.rate
}

func (c *malgoCapture) DeviceName() string {
	if c.info != nil {
		return c.info.Name
	}
	return "system default"
}
