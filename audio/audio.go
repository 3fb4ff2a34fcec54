// Package audio captures mono float32 microphone audio and hands it out in
// fixed-size frames.
package audio

import (
	"errors"
	"math"
	"strings"
)

var ErrDeviceUnavailable = errors.New("audio device unavailable")

const (
	PreferredSampleRate = 16000
	FrameSize           = 4096
)

// Frame is one processing buffer of mono samples in [-1, 1] at the rate the
// device actually delivered.
type Frame struct {
	Samples    []float32
	SampleRate uint32
	Channels   int
}

type FrameFunc func(Frame)

// DataCallback receives mono samples as the backend delivers them, in
// whatever period size the device chose.
type DataCallback func(samples []float32, sampleRate uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
	PeriodSize uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	// SampleRate is the negotiated rate. Valid once the device is open.
	SampleRate() uint32
	DeviceName() string
}

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Level is the RMS of samples, 0 for an empty slice.
func Level(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
