//go:build !linux

package beep

import (
	"encoding/binary"
	"sync"

	"github.com/gen2brain/malgo"
)

var (
	ctxOnce sync.Once
	mctx    *malgo.AllocatedContext
	playMu  sync.Mutex
)

func initContext() {
	c, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return
	}
	mctx = c
}

// playSamples runs one playback device per cue; cues never overlap.
func playSamples(samples []int16) {
	ctxOnce.Do(initContext)
	if mctx == nil || len(samples) == 0 {
		return
	}
	playMu.Lock()
	defer playMu.Unlock()

	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}

	done := make(chan struct{})
	var once sync.Once
	pos := 0
	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.SampleRate = sampleRate

	dev, err := malgo.InitDevice(mctx.Context, config, malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			n := copy(out, data[pos:])
			pos += n
			clear(out[n:])
			if pos >= len(data) {
				once.Do(func() { close(done) })
			}
		},
	})
	if err != nil {
		return
	}
	defer dev.Uninit()
	if err := dev.Start(); err != nil {
		return
	}
	<-done
	dev.Stop()
}
