// Package recognizer turns buffered PCM16 audio into text for the reference
// backend.
package recognizer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"livenotes/log"
)

type NetworkMetrics struct {
	DNS        time.Duration
	ConnWait   time.Duration
	TCP        time.Duration
	TLS        time.Duration
	ReqHeaders time.Duration
	ReqBody    time.Duration
	TTFB       time.Duration
	Download   time.Duration
	Total      time.Duration
	ConnReused bool
}

// Sum adds up the traced phases. Total minus Sum is time the trace did not
// account for, mostly client-side buffering.
func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

func (m *NetworkMetrics) logData() log.UploadData {
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
	return log.UploadData{
		ConnWaitMs: ms(m.ConnWait),
		DNSMs:      ms(m.DNS),
		TCPMs:      ms(m.TCP),
		TLSMs:      ms(m.TLS),
		SendMs:     ms(m.ReqHeaders + m.ReqBody),
		TTFBMs:     ms(m.TTFB),
		DownloadMs: ms(m.Download),
		TotalMs:    ms(m.Total),
		UntracedMs: ms(m.Total - m.Sum()),
		ConnReused: m.ConnReused,
	}
}

type Result struct {
	Text    string
	Metrics *NetworkMetrics
}

// Recognizer transcribes one buffer of little-endian PCM16 mono audio at
// 16 kHz.
type Recognizer interface {
	Name() string
	Transcribe(ctx context.Context, pcm []byte) (*Result, error)
}

// New picks a recognizer by provider name.
func New(provider string, cfg Config) (Recognizer, error) {
	switch provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai recognizer needs an API key (set OPENAI_API_KEY)")
		}
		return NewOpenAI(cfg), nil
	case "echo", "":
		return NewEcho(), nil
	}
	return nil, fmt.Errorf("unknown recognizer %q", provider)
}

func firstNonEmpty(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return "?"
}
