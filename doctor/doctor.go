// Package doctor checks a client setup end to end without recording a
// session: server health, the stream handshake, the microphone and the
// clipboard.
package doctor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"livenotes/audio"
	"livenotes/clipboard"
	"livenotes/transcriber"
)

const (
	checkTimeout  = 5 * time.Second
	defaultListen = 2 * time.Second

	// Peak RMS below this over the whole sample counts as silence.
	voiceLevel = 0.02
)

type Options struct {
	Server string
	Token  string
	Audio  audio.Context
	Device *audio.DeviceInfo
	// Listen is how long the microphone is sampled.
	Listen        time.Duration
	HTTPClient    *http.Client
	SkipClipboard bool
}

type status int

const (
	pass status = iota
	warn
	fail
)

func (s status) String() string {
	switch s {
	case pass:
		return "PASS"
	case warn:
		return "WARN"
	}
	return "FAIL"
}

type result struct {
	status status
	detail string
}

type check struct {
	name string
	run  func(ctx context.Context, o *Options) result
}

// Run executes every check, printing one block per check to w, and returns
// an exit code: 0 when nothing failed, 1 otherwise. Warnings do not fail.
func Run(ctx context.Context, w io.Writer, opts Options) int {
	if opts.Listen <= 0 {
		opts.Listen = defaultListen
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: checkTimeout}
	}

	checks := []check{
		{"Server health", checkHealth},
		{"Stream handshake", checkStream},
		{"Microphone", checkMicrophone},
	}
	if !opts.SkipClipboard {
		checks = append(checks, check{"Clipboard", checkClipboard})
	}

	fmt.Fprintln(w, "livenotes doctor - system diagnostics")
	fmt.Fprintln(w, "=====================================")

	failed := false
	for i, c := range checks {
		fmt.Fprintf(w, "\n[%d/%d] %s\n", i+1, len(checks), c.name)
		r := c.run(ctx, &opts)
		fmt.Fprintf(w, "  %s: %s\n", r.status, r.detail)
		if r.status == fail {
			failed = true
		}
	}

	fmt.Fprintln(w)
	if failed {
		fmt.Fprintln(w, "Some checks failed. See details above.")
		return 1
	}
	fmt.Fprintln(w, "All checks passed!")
	return 0
}

func checkHealth(ctx context.Context, o *Options) result {
	u, err := transcriber.HealthURL(o.Server)
	if err != nil {
		return result{fail, err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return result{fail, err.Error()}
	}

	start := time.Now()
	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return result{fail, fmt.Sprintf("%s unreachable: %v", u, err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return result{fail, fmt.Sprintf("%s returned %s", u, resp.Status)}
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Status != "ok" {
		return result{warn, fmt.Sprintf("%s answered but not with {\"status\":\"ok\"}", u)}
	}
	return result{pass, fmt.Sprintf("%s ok in %dms", u, time.Since(start).Milliseconds())}
}

func checkStream(ctx context.Context, o *Options) result {
	endpoint, err := transcriber.EndpointURL(o.Server)
	if err != nil {
		return result{fail, err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	ch, err := transcriber.WebSocketDialer(endpoint, o.Token)(ctx)
	if err != nil {
		return result{fail, fmt.Sprintf("connect %s: %v", endpoint, err)}
	}
	defer ch.Close()
	connected := time.Since(start)

	typ, data, err := ch.Read(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return result{warn, fmt.Sprintf("connected in %dms, no greeting from server", connected.Milliseconds())}
		}
		return result{fail, fmt.Sprintf("connected, then: %v", err)}
	}
	if typ != transcriber.MessageText {
		return result{warn, "first message was binary"}
	}
	ev, err := transcriber.ParseEvent(data)
	if err != nil {
		return result{warn, err.Error()}
	}
	if ev.Kind != transcriber.EventReady {
		return result{warn, fmt.Sprintf("first event was %q, not ready", ev.Kind)}
	}
	return result{pass, fmt.Sprintf("ready in %dms", connected.Milliseconds())}
}

func checkMicrophone(ctx context.Context, o *Options) result {
	if o.Audio == nil {
		return result{fail, "no audio backend"}
	}
	var (
		mu     sync.Mutex
		frames int
		peak   float64
	)
	src := audio.NewSource(o.Audio, o.Device, nil)
	rate, err := src.Start(func(f audio.Frame) {
		lvl := audio.Level(f.Samples)
		mu.Lock()
		frames++
		peak = max(peak, lvl)
		mu.Unlock()
	})
	if err != nil {
		return result{fail, err.Error()}
	}

	select {
	case <-time.After(o.Listen):
	case <-ctx.Done():
	}
	src.Stop()

	mu.Lock()
	defer mu.Unlock()
	detail := fmt.Sprintf("%s at %d Hz, %d frames, peak level %.3f", src.DeviceName(), rate, frames, peak)
	switch {
	case frames == 0:
		return result{fail, detail + ", no audio captured"}
	case peak < voiceLevel:
		return result{warn, detail + ", no voice detected"}
	}
	return result{pass, detail}
}

func checkClipboard(context.Context, *Options) result {
	if _, err := clipboard.Read(); err != nil {
		return result{warn, fmt.Sprintf("copy key will not work: %v", err)}
	}
	return result{pass, "clipboard available"}
}
