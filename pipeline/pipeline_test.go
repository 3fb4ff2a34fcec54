package pipeline

import (
	"context"
	"errors"
	"math"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"livenotes/audio"
	"livenotes/backend"
	"livenotes/resample"
	"livenotes/transcriber"
)

type status struct {
	state transcriber.State
	msg   string
}

type recordingListener struct {
	mu       sync.Mutex
	statuses []status
	text     string
	levels   int

	statusCh chan status
	textCh   chan string
}

func newListener() *recordingListener {
	return &recordingListener{statusCh: make(chan status, 256), textCh: make(chan string, 256)}
}

func (l *recordingListener) StatusChanged(st transcriber.State, msg string) {
	l.mu.Lock()
	l.statuses = append(l.statuses, status{st, msg})
	l.mu.Unlock()
	select {
	case l.statusCh <- status{st, msg}:
	default:
	}
}

func (l *recordingListener) TranscriptChanged(text string, _ time.Time) {
	l.mu.Lock()
	l.text = text
	l.mu.Unlock()
	select {
	case l.textCh <- text:
	default:
	}
}

func (l *recordingListener) AudioLevel(float64) {
	l.mu.Lock()
	l.levels++
	l.mu.Unlock()
}

func (l *recordingListener) waitStatus(t *testing.T, want string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s := <-l.statusCh:
			if s.msg == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for status %q", want)
		}
	}
}

func (l *recordingListener) sawStatus(st transcriber.State, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.statuses {
		if s.state == st && s.msg == msg {
			return true
		}
	}
	return false
}

func (l *recordingListener) waitState(t *testing.T, st transcriber.State, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !l.sawStatus(st, msg) {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s %q", st, msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (l *recordingListener) waitText(t *testing.T, match func(string) bool) string {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s := <-l.textCh:
			if match(s) {
				return s
			}
		case <-timeout:
			t.Fatal("timed out waiting for transcript")
		}
	}
}

func sine(n int, rate float64) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/rate))
	}
	return s
}

type fixture struct {
	p   *Pipeline
	fc  *audio.FakeContext
	ch  *transcriber.FakeChannel
	lis *recordingListener
}

func newFixture(t *testing.T, rate uint32) *fixture {
	t.Helper()
	fc := audio.NewFakeContext(sine(int(rate)*2, float64(rate)), rate)
	ch := transcriber.NewFakeChannel()
	lis := newListener()
	p := New(audio.NewSource(fc, nil, nil), transcriber.FakeDialer(ch, nil), "ws://test", lis, nil)
	t.Cleanup(p.Close)
	return &fixture{p: p, fc: fc, ch: ch, lis: lis}
}

func (f *fixture) waitBinary(t *testing.T) transcriber.Frame {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, fr := range f.ch.Sent() {
			if fr.Type == transcriber.MessageBinary {
				return fr
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no audio reached the channel")
	return transcriber.Frame{}
}

func TestStartStreamsDownsampledPCM(t *testing.T) {
	f := newFixture(t, 48000)

	if err := f.p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.lis.waitStatus(t, StatusListening)

	fr := f.waitBinary(t)
	want := 2 * resample.OutputLength(audio.FrameSize, 48000, 16000)
	if len(fr.Data) != want {
		t.Errorf("chunk = %d bytes, want %d", len(fr.Data), want)
	}
	if f.p.State() != transcriber.Live {
		t.Errorf("state = %s, want live", f.p.State())
	}
}

func TestStopFlushesAndAggregates(t *testing.T) {
	f := newFixture(t, 16000)
	if err := f.p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.lis.waitStatus(t, StatusListening)

	f.ch.Push(`{"type":"partial","text":"engine"}`)
	f.lis.waitText(t, func(s string) bool { return s == "engine" })

	f.p.Stop()
	capture := f.fc.Last()
	if !capture.Stopped() {
		t.Error("microphone still open after Stop")
	}
	f.ch.Push(`{"type":"final","text":"noise"}`)
	f.lis.waitState(t, transcriber.Idle, StatusStopped)

	if n := capture.StopCount(); n != 1 {
		t.Errorf("capture stopped %d times, want 1", n)
	}
	if n := capture.CloseCount(); n != 1 {
		t.Errorf("capture closed %d times, want 1", n)
	}
	text, at := f.p.Transcript()
	if text != "engine noise " {
		t.Errorf("transcript = %q, want %q", text, "engine noise ")
	}
	if at.IsZero() {
		t.Error("last update time not set")
	}

	flushes := 0
	for _, fr := range f.ch.Sent() {
		if fr.Type == transcriber.MessageText {
			if string(fr.Data) != transcriber.FlushMessage {
				t.Errorf("unexpected text frame %q", fr.Data)
			}
			flushes++
		}
	}
	if flushes != 1 {
		t.Errorf("flushes = %d, want 1", flushes)
	}
}

func TestTranscriptSurvivesRestartUntilClear(t *testing.T) {
	f := newFixture(t, 16000)
	if err := f.p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.lis.waitStatus(t, StatusListening)
	f.ch.Push(`{"type":"final","text":"first"}`)
	f.lis.waitText(t, func(s string) bool { return s == "first " })

	f.p.Clear()
	if text, _ := f.p.Transcript(); text != "" {
		t.Errorf("transcript after Clear = %q", text)
	}
	if f.p.Status() != StatusCleared {
		t.Errorf("status = %q, want %q", f.p.Status(), StatusCleared)
	}
	if f.p.State() != transcriber.Live {
		t.Error("Clear changed the session state")
	}
}

func TestRemoteCloseReleasesMicrophone(t *testing.T) {
	f := newFixture(t, 16000)
	if err := f.p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.lis.waitStatus(t, StatusListening)

	f.ch.CloseRemote()
	f.lis.waitStatus(t, StatusClosed)
	if !f.fc.Last().Stopped() {
		t.Error("microphone not released after remote close")
	}
	if f.p.State() != transcriber.Idle {
		t.Errorf("state = %s, want idle", f.p.State())
	}
}

func TestRestartRightAfterRemoteClose(t *testing.T) {
	fc := audio.NewFakeContext(sine(16000, 16000), 16000)
	var mu sync.Mutex
	var current *transcriber.FakeChannel
	dial := func(ctx context.Context) (transcriber.Channel, error) {
		ch := transcriber.NewFakeChannel()
		mu.Lock()
		current = ch
		mu.Unlock()
		return ch, nil
	}
	p := New(audio.NewSource(fc, nil, nil), dial, "ws://test", nil, nil)
	defer p.Close()

	waitFor := func(i int, want transcriber.State) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for p.State() != want {
			if time.Now().After(deadline) {
				t.Fatalf("cycle %d: state = %s, want %s", i, p.State(), want)
			}
			time.Sleep(100 * time.Microsecond)
		}
	}

	for i := 0; i < 200; i++ {
		if err := p.Start(context.Background()); err != nil {
			t.Fatalf("cycle %d: Start: %v", i, err)
		}
		waitFor(i, transcriber.Live)
		capture := fc.Last()
		if capture.Stopped() {
			t.Fatalf("cycle %d: microphone stopped while live", i)
		}

		mu.Lock()
		ch := current
		mu.Unlock()
		ch.CloseRemote()
		waitFor(i, transcriber.Idle)
	}

	// The last cycle's release may still be pending; once it runs the
	// microphone must be off, and a new cycle must keep its own.
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("final Start: %v", err)
	}
	waitFor(200, transcriber.Live)
	time.Sleep(20 * time.Millisecond)
	if fc.Last().Stopped() {
		t.Error("a stale release stopped the live cycle's microphone")
	}
}

func TestConnectionFailureStatus(t *testing.T) {
	fc := audio.NewFakeContext(nil, 16000)
	lis := newListener()
	p := New(audio.NewSource(fc, nil, nil), transcriber.FakeDialer(nil, errors.New("refused")), "ws://test", lis, nil)
	defer p.Close()

	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for p.State() != transcriber.Idle || !strings.HasPrefix(p.Status(), "Connection error") {
		if time.Now().After(deadline) {
			t.Fatalf("state=%s status=%q", p.State(), p.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !fc.Last().Stopped() {
		t.Error("microphone not released after connection failure")
	}
}

func TestDeviceUnavailable(t *testing.T) {
	fc := audio.NewFakeContext(nil, 16000)
	fc.Unavailable = true
	dialed := false
	dial := func(ctx context.Context) (transcriber.Channel, error) {
		dialed = true
		return nil, errors.New("unused")
	}
	lis := newListener()
	p := New(audio.NewSource(fc, nil, nil), dial, "ws://test", lis, nil)
	defer p.Close()

	err := p.Start(context.Background())
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
	}
	if p.State() != transcriber.Idle {
		t.Errorf("state = %s, want idle", p.State())
	}
	if dialed {
		t.Error("stream dialed without a microphone")
	}
	if !strings.HasPrefix(p.Status(), "Microphone unavailable") {
		t.Errorf("status = %q", p.Status())
	}
}

func TestSecondStartRejected(t *testing.T) {
	f := newFixture(t, 16000)
	if err := f.p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := f.p.Start(context.Background()); !errors.Is(err, transcriber.ErrSessionActive) {
		t.Errorf("second Start err = %v, want ErrSessionActive", err)
	}
}

func TestErrorEventStatus(t *testing.T) {
	f := newFixture(t, 16000)
	if err := f.p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.lis.waitStatus(t, StatusListening)

	f.ch.Push(`{"type":"error","message":"Transcription failed: quota"}`)
	f.lis.waitStatus(t, "Transcription failed: quota")
	f.ch.Push(`{"type":"error"}`)
	f.lis.waitStatus(t, DefaultErrorStatus)
	if f.p.State() != transcriber.Live {
		t.Errorf("error event changed state to %s", f.p.State())
	}
}

func TestEndToEndWithBackend(t *testing.T) {
	srv := httptest.NewServer(backend.New(backend.Options{ChunkSeconds: 0.5}).Handler())
	defer srv.Close()

	endpoint, err := transcriber.EndpointURL(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	fc := audio.NewFakeContext(sine(44100*3, 44100), 44100)
	lis := newListener()
	p := New(audio.NewSource(fc, nil, nil), transcriber.WebSocketDialer(endpoint, ""), endpoint, lis, nil)
	defer p.Close()

	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	lis.waitStatus(t, StatusListening)
	lis.waitText(t, func(s string) bool { return strings.Contains(s, "speech]") })

	p.Stop()
	deadline := time.Now().Add(5 * time.Second)
	for p.State() != transcriber.Idle && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if p.State() != transcriber.Idle {
		t.Fatalf("state = %s after stop", p.State())
	}
	text, at := p.Transcript()
	if !strings.Contains(text, "speech]") || at.IsZero() {
		t.Errorf("transcript = %q at %v", text, at)
	}
	if strings.Contains(text, "  ") {
		t.Errorf("transcript %q has a double space", text)
	}
	if st := p.Stats(); st.SentChunks == 0 {
		t.Error("no chunks recorded as sent")
	}
}
