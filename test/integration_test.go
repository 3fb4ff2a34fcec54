//go:build integration

package test_test

import (
	"encoding/binary"
	"fmt"
	"math"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"livenotes/backend"
	"livenotes/recognizer"
)

var testBinary string

func TestMain(m *testing.M) {
	testBinary = os.Getenv("LIVENOTES_TEST_BIN")
	if testBinary == "" {
		fmt.Fprintln(os.Stderr, "LIVENOTES_TEST_BIN not set; build the client and point it at the binary")
		os.Exit(1)
	}

	if err := os.MkdirAll("data", 0755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create data dir: %v\n", err)
		os.Exit(1)
	}
	files := map[string]float64{"tone.wav": 0.5, "silence.wav": 0}
	for name, amp := range files {
		if err := generateWAV(filepath.Join("data", name), 44100, 3.0, amp); err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate %s: %v\n", name, err)
			os.Exit(1)
		}
	}
	code := m.Run()
	for name := range files {
		os.Remove(filepath.Join("data", name))
	}
	os.Exit(code)
}

// generateWAV writes a 16-bit mono 440 Hz tone of the given amplitude.
func generateWAV(path string, sampleRate int, durationS, amp float64) error {
	const headerSize = 44
	numSamples := int(float64(sampleRate) * durationS)
	dataSize := numSamples * 2

	buf := make([]byte, headerSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(headerSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)  // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16) // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	for i := 0; i < numSamples; i++ {
		v := amp * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(buf[headerSize+i*2:], uint16(int16(v*32767)))
	}
	return os.WriteFile(path, buf, 0644)
}

func cmds(parts ...string) string {
	return strings.Join(parts, "\n") + "\n"
}

func startBackend(t *testing.T, token string) string {
	t.Helper()
	srv := httptest.NewServer(backend.New(backend.Options{
		Recognizer:   recognizer.NewEcho(),
		ChunkSeconds: 1,
		Token:        token,
	}).Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func runClient(t *testing.T, stdin string, args ...string) (logDir, stdout string) {
	t.Helper()
	logDir = t.TempDir()
	cmdArgs := append([]string{"-logpath", logDir, "-test"}, args...)

	cmd := exec.Command(testBinary, cmdArgs...)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Env = os.Environ()

	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("livenotes exited with error: %v\noutput: %s", err, out)
	}
	return logDir, string(out)
}

func readLog(t *testing.T, logDir, filename string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(logDir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		t.Fatalf("failed to read %s: %v", filename, err)
	}
	return string(data)
}

func transcriptLine(t *testing.T, out string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if text, ok := strings.CutPrefix(line, "TRANSCRIPT "); ok {
			return text
		}
	}
	t.Fatalf("no TRANSCRIPT line in output:\n%s", out)
	return ""
}

func TestStreamTranscript(t *testing.T) {
	url := startBackend(t, "")
	logDir, out := runClient(t,
		cmds("START", "WAIT_LIVE", "WAIT_AUDIO_DONE", "STOP", "WAIT_IDLE", "PRINT", "QUIT"),
		"-server", url, "-wav", "data/tone.wav")

	text := transcriptLine(t, out)
	if !strings.Contains(text, "speech]") {
		t.Errorf("transcript = %q, want echo segments", text)
	}
	if strings.Contains(text, "  ") {
		t.Errorf("transcript %q has a double space", text)
	}
	if !strings.Contains(out, "STATE stopping Stopped.") {
		t.Errorf("missing stop status:\n%s", out)
	}

	diag := readLog(t, logDir, "diagnostics_log.txt")
	for _, want := range []string{"session_start", "stream_transcription", "connect_ms", "session_end"} {
		if !strings.Contains(diag, want) {
			t.Errorf("expected %s in diagnostics", want)
		}
	}
	if strings.TrimSpace(readLog(t, logDir, "transcribe_log.txt")) == "" {
		t.Error("transcribe_log.txt is empty, expected the final segment")
	}
}

func TestSilenceProducesNoSegments(t *testing.T) {
	url := startBackend(t, "")
	_, out := runClient(t,
		cmds("START", "WAIT_LIVE", "SLEEP 1500", "STOP", "WAIT_IDLE", "PRINT", "QUIT"),
		"-server", url, "-wav", "data/silence.wav")
	if text := transcriptLine(t, out); text != "" {
		t.Errorf("transcript = %q, want empty", text)
	}
}

func TestRestartKeepsTranscript(t *testing.T) {
	url := startBackend(t, "")
	_, out := runClient(t,
		cmds("START", "WAIT_LIVE", "SLEEP 1200", "STOP", "WAIT_IDLE",
			"START", "WAIT_LIVE", "SLEEP 1200", "STOP", "WAIT_IDLE", "PRINT", "QUIT"),
		"-server", url, "-wav", "data/tone.wav")
	text := transcriptLine(t, out)
	if strings.Count(text, "speech]") < 2 {
		t.Errorf("transcript = %q, want segments from both cycles", text)
	}
}

func TestClearEmptiesTranscript(t *testing.T) {
	url := startBackend(t, "")
	_, out := runClient(t,
		cmds("START", "WAIT_LIVE", "SLEEP 1200", "STOP", "WAIT_IDLE", "CLEAR", "PRINT", "QUIT"),
		"-server", url, "-wav", "data/tone.wav")
	if text := transcriptLine(t, out); text != "" {
		t.Errorf("transcript after CLEAR = %q", text)
	}
	if !strings.Contains(out, "Cleared.") {
		t.Errorf("missing Cleared. status:\n%s", out)
	}
}

func TestTokenRejected(t *testing.T) {
	url := startBackend(t, "secret")
	_, out := runClient(t,
		cmds("START", "WAIT_IDLE", "STATUS", "QUIT"),
		"-server", url, "-token", "wrong", "-wav", "data/tone.wav")
	if !strings.Contains(out, "STATE failed Connection error") {
		t.Errorf("expected a connection failure:\n%s", out)
	}
}

func TestTokenAccepted(t *testing.T) {
	url := startBackend(t, "secret")
	_, out := runClient(t,
		cmds("START", "WAIT_LIVE", "STOP", "WAIT_IDLE", "QUIT"),
		"-server", url, "-token", "secret", "-wav", "data/tone.wav")
	if !strings.Contains(out, "STATE live Listening...") {
		t.Errorf("expected a live session:\n%s", out)
	}
}

func TestServerDown(t *testing.T) {
	_, out := runClient(t,
		cmds("START", "WAIT_IDLE", "QUIT"),
		"-server", "http://127.0.0.1:1", "-wav", "data/tone.wav")
	if !strings.Contains(out, "Connection error") {
		t.Errorf("expected a connection error status:\n%s", out)
	}
}
