package log

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupLogDir(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	SetDir(tmp)
	t.Cleanup(func() { Close(); SetDir("") })
	return tmp
}

func TestResolveDirFlag(t *testing.T) {
	got, err := ResolveDir("/tmp/mylog")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/mylog" {
		t.Errorf("got %q, want /tmp/mylog", got)
	}
}

func TestResolveDirFlagRelative(t *testing.T) {
	got, err := ResolveDir("logs")
	if err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(wd, "logs")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveDirEnv(t *testing.T) {
	t.Setenv("LIVENOTES_LOG_PATH", "/tmp/livenotes-env-log")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/livenotes-env-log" {
		t.Errorf("got %q, want /tmp/livenotes-env-log", got)
	}
}

func TestResolveDirDefault(t *testing.T) {
	t.Setenv("LIVENOTES_LOG_PATH", "")
	got, err := ResolveDir("")
	if err != nil {
		t.Fatal(err)
	}
	if got == "" {
		t.Error("expected non-empty default directory")
	}
}

func TestInitCreatesFiles(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"diagnostics_log.txt", "transcribe_log.txt"} {
		path := filepath.Join(tmp, name)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}
}

func TestTranscriptionText(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	TranscriptionText("replace front pads")

	data, err := os.ReadFile(filepath.Join(tmp, "transcribe_log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	line := string(data)
	if !strings.Contains(line, "replace front pads") {
		t.Errorf("transcribe_log.txt missing text, got: %q", line)
	}
	// format: "2006-01-02 15:04:05\t[pid]\ttext\n"
	if strings.Count(line, "\t") != 2 {
		t.Errorf("expected tab-separated format, got: %q", line)
	}
}

func TestStreamMetricsWritten(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}
	StreamMetrics(StreamMetricsData{ConnectMs: 12, SentChunks: 3, RecvFinal: 1})
	StreamState("failed", errors.New("boom"))

	data, err := os.ReadFile(filepath.Join(tmp, "diagnostics_log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	diag := string(data)
	for _, want := range []string{"stream_transcription", "connect_ms=12", "sent_chunks=3", "stream_state", "state=failed", "boom"} {
		if !strings.Contains(diag, want) {
			t.Errorf("diagnostics missing %q:\n%s", want, diag)
		}
	}
}

func TestUploadWritten(t *testing.T) {
	tmp := setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}
	Upload("openai", UploadData{TTFBMs: 42, TotalMs: 80, UntracedMs: 3, ConnReused: true})

	data, err := os.ReadFile(filepath.Join(tmp, "diagnostics_log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	diag := string(data)
	for _, want := range []string{"upload", "provider=openai", "ttfb_ms=42", "untraced_ms=3", "conn_reused=true"} {
		if !strings.Contains(diag, want) {
			t.Errorf("diagnostics missing %q:\n%s", want, diag)
		}
	}
}

func TestInitWriter(t *testing.T) {
	t.Cleanup(Close)
	var buf bytes.Buffer
	InitWriter(&buf, false)
	Infof("listening on %s", ":8000")
	TranscriptionText("ignored without a transcript file")
	if !strings.Contains(buf.String(), "listening on :8000") {
		t.Errorf("writer output missing message: %q", buf.String())
	}
}

func TestLoggingBeforeInitIsNoop(t *testing.T) {
	Close()
	Info("dropped")
	Warnf("dropped %d", 1)
	StreamMetrics(StreamMetricsData{})
	TranscriptionText("dropped")
}

func TestCloseIdempotent(t *testing.T) {
	setupLogDir(t)

	if err := Init(); err != nil {
		t.Fatal(err)
	}
	Close()
	Close() // should not panic
}
