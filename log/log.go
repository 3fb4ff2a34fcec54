package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog        zerolog.Logger
	diagFile       *os.File
	transcribeFile *os.File
	logMu          sync.Mutex
	logReady       bool
	pid            int
	dir            string
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absFromWd(flagPath)
	}

	// Priority 2: LIVENOTES_LOG_PATH environment variable
	if envPath := os.Getenv("LIVENOTES_LOG_PATH"); envPath != "" {
		return absFromWd(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absFromWd(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

// Init opens diagnostics_log.txt and transcribe_log.txt in Dir.
func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	transcribePath := filepath.Join(dir, "transcribe_log.txt")
	transcribeFile, err = os.OpenFile(transcribePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	diagLog = newLogger(diagFile, true)
	logReady = true
	return nil
}

// InitWriter sends diagnostics to w without touching the filesystem. The
// transcript file stays closed. Used by the backend, which logs to stderr.
func InitWriter(w io.Writer, color bool) {
	logMu.Lock()
	defer logMu.Unlock()
	pid = os.Getpid()
	diagLog = newLogger(w, !color)
	logReady = true
}

func newLogger(w io.Writer, noColor bool) zerolog.Logger {
	consoleWriter := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    noColor,
	}
	return zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transcribeFile != nil {
		transcribeFile.Close()
		transcribeFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

// TranscriptionText appends one finalized segment to transcribe_log.txt.
func TranscriptionText(text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if transcribeFile == nil {
		return
	}
	line := fmt.Sprintf("%s\t[%d]\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, text)
	transcribeFile.WriteString(line)
}

func StreamState(state string, err error) {
	if !logReady {
		return
	}
	ev := diagLog.Info()
	if err != nil {
		ev = diagLog.Warn().Err(err)
	}
	ev.Str("state", state).Msg("stream_state")
}

func MalformedMessage(err error, size int) {
	if !logReady {
		return
	}
	diagLog.Warn().Err(err).Int("bytes", size).Msg("malformed_message")
}

type StreamMetricsData struct {
	ConnectMs    float64
	TotalMs      float64
	AudioS       float64
	SentChunks   int
	SentKB       float64
	Dropped      int
	RecvMessages int
	RecvPartial  int
	RecvFinal    int
	RecvError    int
	Malformed    int
}

func StreamMetrics(m StreamMetricsData) {
	if !logReady {
		return
	}
	diagLog.Info().
		Float64("connect_ms", m.ConnectMs).
		Float64("total_ms", m.TotalMs).
		Float64("audio_s", m.AudioS).
		Int("sent_chunks", m.SentChunks).
		Float64("sent_kb", m.SentKB).
		Int("dropped", m.Dropped).
		Int("recv_messages", m.RecvMessages).
		Int("recv_partial", m.RecvPartial).
		Int("recv_final", m.RecvFinal).
		Int("recv_error", m.RecvError).
		Int("malformed", m.Malformed).
		Msg("stream_transcription")
}

func SessionStart(endpoint, device string, sampleRate uint32) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("endpoint", endpoint).
		Str("device", device).
		Uint32("sample_rate", sampleRate).
		Msg("session_start")
}

func SessionEnd(count int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("count", count).
		Msg("session_end")
}

// UploadData is the network breakdown of one recognizer request.
type UploadData struct {
	ConnWaitMs float64
	DNSMs      float64
	TCPMs      float64
	TLSMs      float64
	SendMs     float64
	TTFBMs     float64
	DownloadMs float64
	TotalMs    float64
	UntracedMs float64
	ConnReused bool
}

func Upload(provider string, d UploadData) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("provider", provider).
		Float64("conn_wait_ms", d.ConnWaitMs).
		Float64("dns_ms", d.DNSMs).
		Float64("tcp_ms", d.TCPMs).
		Float64("tls_ms", d.TLSMs).
		Float64("send_ms", d.SendMs).
		Float64("ttfb_ms", d.TTFBMs).
		Float64("download_ms", d.DownloadMs).
		Float64("total_ms", d.TotalMs).
		Float64("untraced_ms", d.UntracedMs).
		Bool("conn_reused", d.ConnReused).
		Msg("upload")
}

func Recognition(provider string, audioS float64, final bool, totalMs float64, err error) {
	if !logReady {
		return
	}
	ev := diagLog.Info()
	if err != nil {
		ev = diagLog.Error().Err(err)
	}
	ev.Str("provider", provider).
		Float64("audio_s", audioS).
		Bool("final", final).
		Float64("total_ms", totalMs).
		Msg("recognition")
}
