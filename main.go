package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"livenotes/audio"
	"livenotes/beep"
	"livenotes/config"
	"livenotes/doctor"
	"livenotes/log"
	"livenotes/metrics"
	"livenotes/pipeline"
	"livenotes/shutdown"
	"livenotes/transcriber"
)

var version = "dev"

type options struct {
	configPath string
	server     string
	token      string
	device     string
	setup      bool
	logPath    string
	metrics    string
	profile    string
	test       bool
	doctor     bool
	beep       bool
	autoStop   time.Duration
	wav        string
	realtime   bool
	version    bool
}

func parseFlags(args []string, errOut io.Writer) (*options, error) {
	fs := flag.NewFlagSet("livenotes", flag.ContinueOnError)
	fs.SetOutput(errOut)
	o := &options{}
	fs.StringVar(&o.configPath, "config", os.Getenv("LIVENOTES_CONFIG"), "YAML config file")
	fs.StringVar(&o.server, "server", "", "Transcription server base URL (overrides config)")
	fs.StringVar(&o.token, "token", "", "Bearer token sent to the server (overrides config)")
	fs.StringVar(&o.device, "device", "", "Use the microphone whose name contains this text")
	fs.BoolVar(&o.setup, "setup", false, "Select microphone device interactively")
	fs.StringVar(&o.logPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	fs.StringVar(&o.metrics, "metrics", "", "Serve prometheus metrics on this address (e.g. :9090)")
	fs.StringVar(&o.profile, "profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	fs.BoolVar(&o.test, "test", false, "Test mode (headless, stdin-driven)")
	fs.BoolVar(&o.beep, "beep", true, "Play a cue when streaming starts, stops or fails")
	fs.DurationVar(&o.autoStop, "autostop", 0, "Stop streaming after this long without voice (e.g. 30s, 0 = never)")
	fs.BoolVar(&o.doctor, "doctor", false, "Run system diagnostics and exit")
	fs.StringVar(&o.wav, "wav", "", "Capture from a 16-bit mono WAV file instead of the microphone")
	fs.BoolVar(&o.realtime, "realtime", true, "Feed -wav audio at its natural pace")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return o, nil
}

// apply lets flags win over the config file and environment.
func (o *options) apply(cfg *config.Config) error {
	if o.server != "" {
		cfg.Client.Server = o.server
	}
	if o.token != "" {
		cfg.Client.Token = o.token
	}
	if o.device != "" {
		cfg.Client.Device = o.device
	}
	if o.metrics != "" {
		cfg.Client.MetricsAddress = o.metrics
	}
	if o.logPath != "" {
		cfg.Logging.Path = o.logPath
	}
	return cfg.Client.Validate()
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if opts.version {
		fmt.Printf("livenotes %s\n", version)
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := opts.apply(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logPath, err := log.ResolveDir(cfg.Logging.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	initCrashLog()
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	if opts.profile != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", opts.profile)
			if err := http.ListenAndServe(opts.profile, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if !opts.beep || opts.test || opts.doctor {
		beep.Disable()
	}

	m := metrics.New()
	if addr := cfg.Client.MetricsAddress; addr != "" {
		go serveMetrics(addr, m)
	}

	actx, audioDone, err := openAudio(opts)
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing audio: %v\n", err)
		return 1
	}
	defer actx.Close()

	var dev *audio.DeviceInfo
	if opts.setup && opts.wav == "" {
		dev, err = audio.SelectDevice(actx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Device selection cancelled: %v\n", err)
			return 1
		}
	} else if dev, err = audio.FindDevice(actx, cfg.Client.Device); err != nil {
		log.Warnf("device lookup failed: %v", err)
		fmt.Fprintf(os.Stderr, "Warning: %v, falling back to default device\n", err)
		dev = nil
	}

	if opts.doctor {
		ctx, stop := shutdown.Context(context.Background())
		defer stop()
		return doctor.Run(ctx, os.Stdout, doctor.Options{
			Server:        cfg.Client.Server,
			Token:         cfg.Client.Token,
			Audio:         actx,
			Device:        dev,
			SkipClipboard: opts.test,
		})
	}

	endpoint, err := transcriber.EndpointURL(cfg.Client.Server)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	dial := transcriber.WebSocketDialer(endpoint, cfg.Client.Token)
	src := audio.NewSource(actx, dev, m)

	if opts.test {
		l := newHeadlessListener(os.Stdout)
		p := pipeline.New(src, dial, endpoint, l, m)
		defer p.Close()

		ctx, stop := shutdown.Context(context.Background())
		defer stop()
		if err := runHeadless(ctx, p, os.Stdin, l, audioDone); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	l := &programListener{}
	p := pipeline.New(src, dial, endpoint, l, m)
	defer p.Close()

	prog := NewTUIProgram(p, l, endpoint, deviceLineText(dev), opts.autoStop)

	sigCh := make(chan os.Signal, 1)
	shutdown.Notify(sigCh)
	go func() {
		<-sigCh
		prog.Quit()
	}()

	if _, err := prog.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// openAudio returns the live audio backend, or a file-fed fake with -wav.
// audioDone is nil unless the fake is in use.
func openAudio(opts *options) (audio.Context, func() <-chan struct{}, error) {
	if opts.wav == "" {
		ctx, err := audio.NewContext()
		return ctx, nil, err
	}
	fake, err := audio.NewFakeContextFromWAV(opts.wav, opts.realtime)
	if err != nil {
		return nil, nil, err
	}
	done := func() <-chan struct{} {
		if c := fake.Last(); c != nil {
			return c.AudioDone()
		}
		return nil
	}
	return fake, done, nil
}

func serveMetrics(addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Infof("metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("metrics server error: %v", err)
	}
}

// initCrashLog sends runtime crash output to crash_log.txt in the log
// directory, including crashes inside cgo audio callbacks.
func initCrashLog() {
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
		return
	}
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}

func deviceLineText(dev *audio.DeviceInfo) string {
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT!)"
		}
	}
	return "mic: " + name + suffix
}
