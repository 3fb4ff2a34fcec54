// Command transcribe-backend serves the streaming transcription endpoint
// backed by a configurable recognizer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/term"

	"livenotes/backend"
	"livenotes/config"
	"livenotes/log"
	"livenotes/metrics"
	"livenotes/recognizer"
	"livenotes/shutdown"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("LIVENOTES_CONFIG"), "YAML config file")
	addrFlag := flag.String("addr", "", "Listen address (overrides config)")
	providerFlag := flag.String("recognizer", "", "Recognizer: echo or openai (overrides config)")
	connectRate := flag.Float64("rate", 0, "Max new streams per second (0 = unlimited)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *addrFlag != "" {
		cfg.Backend.Address = *addrFlag
	}
	if *providerFlag != "" {
		cfg.Backend.Recognizer.Provider = *providerFlag
	}
	if err := cfg.Backend.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: backend config: %v\n", err)
		os.Exit(1)
	}

	log.InitWriter(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())))
	defer log.Close()

	rc := cfg.Backend.Recognizer
	rec, err := recognizer.New(rc.Provider, recognizer.Config{
		URL:      rc.URL,
		APIKey:   rc.APIKey,
		Model:    rc.Model,
		Language: rc.Language,
		Format:   rc.Format,
	})
	if err != nil {
		log.Errorf("recognizer init error: %v", err)
		os.Exit(1)
	}
	if w, ok := rec.(interface{ Warm() }); ok {
		go w.Warm()
	}

	srv := backend.New(backend.Options{
		Recognizer:       rec,
		ChunkSeconds:     cfg.Backend.ChunkSeconds,
		Token:            cfg.Backend.Token,
		RecognizeTimeout: rc.TimeoutDuration(),
		ConnectRate:      *connectRate,
		Metrics:          metrics.New(),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Backend.Address) }()

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	select {
	case err := <-errCh:
		if err != nil {
			log.Errorf("server error: %v", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Errorf("shutdown error: %v", err)
	}
}
