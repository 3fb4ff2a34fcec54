package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"livenotes/log"
	"livenotes/transcriber"
)

const (
	defaultWait  = 10 * time.Second
	pollInterval = 10 * time.Millisecond
)

type command struct {
	name string
	dur  time.Duration
}

// parseCommand reads one line of the headless protocol. SLEEP takes
// milliseconds; the WAIT commands take an optional timeout in milliseconds.
func parseCommand(line string) (command, bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return command{}, false, nil
	}
	cmd := command{name: strings.ToUpper(fields[0])}
	switch cmd.name {
	case "START", "STOP", "CLEAR", "PRINT", "STATUS", "QUIT":
		if len(fields) > 1 {
			return command{}, false, fmt.Errorf("%s takes no argument", cmd.name)
		}
		return cmd, true, nil
	case "SLEEP", "WAIT_LIVE", "WAIT_IDLE", "WAIT_AUDIO_DONE":
	default:
		return command{}, false, fmt.Errorf("unknown command %q", fields[0])
	}

	if cmd.name != "SLEEP" {
		cmd.dur = defaultWait
	}
	switch len(fields) {
	case 1:
		if cmd.name == "SLEEP" {
			return command{}, false, fmt.Errorf("SLEEP needs a duration in ms")
		}
	case 2:
		ms, err := strconv.Atoi(fields[1])
		if err != nil || ms < 0 {
			return command{}, false, fmt.Errorf("%s: bad duration %q", cmd.name, fields[1])
		}
		cmd.dur = time.Duration(ms) * time.Millisecond
	default:
		return command{}, false, fmt.Errorf("%s takes one argument", cmd.name)
	}
	return cmd, true, nil
}

// headlessListener prints status changes, one per line.
type headlessListener struct {
	mu  sync.Mutex
	out io.Writer
}

func newHeadlessListener(out io.Writer) *headlessListener {
	return &headlessListener{out: out}
}

func (l *headlessListener) StatusChanged(st transcriber.State, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "STATE %s %s\n", st, msg)
}

func (l *headlessListener) TranscriptChanged(string, time.Time) {}

func (l *headlessListener) AudioLevel(float64) {}

func (l *headlessListener) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, format, args...)
}

// runHeadless drives ctl from a line protocol on in until QUIT, end of
// input or ctx cancellation. Replies share out with status lines. A failed
// WAIT aborts the run.
func runHeadless(ctx context.Context, ctl controller, in io.Reader, out *headlessListener, audioDone func() <-chan struct{}) error {
	printf := out.printf

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			ctl.Stop()
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			settle(ctx, ctl)
			return nil
		}
		cmd, ok, err := parseCommand(line)
		if err != nil {
			log.Warnf("headless: %v", err)
			printf("ERROR %v\n", err)
			continue
		}
		if !ok {
			continue
		}

		switch cmd.name {
		case "START":
			if err := ctl.Start(ctx); err != nil {
				printf("ERROR %v\n", err)
			}
		case "STOP":
			ctl.Stop()
		case "CLEAR":
			ctl.Clear()
		case "PRINT":
			text, _ := ctl.Transcript()
			printf("TRANSCRIPT %s\n", strings.TrimSpace(text))
		case "STATUS":
			printf("STATUS %s %s\n", ctl.State(), ctl.Status())
		case "SLEEP":
			select {
			case <-time.After(cmd.dur):
			case <-ctx.Done():
			}
		case "WAIT_LIVE":
			if err := waitState(ctx, ctl, transcriber.Live, cmd.dur); err != nil {
				ctl.Stop()
				return err
			}
		case "WAIT_IDLE":
			if err := waitState(ctx, ctl, transcriber.Idle, cmd.dur); err != nil {
				ctl.Stop()
				return err
			}
		case "WAIT_AUDIO_DONE":
			var done <-chan struct{}
			if audioDone != nil {
				done = audioDone()
			}
			if done == nil {
				printf("ERROR no file-fed capture running\n")
				continue
			}
			select {
			case <-done:
			case <-time.After(cmd.dur):
				ctl.Stop()
				return fmt.Errorf("WAIT_AUDIO_DONE: timed out after %s", cmd.dur)
			case <-ctx.Done():
			}
		case "QUIT":
			settle(ctx, ctl)
			return nil
		}
	}
}

// settle stops ctl and gives an in-flight flush time to deliver its final
// segment.
func settle(ctx context.Context, ctl controller) {
	ctl.Stop()
	if err := waitState(ctx, ctl, transcriber.Idle, defaultWait); err != nil {
		log.Warnf("headless: %v", err)
	}
}

func waitState(ctx context.Context, ctl controller, want transcriber.State, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
	for {
		if ctl.State() == want {
			return nil
		}
		select {
		case <-tick.C:
		case <-deadline.C:
			return fmt.Errorf("timed out after %s waiting for %s (state %s)", timeout, want, ctl.State())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
