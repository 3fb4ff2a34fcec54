package main

import (
	"context"
	"sync"
	"time"

	"livenotes/transcriber"
)

type fakeController struct {
	mu       sync.Mutex
	state    transcriber.State
	status   string
	text     string
	at       time.Time
	startErr error
	stayIdle bool

	starts, stops, clears int
}

func (f *fakeController) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	if !f.stayIdle {
		f.state = transcriber.Live
		f.status = "Listening..."
	}
	return nil
}

func (f *fakeController) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.state = transcriber.Idle
	f.status = "Stopped."
}

func (f *fakeController) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	f.text = ""
}

func (f *fakeController) State() transcriber.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeController) Status() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeController) Transcript() (string, time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text, f.at
}

func (f *fakeController) counts() (starts, stops, clears int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops, f.clears
}
