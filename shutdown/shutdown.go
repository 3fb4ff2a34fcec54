// Package shutdown turns termination signals into channel and context events.
package shutdown

import (
	"context"
	"os"
	"os/signal"
)

func Notify(ch chan os.Signal) {
	signal.Notify(ch, signals...)
}

// Context is cancelled on the first termination signal. The returned stop
// function releases the signal handler.
func Context(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, signals...)
}
