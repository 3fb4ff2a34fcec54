package transcriber

import "errors"

var (
	ErrConnectionFailure = errors.New("connection failure")
	ErrMalformedMessage  = errors.New("malformed message")
	ErrSessionActive     = errors.New("session already active")
	ErrSessionClosed     = errors.New("session closed")

	// ErrRemoteClosed accompanies the Idle transition when the server ends a
	// live stream with a normal close.
	ErrRemoteClosed = errors.New("connection closed")
)

type State int

const (
	Idle State = iota
	Connecting
	Live
	Stopping
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Live:
		return "live"
	case Stopping:
		return "stopping"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	}
	return "unknown"
}
