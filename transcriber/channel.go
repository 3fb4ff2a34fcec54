package transcriber

import "context"

type MessageType int

const (
	MessageText MessageType = iota + 1
	MessageBinary
)

// Channel is a full-duplex message connection to the transcription server.
// Read returns io.EOF once the peer has closed normally. Close is idempotent.
type Channel interface {
	WriteBinary(ctx context.Context, data []byte) error
	WriteText(ctx context.Context, text string) error
	Read(ctx context.Context) (MessageType, []byte, error)
	Close() error
}

type DialFunc func(ctx context.Context) (Channel, error)
