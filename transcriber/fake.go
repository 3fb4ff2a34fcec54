package transcriber

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Frame is one message written to a FakeChannel.
type Frame struct {
	Type MessageType
	Data []byte
}

type inbound struct {
	typ  MessageType
	data []byte
	err  error
}

// FakeChannel is an in-memory Channel. Writes are recorded; reads are fed by
// Push and end with CloseRemote or Fail. Closing the local side ends reads
// with io.EOF.
type FakeChannel struct {
	mu       sync.Mutex
	sent     []Frame
	closes   int
	writeErr error

	in     chan inbound
	closed chan struct{}
	once   sync.Once
}

func NewFakeChannel() *FakeChannel {
	return &FakeChannel{
		in:     make(chan inbound, 64),
		closed: make(chan struct{}),
	}
}

// FakeDialer returns a DialFunc that hands out ch, or err if non-nil.
func FakeDialer(ch *FakeChannel, err error) DialFunc {
	return func(ctx context.Context) (Channel, error) {
		if err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return ch, nil
	}
}

func (f *FakeChannel) WriteBinary(_ context.Context, data []byte) error {
	return f.record(MessageBinary, data)
}

func (f *FakeChannel) WriteText(_ context.Context, text string) error {
	return f.record(MessageText, []byte(text))
}

func (f *FakeChannel) record(typ MessageType, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	select {
	case <-f.closed:
		return errors.New("write on closed channel")
	default:
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, Frame{Type: typ, Data: cp})
	return nil
}

func (f *FakeChannel) Read(ctx context.Context) (MessageType, []byte, error) {
	select {
	case msg := <-f.in:
		return msg.typ, msg.data, msg.err
	case <-f.closed:
		return 0, nil, io.EOF
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (f *FakeChannel) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	f.once.Do(func() { close(f.closed) })
	return nil
}

// Push queues a text message for the reader.
func (f *FakeChannel) Push(text string) {
	f.in <- inbound{typ: MessageText, data: []byte(text)}
}

func (f *FakeChannel) PushBinary(data []byte) {
	f.in <- inbound{typ: MessageBinary, data: data}
}

// CloseRemote simulates the server closing the connection normally.
func (f *FakeChannel) CloseRemote() {
	f.in <- inbound{err: io.EOF}
}

// Fail makes the next read return err.
func (f *FakeChannel) Fail(err error) {
	f.in <- inbound{err: err}
}

// FailWrites makes every later write return err.
func (f *FakeChannel) FailWrites(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

func (f *FakeChannel) Sent() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Frame(nil), f.sent...)
}

func (f *FakeChannel) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// Closed is closed once the local side has called Close.
func (f *FakeChannel) Closed() <-chan struct{} {
	return f.closed
}
