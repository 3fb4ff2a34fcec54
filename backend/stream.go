package backend

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"livenotes/encoder"
	"livenotes/log"
	"livenotes/metrics"
	"livenotes/recognizer"
	"livenotes/transcriber"
)

// streamConn serves one client socket. Audio accumulates until chunkBytes
// are buffered, then the buffer is recognized and sent as a partial. The
// flush message recognizes the remainder and always answers with a final.
type streamConn struct {
	ws         *websocket.Conn
	rec        recognizer.Recognizer
	chunkBytes int
	timeout    time.Duration
	metrics    *metrics.Metrics

	writeMu sync.Mutex
	buf     []byte
	done    chan struct{}
}

func newStreamConn(ws *websocket.Conn, rec recognizer.Recognizer, chunkBytes int, timeout time.Duration, m *metrics.Metrics) *streamConn {
	return &streamConn{
		ws:         ws,
		rec:        rec,
		chunkBytes: chunkBytes,
		timeout:    timeout,
		metrics:    m,
		done:       make(chan struct{}),
	}
}

func (c *streamConn) run(ctx context.Context) {
	defer func() {
		close(c.done)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.pingLoop()

	if err := c.send(transcriber.Event{Kind: transcriber.EventReady}); err != nil {
		return
	}

	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Warnf("backend read: %v", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		switch typ {
		case websocket.BinaryMessage:
			c.buf = append(c.buf, data...)
			if len(c.buf) >= c.chunkBytes {
				if !c.recognize(ctx, transcriber.EventPartial) {
					return
				}
			}
		case websocket.TextMessage:
			if string(data) != transcriber.FlushMessage {
				continue
			}
			if !c.recognize(ctx, transcriber.EventFinal) {
				return
			}
		}
	}
}

// recognize transcribes and clears the buffer, then reports the result as
// kind. Empty partials are not sent; a final is sent even after an error so
// the client can close. It returns false once the socket is unusable.
func (c *streamConn) recognize(ctx context.Context, kind transcriber.EventKind) bool {
	pcm := c.buf
	c.buf = nil
	final := kind == transcriber.EventFinal

	var text string
	if len(pcm) > 0 {
		rctx, cancel := context.WithTimeout(ctx, c.timeout)
		start := time.Now()
		res, err := c.rec.Transcribe(rctx, pcm)
		cancel()
		elapsed := time.Since(start)

		audioS := float64(len(pcm)) / encoder.BytesPerSec
		log.Recognition(c.rec.Name(), audioS, final, float64(elapsed.Milliseconds()), err)
		c.metrics.Recognition(elapsed.Seconds(), err)
		if err != nil {
			if c.send(transcriber.Event{Kind: transcriber.EventError, Message: "Transcription failed: " + err.Error()}) != nil {
				return false
			}
			if !final {
				return true
			}
		} else {
			text = res.Text
		}
	}

	if !final && text == "" {
		return true
	}
	return c.send(transcriber.Event{Kind: kind, Text: text}) == nil
}

func (c *streamConn) send(ev transcriber.Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(ev)
}

func (c *streamConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
