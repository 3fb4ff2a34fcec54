package transcriber

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

const (
	EndpointPath = "/api/speech/ws/transcribe"
	HealthPath   = "/api/speech/transcribe/health"

	writeTimeout = 10 * time.Second
	readLimit    = 1 << 20
)

// EndpointURL derives the websocket endpoint from the server base URL:
// https becomes wss, http becomes ws.
func EndpointURL(base string) (string, error) {
	return serverURL(base, EndpointPath, "ws", "wss")
}

// HealthURL is the plain HTTP health check next to the endpoint: wss
// becomes https, ws becomes http.
func HealthURL(base string) (string, error) {
	return serverURL(base, HealthPath, "http", "https")
}

func serverURL(base, path, plain, secure string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing server url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = secure
	case "http", "ws":
		u.Scheme = plain
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url %q has no host", base)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}

func WebSocketDialer(endpoint, token string) DialFunc {
	return func(ctx context.Context) (Channel, error) {
		headers := http.Header{}
		if token != "" {
			headers.Set("Authorization", "Bearer "+token)
		}
		conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{HTTPHeader: headers})
		if err != nil {
			return nil, err
		}
		conn.SetReadLimit(readLimit)
		return &wsChannel{conn: conn}, nil
	}
}

type wsChannel struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func (c *wsChannel) WriteBinary(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageBinary, data)
}

func (c *wsChannel) WriteText(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, []byte(text))
}

func (c *wsChannel) Read(ctx context.Context) (MessageType, []byte, error) {
	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
			return 0, nil, io.EOF
		}
		return 0, nil, err
	}
	if typ == websocket.MessageBinary {
		return MessageBinary, data, nil
	}
	return MessageText, data, nil
}

func (c *wsChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close(websocket.StatusNormalClosure, "")
	})
	return c.closeErr
}
