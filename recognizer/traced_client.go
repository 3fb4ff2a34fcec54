package recognizer

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"
)

// uploadClient posts recognition requests and measures where the time of
// each one went. Requests share a small keep-alive pool since a backend
// sends one upload per chunk to the same host.
type uploadClient struct {
	http *http.Client
}

func newUploadClient() *uploadClient {
	return &uploadClient{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        8,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
			Timeout: 60 * time.Second,
		},
	}
}

type uploadResponse struct {
	Body    []byte
	Status  int
	Header  http.Header
	Network *NetworkMetrics
}

// phaseClock collects httptrace timestamps for one request. Callbacks run on
// the transport's goroutines but never concurrently for a single request.
type phaseClock struct {
	m NetworkMetrics

	getConn, dns, tcp, tls   time.Time
	gotConn, headers, wrote  time.Time
	firstByte, requestIssued time.Time
}

func (c *phaseClock) attach(ctx context.Context) context.Context {
	return httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GetConn: func(string) { c.getConn = time.Now() },
		GotConn: func(info httptrace.GotConnInfo) {
			c.gotConn = time.Now()
			c.m.ConnWait = c.gotConn.Sub(c.getConn)
			c.m.ConnReused = info.Reused
		},
		DNSStart:          func(httptrace.DNSStartInfo) { c.dns = time.Now() },
		DNSDone:           func(httptrace.DNSDoneInfo) { c.m.DNS = time.Since(c.dns) },
		ConnectStart:      func(string, string) { c.tcp = time.Now() },
		ConnectDone:       func(string, string, error) { c.m.TCP = time.Since(c.tcp) },
		TLSHandshakeStart: func() { c.tls = time.Now() },
		TLSHandshakeDone:  func(tls.ConnectionState, error) { c.m.TLS = time.Since(c.tls) },
		WroteHeaders: func() {
			c.headers = time.Now()
			c.m.ReqHeaders = c.headers.Sub(c.gotConn)
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			c.wrote = time.Now()
			c.m.ReqBody = c.wrote.Sub(c.headers)
		},
		GotFirstResponseByte: func() {
			c.firstByte = time.Now()
			c.m.TTFB = c.firstByte.Sub(c.wrote)
		},
	})
}

// done closes the clock once the body has been read.
func (c *phaseClock) done() *NetworkMetrics {
	if !c.firstByte.IsZero() {
		c.m.Download = time.Since(c.firstByte)
	}
	c.m.Total = time.Since(c.requestIssued)
	m := c.m
	return &m
}

func (u *uploadClient) do(req *http.Request) (*uploadResponse, error) {
	clock := &phaseClock{requestIssued: time.Now()}
	resp, err := u.http.Do(req.WithContext(clock.attach(req.Context())))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &uploadResponse{
		Body:    body,
		Status:  resp.StatusCode,
		Header:  resp.Header,
		Network: clock.done(),
	}, nil
}

// warm sends a HEAD to url so the first upload finds an open connection.
// It returns the request's network phases, or nil when the host is
// unreachable.
func (u *uploadClient) warm(ctx context.Context, url string) *NetworkMetrics {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil
	}
	resp, err := u.do(req)
	if err != nil {
		return nil
	}
	return resp.Network
}
