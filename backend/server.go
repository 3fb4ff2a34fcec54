// Package backend is a reference transcription server for the streaming
// protocol: binary PCM16 frames in, JSON transcript events out.
package backend

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"livenotes/encoder"
	"livenotes/log"
	"livenotes/metrics"
	"livenotes/recognizer"
	"livenotes/transcriber"
)

const (
	HealthPath = transcriber.HealthPath

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Options struct {
	Recognizer recognizer.Recognizer
	// ChunkSeconds of buffered audio trigger a partial recognition.
	ChunkSeconds float64
	// Token, when set, must arrive as "Authorization: Bearer <token>".
	Token            string
	RecognizeTimeout time.Duration
	// ConnectRate limits new sockets per second. Zero disables the limit.
	ConnectRate float64
	Metrics     *metrics.Metrics
}

type Server struct {
	opts       Options
	chunkBytes int
	limiter    *rate.Limiter
	echo       *echo.Echo
}

func New(opts Options) *Server {
	if opts.ChunkSeconds <= 0 {
		opts.ChunkSeconds = 2
	}
	if opts.RecognizeTimeout <= 0 {
		opts.RecognizeTimeout = 30 * time.Second
	}
	if opts.Recognizer == nil {
		opts.Recognizer = recognizer.NewEcho()
	}
	chunk := int(opts.ChunkSeconds * encoder.BytesPerSec)
	chunk -= chunk % 2

	s := &Server{opts: opts, chunkBytes: chunk}
	if opts.ConnectRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.ConnectRate), max(1, int(opts.ConnectRate)))
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET(transcriber.EndpointPath, s.handleStream)
	e.GET(HealthPath, s.handleHealth)
	e.POST(HealthPath, s.handleHealth)
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics.Handler()))
	}
	s.echo = e
	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(addr string) error {
	log.Infof("backend listening on %s recognizer=%s chunk=%.1fs", addr, s.opts.Recognizer.Name(), s.opts.ChunkSeconds)
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) authorized(r *http.Request) bool {
	if s.opts.Token == "" {
		return true
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && got == s.opts.Token
}

func (s *Server) handleStream(c echo.Context) error {
	if !s.authorized(c.Request()) {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid token")
	}
	if s.limiter != nil && !s.limiter.Allow() {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many connections")
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warnf("websocket upgrade failed: %v", err)
		return nil
	}

	s.opts.Metrics.BackendSessionOpened()
	defer s.opts.Metrics.BackendSessionClosed()

	conn := newStreamConn(ws, s.opts.Recognizer, s.chunkBytes, s.opts.RecognizeTimeout, s.opts.Metrics)
	conn.run(c.Request().Context())
	return nil
}
