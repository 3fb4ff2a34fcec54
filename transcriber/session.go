package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"livenotes/encoder"
	"livenotes/log"
	"livenotes/metrics"
)

const (
	outboundQueue = 32

	// finalizeMax bounds how long a stopping stream waits for the final
	// segment before closing the channel.
	finalizeMax = 3 * time.Second
)

// Observer receives state transitions and dispatched events. Calls are
// delivered in order, one at a time, never while the session lock is held.
type Observer interface {
	StateChanged(state State, err error)
	Event(ev Event)
}

type Stats struct {
	ConnectDur   time.Duration
	SessionDur   time.Duration
	SentChunks   int
	SentBytes    uint64
	Dropped      int
	RecvMessages int
	RecvPartial  int
	RecvFinal    int
	RecvError    int
	RecvUnknown  int
	Malformed    int
}

func (s Stats) AudioSeconds() float64 {
	return float64(s.SentBytes) / float64(encoder.BytesPerSec)
}

// Session owns one duplex channel per start/stop cycle and moves through
// Idle, Connecting, Live, Stopping and back to Idle. It is safe for
// concurrent use; SendAudio never blocks.
type Session struct {
	dial     DialFunc
	observer Observer
	metrics  *metrics.Metrics

	mu          sync.Mutex
	state       State
	cycle       *cycle
	last        Stats
	idleDrops   int
	pending     []func()
	dispatching bool
}

type cycle struct {
	ctx      context.Context
	cancel   context.CancelFunc
	conn     Channel
	out      chan []byte
	stopping chan struct{}
	done     chan struct{}
	started  time.Time
	ended    bool
	stats    Stats
	onEnd    func()

	finalized     chan struct{}
	finalizedOnce sync.Once
}

func NewSession(dial DialFunc, observer Observer, m *metrics.Metrics) *Session {
	return &Session{dial: dial, observer: observer, metrics: m}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns the counters of the current cycle, or of the last one if the
// session is idle.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycle != nil {
		st := s.cycle.stats
		st.SessionDur = time.Since(s.cycle.started)
		return st
	}
	return s.last
}

// Dropped counts chunks offered while no cycle was live.
func (s *Session) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idleDrops
}

// Done is closed when the current cycle ends. It returns a closed channel
// when there is no cycle.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycle == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.cycle.done
}

func (s *Session) Start(ctx context.Context) error {
	return s.StartCycle(ctx, nil)
}

// StartCycle starts like Start. onEnd, if not nil, runs once when this cycle
// is released, before its end is dispatched to the observer.
func (s *Session) StartCycle(ctx context.Context, onEnd func()) error {
	s.mu.Lock()
	switch s.state {
	case Idle:
	case Closed:
		s.mu.Unlock()
		return ErrSessionClosed
	default:
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrSessionActive, st)
	}
	cctx, cancel := context.WithCancel(ctx)
	c := &cycle{
		ctx:       cctx,
		cancel:    cancel,
		out:       make(chan []byte, outboundQueue),
		stopping:  make(chan struct{}),
		done:      make(chan struct{}),
		finalized: make(chan struct{}),
		started:   time.Now(),
		onEnd:     onEnd,
	}
	s.cycle = c
	s.setState(Connecting, nil)
	s.mu.Unlock()
	s.dispatch()

	go s.connect(c)
	return nil
}

// SendAudio queues one PCM16 chunk for transmission. Chunks offered outside
// the Live state, or while the outbound queue is full, are dropped.
func (s *Session) SendAudio(pcm []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cycle
	if s.state != Live || c == nil {
		s.idleDrops++
		s.metrics.ChunkDropped("not_live")
		return false
	}
	select {
	case c.out <- pcm:
		return true
	default:
		c.stats.Dropped++
		s.metrics.ChunkDropped("queue_full")
		return false
	}
}

// Stop asks a live stream to flush and close. A pending connect is
// abandoned. In any other state Stop does nothing.
func (s *Session) Stop() {
	s.mu.Lock()
	c := s.cycle
	switch s.state {
	case Live:
		s.setState(Stopping, nil)
		close(c.stopping)
		s.mu.Unlock()
		s.dispatch()
	case Connecting:
		ended := s.finish(c, nil)
		s.mu.Unlock()
		if ended {
			s.release(c)
		}
		s.dispatch()
	default:
		s.mu.Unlock()
	}
}

// Close ends any cycle without flushing and refuses further starts.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return nil
	}
	c := s.cycle
	ended := false
	if c != nil {
		ended = s.finish(c, nil)
	}
	s.setState(Closed, nil)
	s.mu.Unlock()
	if ended {
		s.release(c)
	}
	s.dispatch()
	return nil
}

func (s *Session) connect(c *cycle) {
	start := time.Now()
	conn, err := s.dial(c.ctx)

	s.mu.Lock()
	if c.ended {
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		ended := s.finish(c, fmt.Errorf("%w: %w", ErrConnectionFailure, err))
		s.mu.Unlock()
		if ended {
			s.release(c)
		}
		s.dispatch()
		return
	}
	c.conn = conn
	c.stats.ConnectDur = time.Since(start)
	s.setState(Live, nil)
	s.mu.Unlock()

	s.metrics.Connected(time.Since(start).Seconds())
	s.dispatch()

	go s.send(c)
	go s.receive(c)
}

// send is the only writer on the channel, so queued audio always precedes
// the flush frame. After the flush it waits for the final segment, or
// finalizeMax, before closing.
func (s *Session) send(c *cycle) {
	for {
		select {
		case pcm := <-c.out:
			if !s.write(c, pcm) {
				return
			}
		case <-c.stopping:
			if !s.drain(c) {
				return
			}
			if err := c.conn.WriteText(c.ctx, FlushMessage); err != nil {
				s.fail(c, err)
				return
			}
			select {
			case <-c.finalized:
			case <-time.After(finalizeMax):
			case <-c.ctx.Done():
			}
			c.conn.Close()
			return
		case <-c.ctx.Done():
			return
		}
	}
}

// drain writes whatever was queued before the stop request.
func (s *Session) drain(c *cycle) bool {
	for {
		select {
		case pcm := <-c.out:
			if !s.write(c, pcm) {
				return false
			}
		default:
			return true
		}
	}
}

func (s *Session) write(c *cycle, pcm []byte) bool {
	if err := c.conn.WriteBinary(c.ctx, pcm); err != nil {
		s.fail(c, err)
		return false
	}
	s.mu.Lock()
	if !c.ended {
		c.stats.SentChunks++
		c.stats.SentBytes += uint64(len(pcm))
	}
	s.mu.Unlock()
	s.metrics.ChunkSent(len(pcm))
	return true
}

func (s *Session) receive(c *cycle) {
	for {
		typ, data, err := c.conn.Read(c.ctx)
		if err != nil {
			s.fail(c, err)
			return
		}

		s.mu.Lock()
		c.stats.RecvMessages++
		s.mu.Unlock()

		if typ != MessageText {
			s.malformed(c, fmt.Errorf("%w: unexpected binary frame", ErrMalformedMessage), len(data))
			continue
		}
		ev, err := ParseEvent(data)
		if err != nil {
			s.malformed(c, err, len(data))
			continue
		}
		s.metrics.EventReceived(string(ev.Kind))

		s.mu.Lock()
		if c.ended {
			s.mu.Unlock()
			return
		}
		switch ev.Kind {
		case EventPartial:
			c.stats.RecvPartial++
		case EventFinal:
			c.stats.RecvFinal++
			if s.state == Stopping {
				c.finalizedOnce.Do(func() { close(c.finalized) })
			}
		case EventError:
			c.stats.RecvError++
		default:
			c.stats.RecvUnknown++
		}
		if ev.Dispatchable() && s.observer != nil {
			s.pending = append(s.pending, func() { s.observer.Event(ev) })
		}
		s.mu.Unlock()
		s.dispatch()
	}
}

func (s *Session) malformed(c *cycle, err error, size int) {
	log.MalformedMessage(err, size)
	s.metrics.MalformedMessage()
	s.mu.Lock()
	c.stats.Malformed++
	s.mu.Unlock()
}

// fail ends the cycle after a read or write error. Errors that follow a
// stop request, a cancelled context, or a normal close are not failures.
func (s *Session) fail(c *cycle, err error) {
	s.mu.Lock()
	var cause error
	switch {
	case s.state == Stopping || c.ctx.Err() != nil:
	case errors.Is(err, io.EOF):
		cause = ErrRemoteClosed
	default:
		cause = fmt.Errorf("%w: %w", ErrConnectionFailure, err)
	}
	ended := s.finish(c, cause)
	s.mu.Unlock()
	if ended {
		s.release(c)
	}
	s.dispatch()
}

// finish marks c ended and moves the session back to Idle, through Failed
// when cause is a connection failure. Requires s.mu. Reports whether this
// call ended the cycle.
func (s *Session) finish(c *cycle, cause error) bool {
	if c.ended {
		return false
	}
	c.ended = true
	c.cancel()
	c.stats.SessionDur = time.Since(c.started)
	s.last = c.stats
	if s.cycle == c {
		s.cycle = nil
	}
	if s.state == Closed {
		return true
	}
	if cause != nil && !errors.Is(cause, ErrRemoteClosed) {
		s.setState(Failed, cause)
	}
	s.setState(Idle, cause)
	return true
}

func (s *Session) release(c *cycle) {
	if c.conn != nil {
		c.conn.Close()
	}
	s.mu.Lock()
	st := c.stats
	s.mu.Unlock()
	if c.onEnd != nil {
		c.onEnd()
	}
	log.StreamMetrics(log.StreamMetricsData{
		ConnectMs:    float64(st.ConnectDur.Milliseconds()),
		TotalMs:      float64(st.SessionDur.Milliseconds()),
		AudioS:       st.AudioSeconds(),
		SentChunks:   st.SentChunks,
		SentKB:       float64(st.SentBytes) / 1024,
		Dropped:      st.Dropped,
		RecvMessages: st.RecvMessages,
		RecvPartial:  st.RecvPartial,
		RecvFinal:    st.RecvFinal,
		RecvError:    st.RecvError,
		Malformed:    st.Malformed,
	})
	close(c.done)
}

// setState records a transition and queues its notification. Requires s.mu.
func (s *Session) setState(st State, err error) {
	s.state = st
	s.metrics.State(int(st))
	log.StreamState(st.String(), err)
	if s.observer != nil {
		s.pending = append(s.pending, func() { s.observer.StateChanged(st, err) })
	}
}

// dispatch delivers queued notifications in order. Calls made from inside an
// observer only queue; the outer loop delivers them.
func (s *Session) dispatch() {
	s.mu.Lock()
	if s.dispatching {
		s.mu.Unlock()
		return
	}
	s.dispatching = true
	for len(s.pending) > 0 {
		fn := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		fn()
		s.mu.Lock()
	}
	s.dispatching = false
	s.mu.Unlock()
}
