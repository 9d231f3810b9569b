package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/snapfsio/snapfs-agent-mysql/internal/event"
	"github.com/snapfsio/snapfs-agent-mysql/internal/store"
)

// State is the lifecycle position of a session.
type State int32

const (
	StateOpening State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Applier commits a batch to the store.
type Applier interface {
	Apply(ctx context.Context, b event.Batch) (store.ApplyResult, error)
}

// Hooks lets the owner of a session observe it. Nil funcs are skipped.
type Hooks struct {
	// OnOpen is called once the handshake succeeded.
	OnOpen func(sessionID string)
	// OnProgress is called after every frame handled successfully.
	OnProgress func()
}

var errWriterStopped = errors.New("writer stopped")

type outFrame struct {
	data   []byte
	result chan error
}

// Session is one open connection.
type Session struct {
	id     string
	cfg    Config
	conn   *websocket.Conn
	proc   *Processor
	logger *slog.Logger
	hooks  Hooks
	state  atomic.Int32

	frames   chan []byte
	outbound chan outFrame
	pongs    chan string
	readErr  chan error
	writeErr chan error

	done       chan struct{} // closed when Run stops taking frames
	stopWriter chan struct{}
	readerDone chan struct{}
	writerDone chan struct{}
}

func newSession(id string, cfg Config, conn *websocket.Conn, applier Applier, logger *slog.Logger) *Session {
	s := &Session{
		id:         id,
		cfg:        cfg,
		conn:       conn,
		logger:     logger,
		frames:     make(chan []byte, cfg.QueueDepth),
		outbound:   make(chan outFrame),
		pongs:      make(chan string, 1),
		readErr:    make(chan error, 1),
		writeErr:   make(chan error, 1),
		done:       make(chan struct{}),
		stopWriter: make(chan struct{}),
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	s.proc = NewProcessor(applier, s, logger, cfg.ShutdownGrace)
	s.state.Store(int32(StateOpen))
	return s
}

// ID returns the session id used in log lines.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.logger.Debug("session state", slog.String("from", prev.String()), slog.String("to", st.String()))
	}
}

// Run processes frames until the connection fails or ctx is canceled.
// It returns nil after a requested shutdown and the failure otherwise.
// Run may be called once.
func (s *Session) Run(ctx context.Context, hooks Hooks) error {
	s.hooks = hooks
	go s.readLoop()
	go s.writeLoop()

	err := s.loop(ctx)
	s.close()

	if ctx.Err() != nil {
		if err != nil {
			s.logger.Warn("session ended during shutdown", slog.Any("error", err))
		}
		return nil
	}
	return err
}

func (s *Session) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case err := <-s.readErr:
			return err
		case err := <-s.writeErr:
			return err
		case raw := <-s.frames:
			if err := s.handle(ctx, raw); err != nil {
				return err
			}
		}
	}
}

func (s *Session) handle(ctx context.Context, raw []byte) error {
	res, err := s.proc.Handle(ctx, raw)
	if err != nil {
		return err
	}
	if res.Progress() {
		s.progress()
	}
	return nil
}

func (s *Session) progress() {
	if s.hooks.OnProgress != nil {
		s.hooks.OnProgress()
	}
}

// Send queues frame for the writer and waits until it is on the wire.
func (s *Session) Send(ctx context.Context, frame []byte) error {
	req := outFrame{data: frame, result: make(chan error, 1)}
	select {
	case s.outbound <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.writerDone:
		return errWriterStopped
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.writerDone:
		select {
		case err := <-req.result:
			return err
		default:
			return errWriterStopped
		}
	}
}

func (s *Session) readLoop() {
	defer close(s.readerDone)

	extend := func() {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.LivenessTimeout))
	}
	extend()
	s.conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	s.conn.SetPingHandler(func(data string) error {
		extend()
		select {
		case s.pongs <- data:
		default:
		}
		return nil
	})

	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case s.readErr <- s.readError(err):
			default:
			}
			return
		}
		extend()
		if mt != websocket.TextMessage {
			s.logger.Debug("ignoring non-text message", slog.Int("type", mt))
			continue
		}
		select {
		case s.frames <- data:
		case <-s.done:
			return
		}
		// Sending may have blocked behind a slow apply.
		extend()
	}
}

func (s *Session) readError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &LivenessError{Timeout: s.cfg.LivenessTimeout}
	}
	return &ConnectionError{Op: "read", Err: err}
}

func (s *Session) writeLoop() {
	defer close(s.writerDone)

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	deadline := func() time.Time { return time.Now().Add(s.cfg.WriteTimeout) }
	fail := func(op string, err error) {
		select {
		case s.writeErr <- &ConnectionError{Op: op, Err: err}:
		default:
		}
	}

	for {
		select {
		case req := <-s.outbound:
			_ = s.conn.SetWriteDeadline(deadline())
			err := s.conn.WriteMessage(websocket.TextMessage, req.data)
			req.result <- err
			if err != nil {
				fail("write", err)
				return
			}
		case data := <-s.pongs:
			if err := s.conn.WriteControl(websocket.PongMessage, []byte(data), deadline()); err != nil {
				fail("pong", err)
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline()); err != nil {
				fail("ping", err)
				return
			}
		case <-s.stopWriter:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown")
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline())
			return
		}
	}
}

// close stops the goroutines and the socket. Frames still queued are
// not acked and will be redelivered.
func (s *Session) close() {
	s.setState(StateClosing)
	close(s.done)
	close(s.stopWriter)
	<-s.writerDone
	_ = s.conn.Close()
	<-s.readerDone
	if n := s.proc.Pending(); n > 0 {
		s.logger.Warn("closing with unacked batches", slog.Int("pending", n))
	}
	s.setState(StateClosed)
	s.logger.Info("session closed")
}
