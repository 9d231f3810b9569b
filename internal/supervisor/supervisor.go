// Package supervisor keeps one gateway session alive until shutdown.
//
// The supervisor is the only place that decides to reconnect. A session
// that fails is followed by a backoff wait and a new session, forever.
// Progress reported by a session resets the backoff attempt, so isolated
// drops after a healthy period start again from the base delay.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/snapfsio/snapfs-agent-mysql/internal/session"
)

// State is a supervisor lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateRunning
	StateBackoff
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateBackoff:
		return "backoff"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Connector runs one session to completion.
// *session.Dialer implements it.
type Connector interface {
	RunSession(ctx context.Context, hooks session.Hooks) error
}

// Clock abstracts the backoff wait.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Supervisor reconnects a Connector with exponential backoff.
type Supervisor struct {
	connector Connector
	backoff   Backoff
	clock     Clock
	logger    *slog.Logger
	state     atomic.Int32
	attempt   int
	// onState is called on every transition; used by tests.
	onState func(State)
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithBackoff(b Backoff) Option {
	return func(s *Supervisor) {
		s.backoff = b
	}
}

func WithClock(c Clock) Option {
	return func(s *Supervisor) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStateHook registers fn to observe state transitions.
func WithStateHook(fn func(State)) Option {
	return func(s *Supervisor) {
		s.onState = fn
	}
}

// New creates a Supervisor for c.
func New(c Connector, opts ...Option) *Supervisor {
	s := &Supervisor{
		connector: c,
		backoff:   Backoff{Base: DefaultBackoffBase, Max: DefaultBackoffMax},
		clock:     realClock{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) setState(st State, attrs ...any) {
	prev := State(s.state.Swap(int32(st)))
	if prev == st {
		return
	}
	s.logger.Info("supervisor "+st.String(), append([]any{slog.String("from", prev.String())}, attrs...)...)
	if s.onState != nil {
		s.onState(st)
	}
}

type sessionEvent struct {
	kind int
	err  error
}

const (
	evOpened = iota
	evProgress
	evEnded
)

// Run connects and reconnects until ctx is canceled. It returns nil once
// the last session has shut down.
func (s *Supervisor) Run(ctx context.Context) error {
	events := make(chan sessionEvent, 8)
	var progressPending atomic.Bool

	hooks := session.Hooks{
		OnOpen: func(string) {
			events <- sessionEvent{kind: evOpened}
		},
		OnProgress: func() {
			// Coalesce: one pending progress event is enough.
			if progressPending.CompareAndSwap(false, true) {
				events <- sessionEvent{kind: evProgress}
			}
		},
	}

	for {
		s.setState(StateConnecting, slog.Int("attempt", s.attempt))
		go func() {
			err := s.connector.RunSession(ctx, hooks)
			events <- sessionEvent{kind: evEnded, err: err}
		}()

	running:
		for {
			select {
			case ev := <-events:
				switch ev.kind {
				case evOpened:
					s.setState(StateRunning)
				case evProgress:
					progressPending.Store(false)
					if s.attempt != 0 {
						s.logger.Debug("progress, backoff reset", slog.Int("attempt", s.attempt))
					}
					s.attempt = 0
				case evEnded:
					if ctx.Err() != nil {
						s.stop()
						return nil
					}
					s.drainProgress(events, &progressPending)
					delay := s.backoff.Delay(s.attempt)
					s.setState(StateBackoff,
						slog.Int("attempt", s.attempt+1),
						slog.Duration("delay", delay),
						slog.Any("error", ev.err),
					)
					s.attempt++
					select {
					case <-s.clock.After(delay):
					case <-ctx.Done():
						s.stop()
						return nil
					}
					break running
				}
			case <-ctx.Done():
				s.setState(StateShuttingDown)
				// The session observes the same ctx; wait for it to finish
				// its in-flight batch and close.
				for ev := range events {
					if ev.kind == evEnded {
						break
					}
				}
				s.setState(StateStopped)
				return nil
			}
		}
	}
}

// drainProgress applies progress reported before the session ended.
func (s *Supervisor) drainProgress(events chan sessionEvent, pending *atomic.Bool) {
	for {
		select {
		case ev := <-events:
			if ev.kind == evProgress {
				pending.Store(false)
				s.attempt = 0
			}
		default:
			return
		}
	}
}

func (s *Supervisor) stop() {
	s.setState(StateShuttingDown)
	s.setState(StateStopped)
}
