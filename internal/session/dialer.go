package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Dialer opens sessions against one gateway subscription.
type Dialer struct {
	cfg     Config
	url     string
	applier Applier
	ws      *websocket.Dialer
	logger  *slog.Logger
}

// Option configures a Dialer.
type Option func(*Dialer)

func WithLogger(l *slog.Logger) Option {
	return func(d *Dialer) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDialer validates cfg and prepares the subscription URL.
func NewDialer(cfg Config, applier Applier, opts ...Option) (*Dialer, error) {
	if err := cfg.Subscription.Validate(); err != nil {
		return nil, err
	}
	if applier == nil {
		return nil, fmt.Errorf("session: applier is required")
	}
	cfg.setDefaults()
	u, err := StreamURL(cfg.GatewayURL, cfg.Subscription)
	if err != nil {
		return nil, err
	}

	d := &Dialer{
		cfg:     cfg,
		url:     u,
		applier: applier,
		ws: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// URL returns the full stream URL the dialer connects to.
func (d *Dialer) URL() string {
	return d.url
}

// Dial performs the handshake and returns an open session.
func (d *Dialer) Dial(ctx context.Context) (*Session, error) {
	id := uuid.Must(uuid.NewV7()).String()
	logger := d.logger.With(slog.String("session_id", id))
	logger.Info("connecting", slog.String("url", d.url))

	conn, resp, err := d.ws.DialContext(ctx, d.url, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, &ConnectionError{Op: "dial", Err: err}
	}

	logger.Info("connected",
		slog.String("subject", d.cfg.Subscription.Subject),
		slog.String("durable", d.cfg.Subscription.Durable),
		slog.Int("batch", d.cfg.Subscription.BatchSize),
	)
	return newSession(id, d.cfg, conn, d.applier, logger), nil
}

// RunSession dials one session and runs it to completion.
func (d *Dialer) RunSession(ctx context.Context, hooks Hooks) error {
	s, err := d.Dial(ctx)
	if err != nil {
		return err
	}
	if hooks.OnOpen != nil {
		hooks.OnOpen(s.ID())
	}
	return s.Run(ctx, hooks)
}
