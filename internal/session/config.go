package session

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/snapfsio/snapfs-agent-mysql/internal/event"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultPingInterval     = 15 * time.Second
	DefaultLivenessTimeout  = 45 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultShutdownGrace    = 10 * time.Second
	DefaultQueueDepth       = 16
)

// Config holds the per-connection settings.
type Config struct {
	// GatewayURL is the gateway base address, e.g. ws://localhost:8000.
	GatewayURL   string
	Subscription event.Subscription

	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	LivenessTimeout  time.Duration
	WriteTimeout     time.Duration
	ShutdownGrace    time.Duration
	QueueDepth       int
}

func (c *Config) setDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = DefaultLivenessTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = DefaultQueueDepth
	}
}

// StreamURL builds the subscription URL:
// {gateway}/stream?subject=...&durable=...&batch=...
func StreamURL(gateway string, sub event.Subscription) (string, error) {
	if gateway == "" {
		return "", errors.New("gateway url is empty")
	}
	u, err := url.Parse(gateway)
	if err != nil {
		return "", fmt.Errorf("invalid gateway url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported gateway scheme %q", u.Scheme)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	if !strings.HasSuffix(u.Path, "/stream") {
		u = u.JoinPath("stream")
	}

	q := u.Query()
	q.Set("subject", sub.Subject)
	q.Set("durable", sub.Durable)
	q.Set("batch", strconv.Itoa(sub.BatchSize))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
