// Package ack sends acknowledgments for batches the store has committed.
//
// The handler is the only code that emits ack frames. It sends one for a
// batch exactly when OnApplied is called for a delivery it is tracking,
// and the session calls OnApplied only after the applier returned
// without error. A batch that was never tracked, or was dropped, is
// never acked.
package ack

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/snapfsio/snapfs-agent-mysql/internal/codec"
	"github.com/snapfsio/snapfs-agent-mysql/internal/event"
)

// ErrNotPending is returned by OnApplied for a batch that is not tracked.
var ErrNotPending = errors.New("batch not pending")

// Sender writes one frame on the session's outbound channel.
type Sender interface {
	Send(ctx context.Context, frame []byte) error
}

// Handler tracks deliveries awaiting acknowledgment.
type Handler struct {
	sender Sender

	mu      sync.Mutex
	pending map[string]int // ack token -> outstanding deliveries
}

// New creates a Handler that acks through sender.
func New(sender Sender) *Handler {
	return &Handler{
		sender:  sender,
		pending: make(map[string]int),
	}
}

// Track records a received batch as pending.
func (h *Handler) Track(b event.Batch) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending[b.AckToken]++
}

// OnApplied acks a committed batch and stops tracking it.
// The delivery is released even when the send fails; the gateway then
// redelivers and the sequence gate turns the replay into a no-op.
func (h *Handler) OnApplied(ctx context.Context, b event.Batch) error {
	if !h.release(b.AckToken) {
		return fmt.Errorf("ack %s: %w", b.AckToken, ErrNotPending)
	}
	if err := h.sender.Send(ctx, codec.EncodeAck(b)); err != nil {
		return fmt.Errorf("ack %s: %w", b.AckToken, err)
	}
	return nil
}

// Drop forgets a delivery without acking it.
func (h *Handler) Drop(b event.Batch) {
	h.release(b.AckToken)
}

// Pending returns the number of deliveries awaiting an ack.
func (h *Handler) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.pending {
		n += c
	}
	return n
}

func (h *Handler) release(token string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.pending[token]
	if !ok {
		return false
	}
	if c <= 1 {
		delete(h.pending, token)
	} else {
		h.pending[token] = c - 1
	}
	return true
}
