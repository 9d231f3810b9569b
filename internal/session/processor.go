package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/snapfsio/snapfs-agent-mysql/internal/ack"
	"github.com/snapfsio/snapfs-agent-mysql/internal/apply"
	"github.com/snapfsio/snapfs-agent-mysql/internal/codec"
	"github.com/snapfsio/snapfs-agent-mysql/internal/event"
	"github.com/snapfsio/snapfs-agent-mysql/internal/store"
)

// Outcome says what happened to one inbound frame.
type Outcome string

const (
	OutcomeApplied      Outcome = "applied"
	OutcomeDropped      Outcome = "dropped"
	OutcomeMalformed    Outcome = "malformed"
	OutcomePong         Outcome = "pong"
	OutcomeGatewayError Outcome = "gateway_error"
	OutcomeFailed       Outcome = "failed"
)

// Result describes one handled frame.
type Result struct {
	Outcome Outcome
	Batch   event.Batch
	Apply   store.ApplyResult
	// Err is the codec or apply error for malformed, dropped and failed
	// frames.
	Err error
}

// Progress reports whether the frame counts as healthy traffic.
func (r Result) Progress() bool {
	return r.Outcome == OutcomeApplied || r.Outcome == OutcomePong
}

// Processor turns inbound frames into store writes and outbound frames.
// It holds no connection; replies go through the Sender.
type Processor struct {
	applier Applier
	sender  ack.Sender
	acks    *ack.Handler
	logger  *slog.Logger
	grace   time.Duration
}

// NewProcessor creates a Processor. grace bounds an apply that is still
// running when ctx is canceled.
func NewProcessor(applier Applier, sender ack.Sender, logger *slog.Logger, grace time.Duration) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}
	return &Processor{
		applier: applier,
		sender:  sender,
		acks:    ack.New(sender),
		logger:  logger,
		grace:   grace,
	}
}

// Pending returns the number of batches received but not acked.
func (p *Processor) Pending() int {
	return p.acks.Pending()
}

// Handle processes one text frame. A non-nil error means the session
// must fail: retries are exhausted or a reply could not be sent.
// Malformed frames and fatally failing batches are logged and reported
// in the Result, not as errors.
func (p *Processor) Handle(ctx context.Context, raw []byte) (Result, error) {
	frame, err := codec.Decode(raw)
	if err != nil {
		p.logger.Warn("dropping malformed frame", slog.Any("error", err))
		return Result{Outcome: OutcomeMalformed, Err: err}, nil
	}

	switch frame.Type {
	case codec.FramePing:
		if err := p.sender.Send(ctx, codec.EncodePong(frame.PingID)); err != nil {
			return Result{Outcome: OutcomeFailed, Err: err}, &ConnectionError{Op: "pong", Err: err}
		}
		return Result{Outcome: OutcomePong}, nil
	case codec.FrameError:
		p.logger.Warn("gateway error", slog.String("message", frame.Message))
		return Result{Outcome: OutcomeGatewayError}, nil
	default:
		return p.handleBatch(ctx, frame.Batch)
	}
}

func (p *Processor) handleBatch(ctx context.Context, b event.Batch) (Result, error) {
	p.acks.Track(b)

	applyCtx, cancel := p.applyContext(ctx)
	defer cancel()

	res, err := p.applier.Apply(applyCtx, b)
	if err != nil {
		p.acks.Drop(b)
		if apply.IsFatal(err) {
			p.logger.Error("dropping batch after fatal store error",
				slog.String("batch_id", b.ID),
				slog.Int("events", len(b.Events)),
				slog.Any("error", err),
			)
			return Result{Outcome: OutcomeDropped, Batch: b, Err: err}, nil
		}
		p.logger.Error("batch failed",
			slog.String("batch_id", b.ID),
			slog.Any("error", err),
		)
		return Result{Outcome: OutcomeFailed, Batch: b, Err: err}, err
	}

	if err := p.acks.OnApplied(applyCtx, b); err != nil {
		return Result{Outcome: OutcomeFailed, Batch: b, Apply: res, Err: err}, &ConnectionError{Op: "ack", Err: err}
	}
	p.logger.Info("batch applied",
		slog.String("batch_id", b.ID),
		slog.Int("events", len(b.Events)),
		slog.Int("applied", res.Applied),
		slog.Int("skipped", res.Skipped),
		slog.Int("conflicts", res.Conflicts),
	)
	return Result{Outcome: OutcomeApplied, Batch: b, Apply: res}, nil
}

// applyContext detaches the apply from ctx so a shutdown does not cancel
// a commit. Once ctx is canceled the apply gets the grace period to
// finish.
func (p *Processor) applyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	applyCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		t := time.NewTimer(p.grace)
		defer t.Stop()
		select {
		case <-t.C:
			p.logger.Warn("shutdown grace elapsed, abandoning in-flight apply",
				slog.Duration("grace", p.grace))
			cancel()
		case <-applyCtx.Done():
		}
	})
	return applyCtx, func() {
		stop()
		cancel()
	}
}
