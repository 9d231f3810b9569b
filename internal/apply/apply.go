package apply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/snapfsio/snapfs-agent-mysql/internal/event"
	"github.com/snapfsio/snapfs-agent-mysql/internal/store"
)

const (
	DefaultMaxAttempts   = 3
	DefaultRetryInterval = 200 * time.Millisecond
)

// BatchStore is the part of *store.Store the applier needs.
type BatchStore interface {
	ApplyBatch(ctx context.Context, b event.Batch) (store.ApplyResult, error)
}

// ApplyError reports a batch that did not commit.
type ApplyError struct {
	BatchID  string
	Attempts int
	// Fatal is set when retrying cannot help.
	Fatal bool
	Cause error
}

func (e *ApplyError) Error() string {
	kind := "transient"
	if e.Fatal {
		kind = "fatal"
	}
	return fmt.Sprintf("apply batch %s: %s after %d attempt(s): %v", e.BatchID, kind, e.Attempts, e.Cause)
}

func (e *ApplyError) Unwrap() error {
	return e.Cause
}

// IsFatal reports whether err is an ApplyError that should drop the batch.
func IsFatal(err error) bool {
	var ae *ApplyError
	return errors.As(err, &ae) && ae.Fatal
}

// Applier applies batches with bounded retries.
type Applier struct {
	store       BatchStore
	maxAttempts int
	interval    time.Duration
	tracer      trace.Tracer
	logger      *slog.Logger
}

// Option configures an Applier.
type Option func(*Applier)

// WithMaxAttempts bounds the attempts per batch, first try included.
func WithMaxAttempts(n int) Option {
	return func(a *Applier) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// WithRetryInterval sets the pause between attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(a *Applier) {
		if d >= 0 {
			a.interval = d
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(a *Applier) {
		if t != nil {
			a.tracer = t
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Applier) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an Applier over s.
func New(s BatchStore, opts ...Option) *Applier {
	a := &Applier{
		store:       s,
		maxAttempts: DefaultMaxAttempts,
		interval:    DefaultRetryInterval,
		tracer:      otel.Tracer("snapfs-agent/apply"),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply commits b or returns an *ApplyError.
func (a *Applier) Apply(ctx context.Context, b event.Batch) (store.ApplyResult, error) {
	ctx, span := a.tracer.Start(ctx, "apply.batch", trace.WithAttributes(
		attribute.String("batch_id", b.ID),
		attribute.Int("events", len(b.Events)),
	))
	defer span.End()

	attempts := 0
	op := func() (store.ApplyResult, error) {
		attempts++
		res, err := a.store.ApplyBatch(ctx, b)
		if err == nil {
			return res, nil
		}
		if store.IsFatal(err) {
			return res, backoff.Permanent(err)
		}
		a.logger.Warn("transient store error",
			slog.String("batch_id", b.ID),
			slog.Int("attempt", attempts),
			slog.Any("error", err),
		)
		return res, err
	}

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(a.interval)),
		backoff.WithMaxTries(uint(a.maxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		aerr := &ApplyError{
			BatchID:  b.ID,
			Attempts: attempts,
			Fatal:    store.IsFatal(err),
			Cause:    err,
		}
		span.RecordError(aerr)
		span.SetStatus(codes.Error, aerr.Error())
		return store.ApplyResult{}, aerr
	}

	span.SetAttributes(
		attribute.Int("applied", res.Applied),
		attribute.Int("skipped", res.Skipped),
	)
	return res, nil
}
