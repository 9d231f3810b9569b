package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/snapfsio/snapfs-agent-mysql/internal/apply"
	"github.com/snapfsio/snapfs-agent-mysql/internal/event"
	"github.com/snapfsio/snapfs-agent-mysql/internal/session"
	"github.com/snapfsio/snapfs-agent-mysql/internal/store"
	"github.com/snapfsio/snapfs-agent-mysql/internal/testutil"
)

// Harness replays frames through the same processor a live session uses,
// against an isolated store.
type Harness struct {
	proc   *session.Processor
	sender *Recorder
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory SQLite database. updated_at
// columns come from a DeterministicClock, so runs are reproducible.
//
// Execution flow:
// 1. Create and migrate the in-memory store
// 2. Replay every frame through decode, apply and ack
// 3. Evaluate assertions against the replies and the store
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewDeterministicClock()

	st, err := store.Open(ctx, ":memory:", store.WithNow(clock.Now), store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate in-memory store: %w", err)
	}

	faulty, err := newFaultStore(st, scenario.Faults)
	if err != nil {
		return nil, err
	}

	attempts := scenario.MaxAttempts
	if attempts == 0 {
		attempts = apply.DefaultMaxAttempts
	}
	applier := apply.New(faulty,
		apply.WithMaxAttempts(attempts),
		apply.WithRetryInterval(0),
		apply.WithLogger(logger),
	)

	sender := &Recorder{}
	h := &Harness{
		proc:   session.NewProcessor(applier, sender, logger, session.DefaultShutdownGrace),
		sender: sender,
		logger: logger,
	}

	result := NewResult()
	for i, raw := range scenario.Frames {
		h.replay(ctx, i+1, []byte(raw), result)
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, &AssertionContext{Store: st, Ctx: ctx}) {
		result.AddError(errMsg)
	}
	return result, nil
}

// replay handles one frame. A failed frame ends the live session; here
// the next frame plays the part of the next session's first delivery.
func (h *Harness) replay(ctx context.Context, n int, raw []byte, result *Result) {
	before := h.sender.Len()
	res, err := h.proc.Handle(ctx, raw)
	if err != nil {
		h.logger.Debug("frame failed the session", slog.Int("frame", n), slog.Any("error", err))
	}

	sent := h.sender.Since(before)
	ev := TraceEvent{
		Frame:     n,
		Outcome:   string(res.Outcome),
		BatchID:   res.Batch.ID,
		Applied:   res.Apply.Applied,
		Skipped:   res.Apply.Skipped,
		Conflicts: res.Apply.Conflicts,
		Sent:      sent,
	}
	result.AddTrace(ev)
	result.Acks = append(result.Acks, h.sender.Acks(before)...)
}

func ackToken(frame string) (string, bool) {
	var ack struct {
		Type     string `json:"type"`
		AckToken string `json:"ack_token"`
	}
	if err := json.Unmarshal([]byte(frame), &ack); err != nil || ack.Type != "ack" {
		return "", false
	}
	return ack.AckToken, true
}

// Recorder is an ack.Sender that keeps every outbound frame instead of
// writing it to a connection.
type Recorder struct {
	mu     sync.Mutex
	frames []string
}

// Send records frame.
func (r *Recorder) Send(_ context.Context, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, string(frame))
	return nil
}

// Len returns the number of frames recorded so far.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Since returns the frames recorded after the first n.
func (r *Recorder) Since(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n >= len(r.frames) {
		return nil
	}
	return append([]string(nil), r.frames[n:]...)
}

// Acks returns the tokens of the ack frames recorded after the first n.
func (r *Recorder) Acks(n int) []string {
	var tokens []string
	for _, frame := range r.Since(n) {
		if token, ok := ackToken(frame); ok {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

// faultStore fails configured batches before they reach the store.
type faultStore struct {
	store     apply.BatchStore
	mu        sync.Mutex
	remaining map[string]int
	classes   map[string]store.Class
}

func newFaultStore(s apply.BatchStore, faults []Fault) (*faultStore, error) {
	fs := &faultStore{
		store:     s,
		remaining: make(map[string]int),
		classes:   make(map[string]store.Class),
	}
	for _, f := range faults {
		class, err := f.storeClass()
		if err != nil {
			return nil, err
		}
		times := f.Times
		if times == 0 {
			times = -1
		}
		fs.remaining[f.BatchID] = times
		fs.classes[f.BatchID] = class
	}
	return fs, nil
}

func (f *faultStore) ApplyBatch(ctx context.Context, b event.Batch) (store.ApplyResult, error) {
	f.mu.Lock()
	n, ok := f.remaining[b.ID]
	if ok && n != 0 {
		if n > 0 {
			f.remaining[b.ID] = n - 1
		}
		class := f.classes[b.ID]
		f.mu.Unlock()
		return store.ApplyResult{}, &store.Error{
			Op:    "apply batch",
			Class: class,
			Err:   fmt.Errorf("injected %s fault", class),
		}
	}
	f.mu.Unlock()
	return f.store.ApplyBatch(ctx, b)
}
