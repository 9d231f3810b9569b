package harness

// TraceEvent records what one replayed frame did.
type TraceEvent struct {
	Frame     int      `json:"frame"` // 1-based position in Scenario.Frames
	Outcome   string   `json:"outcome"`
	BatchID   string   `json:"batch_id,omitempty"`
	Applied   int      `json:"applied,omitempty"`
	Skipped   int      `json:"skipped,omitempty"`
	Conflicts int      `json:"conflicts,omitempty"`
	Sent      []string `json:"sent,omitempty"`
}

// Result is the outcome of a scenario replay.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Trace has one entry per frame, in replay order.
	Trace []TraceEvent `json:"trace"`

	// Acks are the ack tokens sent, in order.
	Acks []string `json:"acks"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Acks:   []string{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends the trace entry for one frame.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

// Outcomes returns the per-frame outcomes in order.
func (r *Result) Outcomes() []string {
	out := make([]string, len(r.Trace))
	for i, ev := range r.Trace {
		out[i] = ev.Outcome
	}
	return out
}
