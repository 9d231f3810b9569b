package event

import (
	"encoding/json"
	"fmt"
)

// Kind identifies what an event does to its entity.
type Kind string

const (
	// KindUpsert writes the event payload as the entity's current state.
	KindUpsert Kind = "upsert"

	// KindDelete tombstones the entity. It is gated by the same sequence
	// rule as upserts, so a late upsert cannot resurrect a newer delete.
	KindDelete Kind = "delete"
)

// Valid reports whether k is a kind the agent knows how to apply.
func (k Kind) Valid() bool {
	switch k {
	case KindUpsert, KindDelete:
		return true
	default:
		return false
	}
}

// ParseKind maps a wire kind to a Kind.
//
// Both the short form ("upsert") and the gateway's dotted form
// ("file.upsert") are accepted.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "upsert", "file.upsert":
		return KindUpsert, nil
	case "delete", "file.delete":
		return KindDelete, nil
	default:
		return "", fmt.Errorf("unknown event kind %q", s)
	}
}

// Subscription identifies the stream this agent consumes.
// Set at process start and never mutated.
type Subscription struct {
	Subject   string `json:"subject"`
	Durable   string `json:"durable"`
	BatchSize int    `json:"batch"`
}

// Validate checks the invariants of a subscription descriptor.
func (s Subscription) Validate() error {
	if s.Subject == "" {
		return fmt.Errorf("subscription: subject is required")
	}
	if s.Durable == "" {
		return fmt.Errorf("subscription: durable is required")
	}
	if s.BatchSize <= 0 {
		return fmt.Errorf("subscription: batch size must be > 0, got %d", s.BatchSize)
	}
	return nil
}

// Payload is the field -> value mapping carried by an event.
// Numbers are held as json.Number so they round-trip without precision loss.
type Payload map[string]any

// Event is one change to one entity. Immutable once received.
type Event struct {
	Kind     Kind    `json:"kind"`
	EntityID string  `json:"entity_id"`
	Payload  Payload `json:"payload"`
	Sequence int64   `json:"sequence"`
}

// Batch is the unit of acknowledgment delivered by the gateway.
type Batch struct {
	ID       string  `json:"batch_id"`
	AckToken string  `json:"ack_token"`
	Events   []Event `json:"events"`

	// AckID is the gateway's batch id exactly as it arrived, string or
	// number. The ack echoes it unchanged. Nil for native batches.
	AckID json.RawMessage `json:"-"`
}

// String is used in log lines.
func (b Batch) String() string {
	return fmt.Sprintf("batch %s (%d events)", b.ID, len(b.Events))
}

// MarshalJSON keeps a nil Payload as {} on the wire.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(p))
}
