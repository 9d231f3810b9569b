package codec

import (
	"encoding/json"

	"github.com/snapfsio/snapfs-agent-mysql/internal/event"
)

type ackFrame struct {
	Type     string `json:"type"`
	AckToken string `json:"ack_token"`
	// Batch is the id under the key the gateway reads, with the JSON type
	// it was delivered with.
	Batch json.RawMessage `json:"batch"`
}

type pongFrame struct {
	Type string          `json:"type"`
	ID   json.RawMessage `json:"id,omitempty"`
}

// EncodeAck builds the ack frame for one batch delivery. A gateway batch
// id is echoed as received; otherwise the ack token is repeated.
func EncodeAck(b event.Batch) []byte {
	id := nonNullRaw(b.AckID)
	if id == nil {
		id, _ = json.Marshal(b.AckToken)
	}
	out, err := json.Marshal(ackFrame{Type: typeAck, AckToken: b.AckToken, Batch: id})
	if err != nil {
		// AckID came out of a successful decode, so it is valid JSON.
		panic(err)
	}
	return out
}

// EncodePong builds the reply to a ping, echoing its id when present.
func EncodePong(id json.RawMessage) []byte {
	b, err := json.Marshal(pongFrame{Type: typePong, ID: nonNullRaw(id)})
	if err != nil {
		return []byte(`{"type":"pong"}`)
	}
	return b
}
