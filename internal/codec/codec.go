package codec

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/snapfsio/snapfs-agent-mysql/internal/event"
)

// FrameType identifies a decoded frame.
type FrameType string

const (
	FrameBatch FrameType = "batch"
	FramePing  FrameType = "ping"
	FrameError FrameType = "error"
)

// Wire type tags.
const (
	typeBatch  = "batch"
	typeEvents = "events"
	typePing   = "ping"
	typePong   = "pong"
	typeError  = "error"
	typeAck    = "ack"
)

// Frame is a decoded inbound frame. Only the fields for Type are set.
type Frame struct {
	Type FrameType

	// Batch is set for FrameBatch.
	Batch event.Batch

	// PingID is echoed back in the pong; nil when the ping carried none.
	PingID json.RawMessage

	// Message is the text of a gateway error frame.
	Message string
}

type envelope struct {
	Type string `json:"type"`

	// native batch
	BatchID  string      `json:"batch_id"`
	AckToken string      `json:"ack_token"`
	Events   []wireEvent `json:"events"`

	// gateway batch
	Batch    json.RawMessage `json:"batch"`
	Messages []wireMessage   `json:"messages"`

	// ping / error
	ID      json.RawMessage `json:"id"`
	Message string          `json:"message"`
}

type wireEvent struct {
	Kind     string         `json:"kind"`
	EntityID string         `json:"entity_id"`
	Payload  map[string]any `json:"payload"`
	Sequence json.Number    `json:"sequence"`
}

type wireMessage struct {
	Seq  json.Number `json:"seq"`
	Data struct {
		Events []gatewayEvent `json:"events"`
	} `json:"data"`
}

type gatewayEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Decode parses one inbound text frame.
func Decode(raw []byte) (Frame, error) {
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return Frame{}, codecErrorf(raw, "invalid json: %v", err)
	}
	if dec.More() {
		return Frame{}, codecErrorf(raw, "trailing data after frame")
	}

	switch env.Type {
	case typeBatch:
		b, err := decodeNativeBatch(raw, env)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Type: FrameBatch, Batch: b}, nil
	case typeEvents:
		b, err := decodeGatewayBatch(raw, env)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Type: FrameBatch, Batch: b}, nil
	case typePing:
		return Frame{Type: FramePing, PingID: nonNullRaw(env.ID)}, nil
	case typeError:
		return Frame{Type: FrameError, Message: env.Message}, nil
	case "":
		return Frame{}, codecErrorf(raw, "missing frame type")
	default:
		return Frame{}, codecErrorf(raw, "unknown frame type %q", env.Type)
	}
}

func decodeNativeBatch(raw []byte, env envelope) (event.Batch, error) {
	b := event.Batch{ID: env.BatchID, AckToken: env.AckToken}
	if b.AckToken == "" {
		b.AckToken = b.ID
	}
	if b.AckToken == "" {
		return event.Batch{}, codecErrorf(raw, "batch has neither ack_token nor batch_id")
	}
	if b.ID == "" {
		b.ID = b.AckToken
	}

	b.Events = make([]event.Event, 0, len(env.Events))
	for i, we := range env.Events {
		kind, err := event.ParseKind(we.Kind)
		if err != nil {
			return event.Batch{}, codecErrorf(raw, "events[%d]: %v", i, err)
		}
		if we.EntityID == "" {
			return event.Batch{}, codecErrorf(raw, "events[%d]: missing entity_id", i)
		}
		seq, err := parseSequence(we.Sequence)
		if err != nil {
			return event.Batch{}, codecErrorf(raw, "events[%d]: %v", i, err)
		}
		b.Events = append(b.Events, event.Event{
			Kind:     kind,
			EntityID: we.EntityID,
			Payload:  event.Payload(we.Payload),
			Sequence: seq,
		})
	}
	return b, nil
}

// decodeGatewayBatch flattens the gateway's messages[].data.events[] into
// one ordered event list. Event types other than file.upsert and
// file.delete are skipped, as are events without an entity key.
//
// Events without their own sequence take the message seq. When one
// message holds several of those for the same entity, only the last is
// kept, since the gate would skip the rest as replays.
func decodeGatewayBatch(raw []byte, env envelope) (event.Batch, error) {
	id, err := batchIDText(env.Batch)
	if err != nil {
		return event.Batch{}, codecErrorf(raw, "batch: %v", err)
	}
	if id == "" {
		return event.Batch{}, codecErrorf(raw, "missing batch id")
	}

	b := event.Batch{ID: id, AckToken: id, AckID: nonNullRaw(env.Batch), Events: []event.Event{}}
	for mi, m := range env.Messages {
		inherited := map[string]int{} // entity id -> index in b.Events
		for ei, ge := range m.Data.Events {
			kind, err := event.ParseKind(ge.Type)
			if err != nil || !strings.HasPrefix(ge.Type, "file.") {
				continue
			}
			entityID := stringField(ge.Data, "entity_id")
			if entityID == "" {
				entityID = stringField(ge.Data, "path")
			}
			if entityID == "" {
				continue
			}

			seqText, own := ge.Data["sequence"].(json.Number)
			if !own {
				seqText = m.Seq
			}
			seq, err := parseSequence(seqText)
			if err != nil {
				return event.Batch{}, codecErrorf(raw, "messages[%d].events[%d]: %v", mi, ei, err)
			}
			ev := event.Event{
				Kind:     kind,
				EntityID: entityID,
				Payload:  event.Payload(ge.Data),
				Sequence: seq,
			}
			if !own {
				if i, dup := inherited[entityID]; dup {
					b.Events[i] = ev
					continue
				}
				inherited[entityID] = len(b.Events)
			}
			b.Events = append(b.Events, ev)
		}
	}
	return b, nil
}

func parseSequence(n json.Number) (int64, error) {
	if n == "" {
		return 0, errMissingSequence
	}
	seq, err := strconv.ParseInt(string(n), 10, 64)
	if err != nil {
		return 0, errBadSequence(n)
	}
	if seq <= 0 {
		return 0, errBadSequence(n)
	}
	return seq, nil
}

// batchIDText accepts a string or integer batch id.
func batchIDText(raw json.RawMessage) (string, error) {
	raw = nonNullRaw(raw)
	if raw == nil {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if _, perr := strconv.ParseInt(string(n), 10, 64); perr == nil {
			return string(n), nil
		}
	}
	return "", errBadBatchID
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func nonNullRaw(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return trimmed
}
