// Package event defines the data model shared by every stage of the agent.
//
// This package contains value types only. All other internal packages
// import event; event imports nothing internal. Batches flow through the
// pipeline as:
//
//	codec.Decode -> apply.Applier.Apply -> ack.Handler.OnApplied
//
// Key constraints:
//   - Event.Sequence is the dedup and ordering key; it is always > 0
//   - Batch is the unit of acknowledgment; events are never partially acked
//   - Events within a Batch keep the order they had on the wire
//   - Payload values keep their JSON number text (json.Number), never float64
package event
