// Package harness replays recorded gateway traffic against a fresh store
// and checks what the agent did with it.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: redelivery_is_idempotent
//	description: "A redelivered batch is acked again without a second write"
//	frames:
//	  - '{"type":"batch","batch_id":"b1","ack_token":"t1","events":[...]}'
//	  - '{"type":"batch","batch_id":"b1","ack_token":"t1","events":[...]}'
//	faults:
//	  - batch_id: b2
//	    class: transient
//	    times: 3
//	assertions:
//	  - type: acks
//	    tokens: [t1, t1]
//	  - type: outcomes
//	    outcomes: [applied, applied]
//	  - type: last_applied
//	    entity_id: f42
//	    sequence: 5
//	  - type: final_state
//	    table: files
//	    where: { entity_id: f42 }
//	    expect: { name: a.txt, size: 10 }
//
// Frames are fed one by one through session.Processor, the code path a
// live session runs, with a sender that records every reply. A frame
// whose batch exhausts its retries would end a live session; the harness
// records outcome "failed" and moves on, so the next frame stands in for
// the redelivery on the next session.
//
// # Assertion Types
//
//   - acks: the exact ordered list of ack tokens sent
//   - outcomes: the exact ordered list of per-frame outcomes
//   - last_applied: the sequence gate of one entity
//   - final_state: queries a table and verifies expected values
//
// # Deterministic Testing
//
// Each scenario runs in its own in-memory SQLite database, with
// updated_at taken from testutil.DeterministicClock, so the trace can be
// compared against a golden snapshot.
package harness
