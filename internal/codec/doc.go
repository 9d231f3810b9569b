// Package codec translates between gateway WebSocket frames and event values.
//
// Decoding is pure and total: every input either yields a Frame or a
// *CodecError, never a panic. A CodecError is frame-scoped; the session
// logs it, drops the frame without acking, and keeps reading.
//
// Two batch shapes are accepted and normalized to FrameBatch:
//
//	{"type":"batch","batch_id":"b1","ack_token":"t1","events":[{"kind":"upsert","entity_id":"f42","payload":{...},"sequence":5}]}
//	{"type":"events","batch":"b1","messages":[{"seq":5,"data":{"events":[{"type":"file.upsert","data":{...}}]}}]}
//
// Event order within a batch is preserved exactly as received.
package codec
