// Package apply runs store batches with the agent's retry policy.
//
// A batch is retried as a whole while the store reports transient
// failures, up to a bounded number of attempts. Fatal failures stop
// immediately. The outcome tells the caller what to do next:
//
//   - nil error: the batch committed; ack it
//   - *ApplyError with Fatal set: drop the batch un-acked and continue
//   - *ApplyError without Fatal: retries are exhausted; fail the session
//
// Retrying is safe because the store's sequence gate makes a replayed
// batch a no-op for events it already holds.
package apply
