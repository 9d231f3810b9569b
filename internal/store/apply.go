package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/snapfsio/snapfs-agent-mysql/internal/event"
)

// ApplyResult counts what happened to the events of one batch.
type ApplyResult struct {
	// Applied events passed the sequence gate and were written.
	Applied int
	// Skipped events carried a sequence the entity already has or has
	// passed. Skips are successes, not errors.
	Skipped int
	// Conflicts is the subset of Skipped whose sequence equals the stored
	// one but whose payload hash differs.
	Conflicts int
}

// ApplyBatch writes every event of b inside one transaction.
//
// For each event, in order, the sequence gate decides whether the event
// is newer than what the entity holds. Newer upserts replace the files
// row; newer deletes tombstone it. Older or equal sequences are skipped.
//
// The transaction is all-or-nothing: any error rolls back the whole
// batch and is returned as a classified *Error. The caller must not ack
// a batch for which ApplyBatch returned an error.
func (s *Store) ApplyBatch(ctx context.Context, b event.Batch) (ApplyResult, error) {
	var res ApplyResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, wrapError("apply batch: begin tx", "", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, ev := range b.Events {
		applied, conflict, err := s.applyEvent(ctx, tx, ev)
		if err != nil {
			return ApplyResult{}, err
		}
		switch {
		case applied:
			res.Applied++
		case conflict:
			res.Skipped++
			res.Conflicts++
		default:
			res.Skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return ApplyResult{}, wrapError("apply batch: commit", "", err)
	}
	return res, nil
}

// applyEvent runs the gate and, if it passes, the payload write.
func (s *Store) applyEvent(ctx context.Context, tx *sql.Tx, ev event.Event) (applied, conflict bool, err error) {
	if !ev.Kind.Valid() {
		return false, false, &Error{Op: "apply event", EntityID: ev.EntityID, Class: ClassFatal,
			Err: fmt.Errorf("%w: kind %q", ErrInvalidPayload, ev.Kind)}
	}

	canonical, err := event.MarshalPayload(ev.Payload)
	if err != nil {
		return false, false, &Error{Op: "apply event", EntityID: ev.EntityID, Class: ClassFatal,
			Err: fmt.Errorf("%w: %v", ErrInvalidPayload, err)}
	}
	hash, err := event.PayloadHash(ev.Payload)
	if err != nil {
		return false, false, &Error{Op: "apply event", EntityID: ev.EntityID, Class: ClassFatal,
			Err: fmt.Errorf("%w: %v", ErrInvalidPayload, err)}
	}

	now := s.now().UTC().UnixMilli()

	// Map the payload before touching the gate so a bad payload fails
	// without side effects inside the transaction.
	var file File
	if ev.Kind == event.KindUpsert {
		file, err = fileFromEvent(ev, canonical, now)
		if err != nil {
			return false, false, &Error{Op: "apply event", EntityID: ev.EntityID, Class: ClassFatal, Err: err}
		}
	}

	deleted := 0
	if ev.Kind == event.KindDelete {
		deleted = 1
	}

	result, err := tx.ExecContext(ctx, s.dialect.gateSQL, ev.EntityID, ev.Sequence, hash, deleted, now)
	if err != nil {
		return false, false, wrapError("apply event: gate", ev.EntityID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, false, wrapError("apply event: rows affected", ev.EntityID, err)
	}

	if rows == 0 {
		conflict, err := s.checkConflict(ctx, tx, ev, hash)
		return false, conflict, err
	}

	switch ev.Kind {
	case event.KindUpsert:
		if _, err := tx.ExecContext(ctx, s.dialect.upsertFileSQL, file.args()...); err != nil {
			return false, false, wrapError("apply event: upsert file", ev.EntityID, err)
		}
	case event.KindDelete:
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(
			`UPDATE files SET deleted = 1, sequence = ?, updated_at = ? WHERE entity_id = ?`),
			ev.Sequence, now, ev.EntityID,
		); err != nil {
			return false, false, wrapError("apply event: tombstone file", ev.EntityID, err)
		}
	}

	return true, false, nil
}

// checkConflict looks at a skipped event. Redelivery of the same event is
// the normal case; the same sequence with a different payload is not,
// and is logged for the operator.
func (s *Store) checkConflict(ctx context.Context, tx *sql.Tx, ev event.Event, hash string) (bool, error) {
	var (
		storedSeq  int64
		storedHash string
	)
	err := tx.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT last_applied_sequence, payload_hash FROM applied_entities WHERE entity_id = ?`),
		ev.EntityID,
	).Scan(&storedSeq, &storedHash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrapError("apply event: read gate", ev.EntityID, err)
	}

	if storedSeq == ev.Sequence && storedHash != hash {
		s.logger.Warn("sequence reused with a different payload; keeping stored version",
			slog.String("entity_id", ev.EntityID),
			slog.Int64("sequence", ev.Sequence),
		)
		return true, nil
	}
	return false, nil
}
