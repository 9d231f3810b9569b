package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// LastAppliedSequence returns the gate value for an entity.
// Returns (0, false, nil) when the entity has never been applied.
func (s *Store) LastAppliedSequence(ctx context.Context, entityID string) (int64, bool, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT last_applied_sequence FROM applied_entities WHERE entity_id = ?`),
		entityID,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read last applied sequence: %w", err)
	}
	return seq, true, nil
}

// GetFile reads one row of the files projection.
// Returns ErrNotFound if the entity has no row.
func (s *Store) GetFile(ctx context.Context, entityID string) (File, error) {
	var (
		f       File
		deleted int64
	)
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT `+strings.Join(fileColumns, ", ")+` FROM files WHERE entity_id = ?`),
		entityID,
	).Scan(
		&f.EntityID, &f.Path, &f.Dir, &f.Name, &f.Ext, &f.Type,
		&f.Size, &f.FSizeDU, &f.MTime, &f.ATime, &f.CTime, &f.NLinks,
		&f.Inode, &f.Dev, &f.Owner, &f.Group, &f.UID, &f.GID, &f.Mode,
		&f.Algo, &f.Hash, &f.Payload, &deleted, &f.Sequence, &f.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return File{}, fmt.Errorf("get file %s: %w", entityID, ErrNotFound)
	}
	if err != nil {
		return File{}, fmt.Errorf("get file %s: %w", entityID, err)
	}
	f.Deleted = deleted != 0
	return f, nil
}

// Query executes a raw SQL query and returns the rows as column -> value
// maps. Byte slices are returned as strings. Intended for operator
// tooling (the query command), not for the apply path.
func (s *Store) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query: columns: %w", err)
	}

	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("query: scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return out, nil
}
