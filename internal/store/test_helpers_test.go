package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/snapfsio/snapfs-agent-mysql/internal/event"
)

// fixedNow is the updated_at clock used by test stores.
var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

// createTestStore creates a migrated store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), path, WithNow(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	return s
}

// upsert builds an upsert event with the given payload fields.
func upsert(entityID string, seq int64, fields map[string]any) event.Event {
	p := event.Payload{}
	for k, v := range fields {
		if n, ok := v.(int); ok {
			p[k] = json.Number(jsonInt(n))
			continue
		}
		p[k] = v
	}
	return event.Event{Kind: event.KindUpsert, EntityID: entityID, Payload: p, Sequence: seq}
}

func del(entityID string, seq int64) event.Event {
	return event.Event{Kind: event.KindDelete, EntityID: entityID, Sequence: seq}
}

func batch(id string, events ...event.Event) event.Batch {
	return event.Batch{ID: id, AckToken: "tok-" + id, Events: events}
}

func jsonInt(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

// getTableColumns returns the column names of a table.
func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		t.Fatalf("failed to get columns for %s: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan column name: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
