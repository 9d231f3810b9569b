package store

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"
)

//go:embed schema_sqlite.sql
var schemaSQLite string

//go:embed schema_postgres.sql
var schemaPostgres string

//go:embed schema_mysql.sql
var schemaMySQL string

// Dialect names as reported by Store.Dialect.
const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// fileColumns is the column order used by every files write.
var fileColumns = []string{
	"entity_id", "path", "dir", "name", "ext", "type",
	"size", "fsize_du", "mtime", "atime", "ctime", "nlinks",
	"inode", "dev", "owner", "grp", "uid", "gid", "mode",
	"algo", "hash", "payload", "deleted", "sequence", "updated_at",
}

// dialect holds the statements that differ between backends.
type dialect struct {
	name   string
	driver string
	schema string

	gateSQL       string
	upsertFileSQL string
}

func newDialect(name string) (dialect, error) {
	d := dialect{name: name}
	switch name {
	case DialectSQLite:
		d.driver = "sqlite3"
		d.schema = schemaSQLite
	case DialectPostgres:
		d.driver = "pgx"
		d.schema = schemaPostgres
	case DialectMySQL:
		d.driver = "mysql"
		d.schema = schemaMySQL
	default:
		return dialect{}, fmt.Errorf("unsupported dialect %q", name)
	}
	d.gateSQL = d.rebind(d.buildGateSQL())
	d.upsertFileSQL = d.rebind(d.buildUpsertFileSQL())
	return d, nil
}

// buildGateSQL returns the compare-and-set on last_applied_sequence.
// RowsAffected is 0 exactly when the stored sequence is >= the event's.
func (d dialect) buildGateSQL() string {
	insert := `INSERT INTO applied_entities
		(entity_id, last_applied_sequence, payload_hash, deleted, updated_at)
		VALUES (?, ?, ?, ?, ?)`

	if d.name == DialectMySQL {
		// Assignments run left to right and see earlier results, so the
		// sequence column is updated last. Unchanged rows report 0.
		newer := "VALUES(last_applied_sequence) > last_applied_sequence"
		return insert + `
		ON DUPLICATE KEY UPDATE
			payload_hash = IF(` + newer + `, VALUES(payload_hash), payload_hash),
			deleted = IF(` + newer + `, VALUES(deleted), deleted),
			updated_at = IF(` + newer + `, VALUES(updated_at), updated_at),
			last_applied_sequence = GREATEST(last_applied_sequence, VALUES(last_applied_sequence))`
	}

	return insert + `
		ON CONFLICT(entity_id) DO UPDATE SET
			last_applied_sequence = excluded.last_applied_sequence,
			payload_hash = excluded.payload_hash,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at
		WHERE applied_entities.last_applied_sequence < excluded.last_applied_sequence`
}

// buildUpsertFileSQL writes the full payload projection. It runs only
// after the gate accepted the event, so it overwrites unconditionally.
func (d dialect) buildUpsertFileSQL() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(fileColumns)), ", ")
	var sb strings.Builder
	sb.WriteString("INSERT INTO files (")
	sb.WriteString(strings.Join(fileColumns, ", "))
	sb.WriteString(") VALUES (")
	sb.WriteString(placeholders)
	sb.WriteString(")")

	var sets []string
	for _, col := range fileColumns[1:] {
		if d.name == DialectMySQL {
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", col, col))
		} else {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", col, col))
		}
	}
	if d.name == DialectMySQL {
		sb.WriteString(" ON DUPLICATE KEY UPDATE ")
	} else {
		sb.WriteString(" ON CONFLICT(entity_id) DO UPDATE SET ")
	}
	sb.WriteString(strings.Join(sets, ", "))
	return sb.String()
}

// rebind rewrites ? placeholders to $n for postgres.
// Statements passed here never contain literal question marks.
func (d dialect) rebind(query string) string {
	if d.name != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// statements splits the embedded schema into single statements; the
// mysql driver rejects multi-statement Exec by default.
func (d dialect) statements() []string {
	var out []string
	for _, stmt := range strings.Split(d.schema, ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}
