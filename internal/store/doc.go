// Package store provides the relational storage behind the agent.
//
// The store holds all durable state; the agent process keeps none. Two
// tables matter:
//   - applied_entities: one row per entity with last_applied_sequence
//   - files: the payload projection written by upsert events
//
// # Sequence Gate
//
// Every event passes through one conditional write against
// applied_entities before its payload is touched:
//
//	INSERT ... ON CONFLICT(entity_id) DO UPDATE ...
//	WHERE applied_entities.last_applied_sequence < excluded.last_applied_sequence
//
// A zero RowsAffected means the entity already holds this sequence or a
// newer one, and the event is skipped. The gate is a compare-and-set
// evaluated by the database under its row lock, never a read followed by
// a write, so concurrent appliers of the same entity cannot interleave.
//
// # Batch Atomicity
//
// ApplyBatch runs every event of a batch in one transaction. Any failure
// rolls the whole batch back; a redelivery then replays it safely
// because of the gate.
//
// # Backends
//
// Open dispatches on the URL scheme:
//   - sqlite:<dsn>, file:..., :memory:, bare paths  -> mattn/go-sqlite3
//   - postgres://, postgresql://                    -> jackc/pgx/v5 stdlib
//   - mysql://, mysql+aiomysql://                   -> go-sql-driver/mysql
//
// SQLite is configured with WAL mode, synchronous=NORMAL,
// busy_timeout=5000 and foreign_keys=ON on a single connection.
package store
