package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// Class separates store failures worth retrying from ones that will
// fail the same way every time.
type Class int

const (
	// ClassTransient covers connection loss, lock contention and timeouts.
	// The batch is retried, then the session is failed.
	ClassTransient Class = iota + 1

	// ClassFatal covers schema mismatch, constraint violations and
	// payloads that cannot be mapped to columns. The batch is dropped.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ErrNotFound is returned by reads for a missing entity.
var ErrNotFound = errors.New("not found")

// ErrInvalidPayload marks payload values that cannot be stored.
var ErrInvalidPayload = errors.New("invalid payload")

// Error is a classified store failure.
type Error struct {
	Op       string
	EntityID string
	Class    Class
	Err      error
}

func (e *Error) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.EntityID, e.Class, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return Classify(err) == ClassTransient
}

// IsFatal reports whether err will fail identically on retry.
func IsFatal(err error) bool {
	return Classify(err) == ClassFatal
}

func wrapError(op, entityID string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, EntityID: entityID, Class: Classify(err), Err: err}
}

// Classify maps a driver error to a Class.
//
// Unknown errors are transient: they are retried a bounded number of
// times and then fail the session, so they stay visible instead of
// silently dropping a batch.
func Classify(err error) Class {
	if err == nil {
		return 0
	}

	var se *Error
	if errors.As(err, &se) {
		return se.Class
	}
	if errors.Is(err, ErrInvalidPayload) {
		return ClassFatal
	}

	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF),
		errors.Is(err, mysql.ErrInvalidConn):
		return ClassTransient
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return classifySQLite(sqliteErr)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyPostgres(pgErr.Code)
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return classifyMySQL(myErr.Number)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	return ClassTransient
}

func classifySQLite(err sqlite3.Error) Class {
	switch err.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrFull,
		sqlite3.ErrCantOpen, sqlite3.ErrProtocol, sqlite3.ErrSchema:
		return ClassTransient
	case sqlite3.ErrConstraint, sqlite3.ErrError, sqlite3.ErrMismatch,
		sqlite3.ErrTooBig, sqlite3.ErrRange, sqlite3.ErrReadonly:
		return ClassFatal
	default:
		return ClassTransient
	}
}

// classifyPostgres uses the SQLSTATE class (first two characters).
func classifyPostgres(code string) Class {
	switch {
	case strings.HasPrefix(code, "08"), // connection exception
		strings.HasPrefix(code, "40"),  // serialization failure, deadlock
		strings.HasPrefix(code, "53"),  // insufficient resources
		strings.HasPrefix(code, "57P"): // admin shutdown, crash shutdown
		return ClassTransient
	case strings.HasPrefix(code, "22"), // data exception
		strings.HasPrefix(code, "23"), // integrity constraint violation
		strings.HasPrefix(code, "42"): // syntax error or access rule violation
		return ClassFatal
	default:
		return ClassTransient
	}
}

func classifyMySQL(number uint16) Class {
	switch number {
	case 1040, // too many connections
		1205, // lock wait timeout
		1213, // deadlock
		2006, // server has gone away
		2013: // lost connection during query
		return ClassTransient
	case 1054, // unknown column
		1062, // duplicate entry
		1146, // table doesn't exist
		1264, // out of range value
		1366, // incorrect value
		1406, // data too long
		1452: // foreign key constraint fails
		return ClassFatal
	default:
		return ClassTransient
	}
}
