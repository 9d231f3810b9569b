package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/snapfsio/snapfs-agent-mysql/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s", ev.Frame, ev.Outcome)
			if ev.BatchID != "" {
				fmt.Fprintf(&buf, " batch=%s", ev.BatchID)
			}
			fmt.Fprintln(&buf)
		}
	}

	return buf.String()
}

// assertAcks checks the exact ordered list of ack tokens.
func assertAcks(result *Result, assertion Assertion) error {
	want := assertion.Tokens
	if want == nil {
		want = []string{}
	}
	if slices.Equal(result.Acks, want) {
		return nil
	}
	return &AssertionError{
		Type:     AssertAcks,
		Expected: fmt.Sprintf("acks %v", want),
		Actual:   fmt.Sprintf("acks %v", result.Acks),
		Trace:    result.Trace,
	}
}

// assertOutcomes checks the exact ordered list of per-frame outcomes.
func assertOutcomes(result *Result, assertion Assertion) error {
	got := result.Outcomes()
	if slices.Equal(got, assertion.Outcomes) {
		return nil
	}
	return &AssertionError{
		Type:     AssertOutcomes,
		Expected: fmt.Sprintf("outcomes %v", assertion.Outcomes),
		Actual:   fmt.Sprintf("outcomes %v", got),
		Trace:    result.Trace,
	}
}

// assertLastApplied checks the sequence gate of one entity.
func assertLastApplied(ctx context.Context, st *store.Store, assertion Assertion) error {
	seq, ok, err := st.LastAppliedSequence(ctx, assertion.EntityID)
	if err != nil {
		return fmt.Errorf("last_applied %s: %w", assertion.EntityID, err)
	}

	switch {
	case assertion.Sequence == nil && !ok:
		return nil
	case assertion.Sequence == nil:
		return &AssertionError{
			Type:     AssertLastApplied,
			Expected: fmt.Sprintf("%s never applied", assertion.EntityID),
			Actual:   fmt.Sprintf("last applied sequence %d", seq),
		}
	case !ok:
		return &AssertionError{
			Type:     AssertLastApplied,
			Expected: fmt.Sprintf("%s at sequence %d", assertion.EntityID, *assertion.Sequence),
			Actual:   "never applied",
		}
	case seq != *assertion.Sequence:
		return &AssertionError{
			Type:     AssertLastApplied,
			Expected: fmt.Sprintf("%s at sequence %d", assertion.EntityID, *assertion.Sequence),
			Actual:   fmt.Sprintf("last applied sequence %d", seq),
		}
	}
	return nil
}

// assertFinalState checks if a table contains expected values.
// Queries with parameterized SQL and validates expected values using
// subset semantics.
//
// Security: Table and column names are validated against a whitelist pattern
// to prevent SQL injection via identifier interpolation.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	if assertion.Table == "" {
		return fmt.Errorf("final_state assertion requires table name")
	}

	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.Query(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}

	whereDesc := formatWhereClause(assertion.Where)
	if assertion.Absent {
		if len(rows) == 0 {
			return nil
		}
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("no row in %s where %s", assertion.Table, whereDesc),
			Actual:   fmt.Sprintf("%d row(s) matched", len(rows)),
		}
	}

	switch len(rows) {
	case 0:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, whereDesc),
			Actual:   "row not found",
		}
	case 1:
	default:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, whereDesc),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}
	actualRow := rows[0]

	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns", key),
			}
		}

		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}

	return nil
}

// buildWhereClause constructs parameterized WHERE clause from assertion.Where.
// Returns SQL fragment, arguments slice, and error. Keys are sorted for determinism.
//
// Security: Column names are validated against a whitelist pattern to prevent
// SQL injection via identifier interpolation.
func buildWhereClause(where map[string]interface{}) (string, []interface{}, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys))

	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}

	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML value to a SQL-compatible value.
func toSQLValue(v interface{}) interface{} {
	switch val := v.(type) {
	case int:
		return int64(val)
	case bool:
		if val {
			return int64(1)
		}
		return int64(0)
	case string, int64, float64:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]interface{}) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares a YAML value with a value read from SQLite.
// SQLite returns INTEGER as int64, REAL as float64 and stores booleans
// as 0/1.
func stateValuesEqual(expected, actual interface{}) bool {
	if expected == nil && actual == nil {
		return true
	}
	if expected == nil || actual == nil {
		return false
	}

	switch exp := expected.(type) {
	case string:
		if actualStr, ok := actual.(string); ok {
			return exp == actualStr
		}
		return false
	case int:
		switch act := actual.(type) {
		case int64:
			return int64(exp) == act
		case float64:
			return float64(exp) == act
		}
		return false
	case int64:
		if actualInt, ok := actual.(int64); ok {
			return exp == actualInt
		}
		return false
	case float64:
		switch act := actual.(type) {
		case float64:
			return exp == act
		case int64:
			return exp == float64(act)
		}
		return false
	case bool:
		if actualBool, ok := actual.(bool); ok {
			return exp == actualBool
		}
		if actualInt, ok := actual.(int64); ok {
			return exp == (actualInt != 0)
		}
		return false
	}

	return reflect.DeepEqual(expected, actual)
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for store assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertAcks:
			err = assertAcks(result, assertion)
		case AssertOutcomes:
			err = assertOutcomes(result, assertion)
		case AssertLastApplied, AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires database context", i, assertion.Type)
			} else if assertion.Type == AssertLastApplied {
				err = assertLastApplied(actx.Ctx, actx.Store, assertion)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
