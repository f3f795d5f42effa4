/*
query.go - Statement construction

PURPOSE:
  Pure functions turning a table name and a field->value map into
  parameterized statement text plus bound values. No I/O here.

DETERMINISM:
  Field maps have no inherent order in Go, so every builder sorts the
  column names. The same record therefore always produces byte-identical
  SQL, which is what lets bulk operations reuse one statement template
  across a whole batch.

SAFETY:
  Every value is bound, identity values included. Nothing caller-supplied
  is ever interpolated into statement text.
*/
package sqlite

import (
	"fmt"
	"sort"
	"strings"

	"github.com/warp/follow-engine/record"
)

// buildInsert returns an INSERT statement for the given fields with a
// matching count of positional placeholders.
func buildInsert(table string, fields map[string]any) (string, []any) {
	cols := sortedColumns(fields)
	args := make([]any, 0, len(cols))
	marks := make([]string, 0, len(cols))
	for _, c := range cols {
		args = append(args, fields[c])
		marks = append(marks, "?")
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(marks, ", "))
	return sql, args
}

// buildUpdate returns an UPDATE statement targeting the row identified
// by idCols. The identity values are removed from the SET list and
// bound in the WHERE clause. Fails when any identity value is missing
// or still the sentinel.
func buildUpdate(table string, fields map[string]any, idCols []string) (string, []any, error) {
	idValues := make([]any, 0, len(idCols))
	for _, c := range idCols {
		v, ok := fields[c]
		if !ok || isSentinel(v) {
			return "", nil, fmt.Errorf("%w: %s.%s", ErrMissingIdentity, table, c)
		}
		idValues = append(idValues, v)
	}

	setCols := make([]string, 0, len(fields))
	for _, c := range sortedColumns(fields) {
		if !containsColumn(idCols, c) {
			setCols = append(setCols, c)
		}
	}

	args := make([]any, 0, len(setCols)+len(idCols))
	assignments := make([]string, 0, len(setCols))
	for _, c := range setCols {
		assignments = append(assignments, c+" = ?")
		args = append(args, fields[c])
	}
	conditions := make([]string, 0, len(idCols))
	for i, c := range idCols {
		conditions = append(conditions, c+" = ?")
		args = append(args, idValues[i])
	}

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		table, strings.Join(assignments, ", "), strings.Join(conditions, " AND "))
	return sql, args, nil
}

// buildUpsert returns the insert statement extended with an
// ON CONFLICT(idCols) DO UPDATE clause covering every field.
func buildUpsert(table string, fields map[string]any, idCols []string) (string, []any) {
	insert, args := buildInsert(table, fields)
	assignments := make([]string, 0, len(fields))
	for _, c := range sortedColumns(fields) {
		assignments = append(assignments, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	sql := fmt.Sprintf("%s ON CONFLICT(%s) DO UPDATE SET %s",
		insert, strings.Join(idCols, ", "), strings.Join(assignments, ", "))
	return sql, args
}

func sortedColumns(fields map[string]any) []string {
	cols := make([]string, 0, len(fields))
	for c := range fields {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func containsColumn(cols []string, name string) bool {
	for _, c := range cols {
		if c == name {
			return true
		}
	}
	return false
}

func isSentinel(v any) bool {
	switch x := v.(type) {
	case int64:
		return x == record.SentinelID
	case int:
		return int64(x) == record.SentinelID
	case nil:
		return true
	default:
		return false
	}
}

// sameColumns reports whether two field maps cover an identical column
// set. Bulk operations require this before reusing a statement template.
func sameColumns(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for c := range a {
		if _, ok := b[c]; !ok {
			return false
		}
	}
	return true
}
