/*
errors.go - Centralized error types for the record model

PURPOSE:
  All record-level errors in one place. The storage gateway and the
  reconciliation engine wrap these with additional context.

USAGE:
  if errors.Is(err, record.ErrDateNotComparable) {
      // a stored date failed to parse; this is a programming or data
      // error, never something to coerce into an ordering result
  }
*/
package record

import "errors"

var (
	// ErrUnknownKind is returned when a Kind has no registered
	// constructor, table, or column list.
	ErrUnknownKind = errors.New("unknown record kind")

	// ErrColumnCount is returned when a raw row does not match the
	// kind's canonical column list.
	ErrColumnCount = errors.New("row column count mismatch")

	// ErrColumnType is returned when a raw column value has an
	// unexpected driver type.
	ErrColumnType = errors.New("unexpected column type")

	// ErrDateNotComparable is returned when a stored date string does
	// not parse with the active date format. Two records are only
	// orderable through successfully parsed dates.
	ErrDateNotComparable = errors.New("date not comparable")
)
