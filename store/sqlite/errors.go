/*
errors.go - Centralized error types for the storage gateway

PURPOSE:
  Sentinel errors callers can match with errors.Is(). A typed error is
  always surfaced; "no rows" on point lookups is (nil, nil), never a
  swallowed failure.
*/
package sqlite

import "errors"

var (
	// ErrMissingIdentity is returned when an update targets a record
	// whose identity is unset or still the sentinel. The operation is a
	// no-op.
	ErrMissingIdentity = errors.New("record identity not set")

	// ErrHeterogeneousBatch is returned when records in one bulk call
	// do not share an identical field set. The statement template is
	// derived from the first record, so mixed batches are rejected at
	// the boundary instead of silently misbinding values.
	ErrHeterogeneousBatch = errors.New("bulk batch records have differing field sets")

	// ErrEmptyBatch is returned when a bulk call receives no records.
	ErrEmptyBatch = errors.New("bulk batch is empty")

	// ErrNoSurrogateID is returned when a last-id lookup targets a kind
	// keyed by a natural or composite identity.
	ErrNoSurrogateID = errors.New("record kind has no surrogate id column")
)
