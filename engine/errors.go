package engine

import "errors"

var (
	// ErrSnapshotShape is returned when a snapshot file is not a
	// single-key JSON object holding a list of username entries.
	ErrSnapshotShape = errors.New("malformed snapshot document")

	// ErrUnknownAccount is returned when ingestion targets an account
	// id that is not registered.
	ErrUnknownAccount = errors.New("unknown account")
)
