/*
snapshot.go - Snapshot file parsing

PURPOSE:
  Reads one Instagram export file into a set of usernames. The export's
  outer shape is a JSON object with exactly one key (its name varies by
  export type and does not matter) whose value is a list of entries that
  each carry at least a "username" field.

ENCODING:
  Exports frequently arrive with a UTF-8 byte-order mark; it is stripped
  before decoding.
*/
package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type snapshotEntry struct {
	Username string `json:"username"`
}

// parseSnapshot reads an export file into a username set. I/O and shape
// errors abort ingestion before any write happens.
func parseSnapshot(path string) (map[string]struct{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", path, err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSnapshotShape, path, err)
	}
	if len(doc) != 1 {
		return nil, fmt.Errorf("%w: %s: want a single top-level key, got %d", ErrSnapshotShape, path, len(doc))
	}

	var entries []snapshotEntry
	for _, raw := range doc {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSnapshotShape, path, err)
		}
	}

	set := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		if e.Username == "" {
			return nil, fmt.Errorf("%w: %s: entry %d has no username", ErrSnapshotShape, path, i)
		}
		set[e.Username] = struct{}{}
	}
	return set, nil
}
