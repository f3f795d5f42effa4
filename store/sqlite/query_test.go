package sqlite

import (
	"errors"
	"testing"

	"github.com/warp/follow-engine/record"
)

// These run against the unexported builders on purpose: statement text
// is this package's contract with the database.

func TestBuildInsert_SortedAndBound(t *testing.T) {
	fields := map[string]any{
		"username": "alice",
		"acc_id":   int64(1),
		"date":     "Jan01_2024",
	}

	query, args := buildInsert("follow", fields)

	want := "INSERT INTO follow (acc_id, date, username) VALUES (?, ?, ?)"
	if query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
	if len(args) != 3 || args[0] != int64(1) || args[1] != "Jan01_2024" || args[2] != "alice" {
		t.Errorf("args = %v, want values in sorted column order", args)
	}
}

func TestBuildInsert_Deterministic(t *testing.T) {
	// Map iteration order varies; statement text must not.

	fields := map[string]any{"b": 2, "a": 1, "c": 3, "d": 4}

	first, _ := buildInsert("t", fields)
	for i := 0; i < 50; i++ {
		query, _ := buildInsert("t", fields)
		if query != first {
			t.Fatalf("statement text varied across builds: %q vs %q", query, first)
		}
	}
}

func TestBuildUpdate_IdentityInWhereNotSet(t *testing.T) {
	fields := map[string]any{
		"id":       int64(5),
		"username": "alice",
		"abbrv":    "al",
	}

	query, args, err := buildUpdate("ig_account", fields, []string{"id"})
	if err != nil {
		t.Fatalf("buildUpdate: %v", err)
	}

	want := "UPDATE ig_account SET abbrv = ?, username = ? WHERE id = ?"
	if query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
	if len(args) != 3 || args[2] != int64(5) {
		t.Errorf("identity value must be bound last, got %v", args)
	}
}

func TestBuildUpdate_CompositeKey(t *testing.T) {
	fields := map[string]any{
		"username":          "alice",
		"acc_id":            int64(1),
		"last_follower_id":  int64(3),
		"last_following_id": nil,
	}

	query, args, err := buildUpdate("last_follows", fields, []string{"username", "acc_id"})
	if err != nil {
		t.Fatalf("buildUpdate: %v", err)
	}

	want := "UPDATE last_follows SET last_follower_id = ?, last_following_id = ? WHERE username = ? AND acc_id = ?"
	if query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
	if len(args) != 4 || args[2] != "alice" || args[3] != int64(1) {
		t.Errorf("args = %v", args)
	}
}

func TestBuildUpdate_MissingIdentity(t *testing.T) {
	// GIVEN: A payload without its identity column
	// THEN: The builder refuses instead of producing an unscoped UPDATE

	_, _, err := buildUpdate("ig_account", map[string]any{"username": "alice"}, []string{"id"})
	if !errors.Is(err, ErrMissingIdentity) {
		t.Errorf("expected ErrMissingIdentity, got %v", err)
	}
}

func TestBuildUpdate_SentinelIdentity(t *testing.T) {
	fields := map[string]any{"id": record.SentinelID, "username": "alice"}

	_, _, err := buildUpdate("ig_account", fields, []string{"id"})
	if !errors.Is(err, ErrMissingIdentity) {
		t.Errorf("expected ErrMissingIdentity for sentinel id, got %v", err)
	}
}

func TestBuildUpsert_ConflictClause(t *testing.T) {
	fields := map[string]any{
		"username":         "alice",
		"acc_id":           int64(1),
		"last_follower_id": int64(3),
	}

	query, args := buildUpsert("last_follows", fields, []string{"username", "acc_id"})

	want := "INSERT INTO last_follows (acc_id, last_follower_id, username) VALUES (?, ?, ?)" +
		" ON CONFLICT(username, acc_id) DO UPDATE SET" +
		" acc_id = excluded.acc_id, last_follower_id = excluded.last_follower_id, username = excluded.username"
	if query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
	if len(args) != 3 {
		t.Errorf("args = %v", args)
	}
}

func TestSameColumns(t *testing.T) {
	a := map[string]any{"x": 1, "y": 2}
	b := map[string]any{"y": 9, "x": 8}
	c := map[string]any{"x": 1, "z": 2}

	if !sameColumns(a, b) {
		t.Error("identical column sets should match regardless of values")
	}
	if sameColumns(a, c) {
		t.Error("different column sets must not match")
	}
	if sameColumns(a, map[string]any{"x": 1}) {
		t.Error("different sizes must not match")
	}
}
