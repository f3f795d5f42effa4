package record_test

import (
	"errors"
	"testing"

	"github.com/warp/follow-engine/record"
)

// =============================================================================
// CONSTRUCTION TESTS
// =============================================================================

func TestFactory_Make_FollowObservation(t *testing.T) {
	// GIVEN: A raw row in the canonical column order
	// WHEN: Constructing through the registry
	// THEN: A typed observation carrying the active date format

	f := record.NewFactory(nil, "")

	rec, err := f.Make(record.KindFollowObservation, []any{int64(3), "alice", int64(1), "Jan01_2024", int64(1), int64(0)})
	if err != nil {
		t.Fatalf("Make: %v", err)
	}

	obs, ok := rec.(*record.FollowObservation)
	if !ok {
		t.Fatalf("expected *FollowObservation, got %T", rec)
	}
	if obs.ID != 3 || obs.Username != "alice" || obs.AccountID != 1 {
		t.Errorf("unexpected fields: %+v", obs)
	}
	if !obs.IsFollower || obs.IsFollowing {
		t.Errorf("unexpected side flags: %+v", obs)
	}
	if obs.DateFormat != record.DefaultDateFormat {
		t.Errorf("expected injected default format, got %q", obs.DateFormat)
	}
}

func TestFactory_Make_LastKnownState_NullRefs(t *testing.T) {
	// NULL side references come back from the driver as nil.

	f := record.NewFactory(nil, "")

	rec, err := f.Make(record.KindLastKnownState, []any{"alice", int64(1), nil, int64(7)})
	if err != nil {
		t.Fatalf("Make: %v", err)
	}

	state := rec.(*record.LastKnownState)
	if state.HasFollowingRef() {
		t.Error("NULL reference should map to an unset side")
	}
	if state.LastFollowerID != 7 {
		t.Errorf("expected follower ref 7, got %d", state.LastFollowerID)
	}
}

func TestFactory_Make_UnknownKind(t *testing.T) {
	f := record.NewFactory(nil, "")

	if _, err := f.Make(record.Kind("nope"), nil); !errors.Is(err, record.ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestFactory_Make_WrongColumnCount(t *testing.T) {
	f := record.NewFactory(nil, "")

	if _, err := f.Make(record.KindAccount, []any{int64(1)}); !errors.Is(err, record.ErrColumnCount) {
		t.Errorf("expected ErrColumnCount, got %v", err)
	}
}

func TestFactory_Make_WrongColumnType(t *testing.T) {
	f := record.NewFactory(nil, "")

	_, err := f.Make(record.KindAccount, []any{"not-an-id", "alice", "al", ""})
	if !errors.Is(err, record.ErrColumnType) {
		t.Errorf("expected ErrColumnType, got %v", err)
	}
}

// =============================================================================
// AMBIENT STATE TESTS
// =============================================================================

func TestFactory_SetPreferences_SwapsFormat(t *testing.T) {
	// GIVEN: A factory with the default format
	// WHEN: Preferences arrive with a new format
	// THEN: Subsequent constructions observe the new pair

	f := record.NewFactory(nil, "")
	prefs := &record.Preferences{ID: 1, DefaultAccountID: 2}

	f.SetPreferences(prefs, "2006-01-02")

	if f.Preferences() != prefs {
		t.Error("preferences not swapped")
	}
	if f.DateFormat() != "2006-01-02" {
		t.Errorf("expected swapped format, got %q", f.DateFormat())
	}

	rec, err := f.Make(record.KindFollowObservation, []any{int64(1), "alice", int64(1), "2024-01-01", int64(1), int64(0)})
	if err != nil {
		t.Fatalf("Make: %v", err)
	}
	if got := rec.(*record.FollowObservation).DateFormat; got != "2006-01-02" {
		t.Errorf("constructed record carries %q, want swapped format", got)
	}
}

func TestFactory_Preferences_CopyOnReadAndWrite(t *testing.T) {
	// GIVEN: Published ambient preferences
	// WHEN: A caller mutates what it was handed, or what it handed in
	// THEN: The published row is unaffected either way

	seed := &record.Preferences{ID: 1, DataDir: "/data"}
	f := record.NewFactory(seed, "")

	got := f.Preferences()
	got.DataDir = "/scratch"
	if f.Preferences().DataDir != "/data" {
		t.Error("mutating a returned copy must not reach the published row")
	}

	seed.DataDir = "/elsewhere"
	if f.Preferences().DataDir != "/data" {
		t.Error("mutating the installed pointer must not reach the published row")
	}
}

func TestFactory_SetPreferences_EmptyFormatKeepsCurrent(t *testing.T) {
	f := record.NewFactory(nil, "2006-01-02")

	f.SetPreferences(&record.Preferences{ID: 1}, "")

	if f.DateFormat() != "2006-01-02" {
		t.Errorf("empty format must not clobber the active one, got %q", f.DateFormat())
	}
}

func TestFactory_Register_Replaces(t *testing.T) {
	// A caller-installed constructor takes over the kind.

	f := record.NewFactory(nil, "")
	f.Register(record.KindMenu, func(_ *record.Factory, _ []any) (record.Record, error) {
		return &record.Menu{ID: 99, Name: "custom"}, nil
	})

	rec, err := f.Make(record.KindMenu, []any{int64(0), "", ""})
	if err != nil {
		t.Fatalf("Make: %v", err)
	}
	if rec.(*record.Menu).Name != "custom" {
		t.Error("registered constructor was not used")
	}
}
