package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/follow-engine/engine"
	"github.com/warp/follow-engine/record"
	"github.com/warp/follow-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T) (*engine.Engine, *sqlite.Store, int64) {
	store, err := sqlite.New(":memory:", "")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	accID, err := store.SaveAccount(context.Background(),
		&record.Account{ID: record.SentinelID, Username: "myaccount", Abbrev: "ma"})
	require.NoError(t, err)

	return engine.New(store), store, accID
}

// writeSnapshot builds an export file: one top-level key over a list of
// username entries.
func writeSnapshot(t *testing.T, dir, name string, usernames ...string) string {
	t.Helper()

	entries := make([]map[string]string, 0, len(usernames))
	for _, u := range usernames {
		entries = append(entries, map[string]string{"username": u})
	}
	data, err := json.Marshal(map[string]any{"relationships": entries})
	require.NoError(t, err)

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func statesByUser(t *testing.T, store *sqlite.Store, accID int64) map[string]*record.LastKnownState {
	t.Helper()

	states, err := store.LastStatesByAccount(context.Background(), accID)
	require.NoError(t, err)
	out := make(map[string]*record.LastKnownState, len(states))
	for _, st := range states {
		out[st.Username] = st
	}
	return out
}

// =============================================================================
// FIRST RUN TESTS
// =============================================================================

func TestIngest_FirstRun(t *testing.T) {
	// GIVEN: An empty history and one snapshot pair
	//   followers: alice, bob    following: bob, carl
	// WHEN: Ingesting
	// THEN: One observation per union member, contiguous sorted ids, and
	//       a fresh state row per user referencing only the true sides

	eng, store, accID := newTestEngine(t)
	ctx := context.Background()
	dir := t.TempDir()

	followers := writeSnapshot(t, dir, "followers.json", "alice", "bob")
	following := writeSnapshot(t, dir, "following.json", "bob", "carl")

	res, err := eng.Ingest(ctx, followers, following, accID, "Jan01_2024")
	require.NoError(t, err)

	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 3, res.Upserted)
	assert.Empty(t, res.Violations)

	observations, err := store.ObservationsByAccount(ctx, accID)
	require.NoError(t, err)
	require.Len(t, observations, 3)

	// Sorted union: alice=1, bob=2, carl=3.
	for i, want := range []struct {
		username  string
		follower  bool
		following bool
	}{
		{"alice", true, false},
		{"bob", true, true},
		{"carl", false, true},
	} {
		obs := observations[i]
		assert.Equal(t, int64(i+1), obs.ID)
		assert.Equal(t, want.username, obs.Username)
		assert.Equal(t, want.follower, obs.IsFollower, obs.Username)
		assert.Equal(t, want.following, obs.IsFollowing, obs.Username)
	}

	states := statesByUser(t, store, accID)
	require.Len(t, states, 3)
	assert.Equal(t, int64(1), states["alice"].LastFollowerID)
	assert.False(t, states["alice"].HasFollowingRef())
	assert.Equal(t, int64(2), states["bob"].LastFollowerID)
	assert.Equal(t, int64(2), states["bob"].LastFollowingID)
	assert.False(t, states["carl"].HasFollowerRef())
	assert.Equal(t, int64(3), states["carl"].LastFollowingID)
}

func TestIngest_UnknownAccount(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	dir := t.TempDir()

	followers := writeSnapshot(t, dir, "followers.json", "alice")
	following := writeSnapshot(t, dir, "following.json")

	_, err := eng.Ingest(context.Background(), followers, following, 999, "Jan01_2024")
	assert.ErrorIs(t, err, engine.ErrUnknownAccount)
}

// =============================================================================
// RECONCILIATION TESTS
// =============================================================================

func TestIngest_SecondRunAdvancesOnlyNewerSides(t *testing.T) {
	// GIVEN: A day-one history
	//   followers: alice, bob, carl    following: carl
	// WHEN: Ingesting day two
	//   followers: alice, carl         following: carl, dave
	// THEN:
	//   alice: follower side advances, following side stays unset
	//   bob:   absent from both files, state untouched, no new row
	//   carl:  both sides advance
	//   dave:  brand-new state on the following side

	eng, store, accID := newTestEngine(t)
	ctx := context.Background()
	dir := t.TempDir()

	_, err := eng.Ingest(ctx,
		writeSnapshot(t, dir, "followers1.json", "alice", "bob", "carl"),
		writeSnapshot(t, dir, "following1.json", "carl"),
		accID, "Jan01_2024")
	require.NoError(t, err)

	res, err := eng.Ingest(ctx,
		writeSnapshot(t, dir, "followers2.json", "alice", "carl"),
		writeSnapshot(t, dir, "following2.json", "carl", "dave"),
		accID, "Jan02_2024")
	require.NoError(t, err)

	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 3, res.Upserted)
	assert.Empty(t, res.Violations)

	// Day two ids continue from the day-one max: alice=4, carl=5, dave=6.
	states := statesByUser(t, store, accID)
	require.Len(t, states, 4)

	assert.Equal(t, int64(4), states["alice"].LastFollowerID)
	assert.False(t, states["alice"].HasFollowingRef(), "never-observed side must stay unset")

	assert.Equal(t, int64(2), states["bob"].LastFollowerID, "absent user must keep its old state")

	assert.Equal(t, int64(5), states["carl"].LastFollowerID)
	assert.Equal(t, int64(5), states["carl"].LastFollowingID)

	assert.False(t, states["dave"].HasFollowerRef())
	assert.Equal(t, int64(6), states["dave"].LastFollowingID)

	// History only grows: day-one rows are still there.
	observations, err := store.ObservationsByAccount(ctx, accID)
	require.NoError(t, err)
	assert.Len(t, observations, 6)
}

func TestIngest_EqualDateDoesNotAdvance(t *testing.T) {
	// Re-ingesting the same date inserts history rows but moves no state:
	// advancement requires a strictly newer observation.

	eng, store, accID := newTestEngine(t)
	ctx := context.Background()
	dir := t.TempDir()

	followers := writeSnapshot(t, dir, "followers.json", "alice")
	following := writeSnapshot(t, dir, "following.json")

	_, err := eng.Ingest(ctx, followers, following, accID, "Jan01_2024")
	require.NoError(t, err)

	res, err := eng.Ingest(ctx, followers, following, accID, "Jan01_2024")
	require.NoError(t, err)

	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 0, res.Upserted)

	states := statesByUser(t, store, accID)
	assert.Equal(t, int64(1), states["alice"].LastFollowerID, "equal date must not advance the reference")
}

func TestIngest_UnparseableStoredDateSurfaces(t *testing.T) {
	// A stored date that no longer matches the active format is a
	// configuration error, not a silent no-op.

	eng, store, accID := newTestEngine(t)
	ctx := context.Background()
	dir := t.TempDir()

	followers := writeSnapshot(t, dir, "followers.json", "alice")
	following := writeSnapshot(t, dir, "following.json")

	_, err := eng.Ingest(ctx, followers, following, accID, "Jan01_2024")
	require.NoError(t, err)

	// Swap the ambient format out from under the stored history.
	prefs, err := store.ActivePreferences(ctx)
	require.NoError(t, err)
	require.NoError(t, store.SavePreferences(ctx, prefs, "2006-01-02"))

	_, err = eng.Ingest(ctx, followers, following, accID, "2024-01-02")
	assert.ErrorIs(t, err, record.ErrDateNotComparable)
}

// =============================================================================
// SNAPSHOT SHAPE TESTS
// =============================================================================

func TestIngest_MalformedSnapshotAbortsBeforeWrites(t *testing.T) {
	eng, store, accID := newTestEngine(t)
	ctx := context.Background()
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"a": [], "b": []}`), 0o644))
	following := writeSnapshot(t, dir, "following.json", "alice")

	_, err := eng.Ingest(ctx, bad, following, accID, "Jan01_2024")
	assert.ErrorIs(t, err, engine.ErrSnapshotShape)

	observations, err := store.ObservationsByAccount(ctx, accID)
	require.NoError(t, err)
	assert.Empty(t, observations, "a parse failure must leave the history untouched")
}

func TestIngest_MissingSnapshotFile(t *testing.T) {
	eng, _, accID := newTestEngine(t)
	dir := t.TempDir()

	following := writeSnapshot(t, dir, "following.json", "alice")

	_, err := eng.Ingest(context.Background(), filepath.Join(dir, "nope.json"), following, accID, "Jan01_2024")
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

// =============================================================================
// VIOLATION TESTS
// =============================================================================

// duplicatingStorage wraps the real gateway and fakes a corrupted index
// in which one user has two last-state rows. The table's composite
// primary key makes the real thing impossible to seed.
type duplicatingStorage struct {
	engine.Storage
	username string
}

func (d *duplicatingStorage) LastStatesByUser(ctx context.Context, username string, accID int64) ([]*record.LastKnownState, error) {
	states, err := d.Storage.LastStatesByUser(ctx, username, accID)
	if err != nil || username != d.username {
		return states, err
	}
	return []*record.LastKnownState{
		{Username: username, AccountID: accID, LastFollowerID: 1},
		{Username: username, AccountID: accID, LastFollowingID: 1},
	}, nil
}

func TestIngest_MultiplicityViolationReportedNotFatal(t *testing.T) {
	// GIVEN: A user with two last-state rows
	// WHEN: Ingesting a snapshot naming that user
	// THEN: The run succeeds, the observation is kept, the state update
	//       is skipped, and the violation is reported

	_, store, accID := newTestEngine(t)
	eng := engine.New(&duplicatingStorage{Storage: store, username: "dupe"})
	ctx := context.Background()
	dir := t.TempDir()

	followers := writeSnapshot(t, dir, "followers.json", "alice", "dupe")
	following := writeSnapshot(t, dir, "following.json")

	res, err := eng.Ingest(ctx, followers, following, accID, "Jan01_2024")
	require.NoError(t, err)

	assert.Equal(t, 2, res.Inserted, "the violating user keeps its observation")
	assert.Equal(t, 1, res.Upserted, "only the clean user gets a state row")
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "dupe", res.Violations[0].Username)

	states := statesByUser(t, store, accID)
	_, ok := states["dupe"]
	assert.False(t, ok, "no state write for the violating user")

	// The violation travels with the persisted run.
	runs, err := eng.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Len(t, runs[0].Violations, 1)
	assert.Equal(t, "dupe", runs[0].Violations[0].Username)
}

// =============================================================================
// RUN BOOK-KEEPING TESTS
// =============================================================================

func TestIngest_RecordsRun(t *testing.T) {
	eng, _, accID := newTestEngine(t)
	ctx := context.Background()
	dir := t.TempDir()

	followers := writeSnapshot(t, dir, "followers.json", "alice")
	following := writeSnapshot(t, dir, "following.json", "bob")

	res, err := eng.Ingest(ctx, followers, following, accID, "Jan01_2024")
	require.NoError(t, err)

	_, err = uuid.Parse(res.RunID)
	assert.NoError(t, err, "run ids are UUIDs")

	runs, err := eng.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].ID)
	assert.Equal(t, accID, runs[0].AccountID)
	assert.Equal(t, "Jan01_2024", runs[0].Date)
	assert.Equal(t, int64(2), runs[0].Inserted)
	assert.Equal(t, int64(2), runs[0].Upserted)
	assert.NotEmpty(t, runs[0].StartedAt)
	assert.NotEmpty(t, runs[0].CompletedAt)
}

// =============================================================================
// READ-SIDE TESTS
// =============================================================================

func TestMostRecentObservations_LaterDateWins(t *testing.T) {
	// alice's follower side points at day one, following side at day two;
	// the representative is the later observation.

	eng, _, accID := newTestEngine(t)
	ctx := context.Background()
	dir := t.TempDir()

	_, err := eng.Ingest(ctx,
		writeSnapshot(t, dir, "followers1.json", "alice"),
		writeSnapshot(t, dir, "following1.json"),
		accID, "Jan01_2024")
	require.NoError(t, err)

	_, err = eng.Ingest(ctx,
		writeSnapshot(t, dir, "followers2.json"),
		writeSnapshot(t, dir, "following2.json", "alice"),
		accID, "Jan02_2024")
	require.NoError(t, err)

	observations, err := eng.MostRecentObservationsForAccount(ctx, accID)
	require.NoError(t, err)
	require.Len(t, observations, 1)
	assert.Equal(t, "Jan02_2024", observations[0].Date)
	assert.True(t, observations[0].IsFollowing)
	assert.False(t, observations[0].IsFollower)
}

func TestReport_CountsAndRatio(t *testing.T) {
	// followers: alice, bob, carl    following: carl, dave
	// 3 followers, 2 followings, 2 not following back, 1 not followed back.

	eng, _, accID := newTestEngine(t)
	ctx := context.Background()
	dir := t.TempDir()

	_, err := eng.Ingest(ctx,
		writeSnapshot(t, dir, "followers.json", "alice", "bob", "carl"),
		writeSnapshot(t, dir, "following.json", "carl", "dave"),
		accID, "Jan01_2024")
	require.NoError(t, err)

	report, err := eng.Report(ctx, accID)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Users)
	assert.Equal(t, 3, report.Followers)
	assert.Equal(t, 2, report.Following)
	assert.Equal(t, 1, report.DontFollowBack, "dave is followed but does not follow back")
	assert.Equal(t, 2, report.IDontFollowBack, "alice and bob follow but are not followed back")
	assert.Equal(t, "1.5", report.FollowRatio.String())
}

func TestReport_EmptyAccount(t *testing.T) {
	eng, _, accID := newTestEngine(t)

	report, err := eng.Report(context.Background(), accID)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Users)
	assert.True(t, report.FollowRatio.IsZero())
}
