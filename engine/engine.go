/*
Package engine implements snapshot reconciliation.

PURPOSE:
  Merges a follower/following snapshot pair into the append-only
  observation history while maintaining the last-known-state index.
  This is the write path of the whole system; everything else is reads.

ALGORITHM:
  1. Parse both snapshot files into username sets.
  2. Take the current max observation id as the id counter.
  3. Walk the union of both sets in sorted order (sorted so that id
     assignment is reproducible across runs and platforms) and build one
     observation per username, with contiguous ids.
  4. Per username, reconcile the last-known-state row:
       no row    -> new state referencing the true sides only
       one row   -> advance a side only when the new observation is
                    strictly newer than the currently referenced one
       many rows -> data integrity violation: report, skip the state
                    update, keep the observation
  5. One bulk insert for observations, one bulk upsert for states, each
     atomic.

KNOWN LIMITATION (by design, kept from the original system):
  Absence from a snapshot never marks a user as unfollowed. A user
  missing from both files simply gets no row this round; their last
  known state stays as it was.

VIOLATIONS:
  Integrity problems (multiple state rows, dangling references) are
  collected and reported, never fatal. The affected user keeps its
  observation insert and skips its state update for the run.

SEE ALSO:
  - snapshot.go: export file parsing
  - report.go: read-side summaries over the reconciled data
*/
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/warp/follow-engine/metrics"
	"github.com/warp/follow-engine/record"
)

// Storage is the slice of the gateway the engine needs. *sqlite.Store
// satisfies it.
type Storage interface {
	Factory() *record.Factory
	LastObservationID(ctx context.Context) (int64, error)
	ObservationByID(ctx context.Context, id int64) (*record.FollowObservation, error)
	ObservationsByAccount(ctx context.Context, accID int64) ([]*record.FollowObservation, error)
	LastStatesByAccount(ctx context.Context, accID int64) ([]*record.LastKnownState, error)
	LastStatesByUser(ctx context.Context, username string, accID int64) ([]*record.LastKnownState, error)
	AccountByID(ctx context.Context, id int64) (*record.Account, error)
	Insert(ctx context.Context, rec record.Record) (int64, error)
	BulkInsert(ctx context.Context, recs []record.Record) error
	BulkUpsert(ctx context.Context, recs []record.Record) error
	Runs(ctx context.Context) ([]*record.IngestRun, error)
}

// Engine reconciles snapshots into the store.
type Engine struct {
	Store   Storage
	Metrics *metrics.Collector // optional
	Log     *slog.Logger       // optional
}

// New returns an Engine over the given storage.
func New(store Storage) *Engine {
	return &Engine{Store: store}
}

// Result summarizes one ingestion run.
type Result struct {
	RunID      string
	Inserted   int
	Upserted   int
	Violations []record.IngestViolation
}

// Ingest merges one follower/following snapshot pair, observed on date,
// into the history of accountID. I/O and parse failures abort before
// any write; integrity violations are reported in the result instead.
func (e *Engine) Ingest(ctx context.Context, followerPath, followingPath string, accountID int64, date string) (*Result, error) {
	startedAt := time.Now().UTC()

	acc, err := e.Store.AccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownAccount, accountID)
	}

	followerSet, err := parseSnapshot(followerPath)
	if err != nil {
		return nil, err
	}
	followingSet, err := parseSnapshot(followingPath)
	if err != nil {
		return nil, err
	}

	usernames := unionSorted(followerSet, followingSet)

	nextID, err := e.Store.LastObservationID(ctx)
	if err != nil {
		return nil, err
	}

	dateFormat := e.Store.Factory().DateFormat()
	var (
		pendingInserts []record.Record
		pendingUpserts []record.Record
		violations     []record.IngestViolation
	)

	for _, username := range usernames {
		nextID++
		_, isFollower := followerSet[username]
		_, isFollowing := followingSet[username]

		obs := &record.FollowObservation{
			ID:          nextID,
			Username:    username,
			AccountID:   accountID,
			Date:        date,
			IsFollower:  isFollower,
			IsFollowing: isFollowing,
			DateFormat:  dateFormat,
		}
		pendingInserts = append(pendingInserts, obs)

		states, err := e.Store.LastStatesByUser(ctx, username, accountID)
		if err != nil {
			return nil, err
		}

		switch {
		case len(states) == 0:
			state := &record.LastKnownState{Username: username, AccountID: accountID}
			if isFollower {
				state.LastFollowerID = obs.ID
			}
			if isFollowing {
				state.LastFollowingID = obs.ID
			}
			pendingUpserts = append(pendingUpserts, state)

		case len(states) == 1:
			advanced, v, err := e.advanceState(ctx, states[0], obs)
			if err != nil {
				return nil, err
			}
			if v != nil {
				violations = append(violations, *v)
				break
			}
			if advanced {
				pendingUpserts = append(pendingUpserts, states[0])
			}

		default:
			v := record.IngestViolation{
				Username: username,
				Reason:   fmt.Sprintf("%d last-state rows for account %d, want at most 1", len(states), accountID),
			}
			violations = append(violations, v)
			e.logger().Warn("last-state multiplicity violation",
				"username", username, "account", accountID, "rows", len(states))
		}
	}

	if len(pendingInserts) > 0 {
		if err := e.Store.BulkInsert(ctx, pendingInserts); err != nil {
			return nil, err
		}
	}
	if len(pendingUpserts) > 0 {
		if err := e.Store.BulkUpsert(ctx, pendingUpserts); err != nil {
			return nil, err
		}
	}

	res := &Result{
		RunID:      uuid.NewString(),
		Inserted:   len(pendingInserts),
		Upserted:   len(pendingUpserts),
		Violations: violations,
	}

	run := &record.IngestRun{
		ID:          res.RunID,
		AccountID:   accountID,
		Date:        date,
		Inserted:    int64(res.Inserted),
		Upserted:    int64(res.Upserted),
		Violations:  violations,
		StartedAt:   startedAt.Format(time.RFC3339),
		CompletedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := e.Store.Insert(ctx, run); err != nil {
		return nil, fmt.Errorf("recording ingest run: %w", err)
	}

	if e.Metrics != nil {
		e.Metrics.RecordIngest(res.Inserted, res.Upserted, len(violations))
	}
	e.logger().Info("snapshot ingested",
		"run", res.RunID, "account", accountID, "date", date,
		"inserted", res.Inserted, "upserted", res.Upserted, "violations", len(violations))
	return res, nil
}

// advanceState moves the sides of one existing state row forward when
// the new observation is strictly newer than the referenced ones.
// Returns whether anything moved, or a violation when a referenced
// observation is missing.
func (e *Engine) advanceState(ctx context.Context, state *record.LastKnownState, obs *record.FollowObservation) (bool, *record.IngestViolation, error) {
	advanced := false

	if state.HasFollowerRef() {
		ref, err := e.Store.ObservationByID(ctx, state.LastFollowerID)
		if err != nil {
			return false, nil, err
		}
		if ref == nil {
			return false, &record.IngestViolation{
				Username: state.Username,
				Reason:   fmt.Sprintf("follower side references missing observation %d", state.LastFollowerID),
			}, nil
		}
		newer, err := obs.NewerThan(ref)
		if err != nil {
			return false, nil, err
		}
		if newer {
			state.LastFollowerID = obs.ID
			advanced = true
		}
	}

	if state.HasFollowingRef() {
		ref, err := e.Store.ObservationByID(ctx, state.LastFollowingID)
		if err != nil {
			return false, nil, err
		}
		if ref == nil {
			return false, &record.IngestViolation{
				Username: state.Username,
				Reason:   fmt.Sprintf("following side references missing observation %d", state.LastFollowingID),
			}, nil
		}
		newer, err := obs.NewerThan(ref)
		if err != nil {
			return false, nil, err
		}
		if newer {
			state.LastFollowingID = obs.ID
			advanced = true
		}
	}

	return advanced, nil, nil
}

// MostRecentObservationsForAccount reconstructs, for every last-state
// row of an account, the observation currently representing that user.
// When the two sides reference different observations the
// chronologically later one wins; on equal dates the higher id wins.
func (e *Engine) MostRecentObservationsForAccount(ctx context.Context, accountID int64) ([]*record.FollowObservation, error) {
	states, err := e.Store.LastStatesByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var out []*record.FollowObservation
	for _, state := range states {
		obs, err := e.representative(ctx, state)
		if err != nil {
			return nil, err
		}
		if obs != nil {
			out = append(out, obs)
		}
	}
	return out, nil
}

func (e *Engine) representative(ctx context.Context, state *record.LastKnownState) (*record.FollowObservation, error) {
	var follower, following *record.FollowObservation
	var err error

	if state.HasFollowerRef() {
		follower, err = e.Store.ObservationByID(ctx, state.LastFollowerID)
		if err != nil {
			return nil, err
		}
	}
	if state.HasFollowingRef() && state.LastFollowingID != state.LastFollowerID {
		following, err = e.Store.ObservationByID(ctx, state.LastFollowingID)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case follower == nil:
		return following, nil
	case following == nil:
		return follower, nil
	}

	newer, err := following.NewerThan(follower)
	if err != nil {
		return nil, err
	}
	if newer {
		return following, nil
	}
	older, err := follower.NewerThan(following)
	if err != nil {
		return nil, err
	}
	if older {
		return follower, nil
	}
	// Equal dates: higher id wins, deterministically.
	if following.ID > follower.ID {
		return following, nil
	}
	return follower, nil
}

// Runs returns recorded ingestion runs, newest first.
func (e *Engine) Runs(ctx context.Context) ([]*record.IngestRun, error) {
	return e.Store.Runs(ctx)
}

func (e *Engine) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func unionSorted(a, b map[string]struct{}) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for u := range a {
		seen[u] = struct{}{}
	}
	for u := range b {
		seen[u] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
