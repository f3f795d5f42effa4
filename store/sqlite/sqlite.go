/*
Package sqlite provides the SQLite-backed storage gateway.

PURPOSE:
  Owns the physical connection, executes statements (single and
  batched), and maps result rows back into typed records through the
  record.Factory. All generic record types go through the same four
  operations: select, insert, update, upsert.

KEY TABLES:
  follow:          Immutable observation history (append-only)
  last_follows:    Most-recent-observation index, composite key (username, acc_id)
  ig_account:      Tracked accounts
  preferences:     Process-wide settings; active row = highest id
  ingest_runs:     One row per snapshot ingestion
  fc_window, fc_menu, window_subtype:
                   UI shell configuration; outside the core's concern but
                   served by the same generic access layer

APPEND-ONLY ENFORCEMENT:
  Nothing in this package updates or deletes follow rows. History only
  grows; the last_follows index is the single mutable structure.

BATCHES:
  Bulk operations build one statement template from the first record and
  run every record's values through it inside a single transaction.
  All-or-nothing: a failure mid-batch rolls the whole batch back.
  Records in one batch must share an identical field set; mixed batches
  are rejected up front with ErrHeterogeneousBatch.

PARAMETER BINDING:
  Select accepts a raw SQL suffix (WHERE ..., ORDER BY ... LIMIT ...)
  but every caller-supplied value is bound through args. No value is
  ever interpolated into statement text.

CONCURRENCY:
  sync.RWMutex for thread-safety, and WAL mode so readers don't block.
  database/sql checks a pooled connection out per operation; no cursor
  is held across calls.

USAGE:
  store, err := sqlite.New("./data/follow.db", "")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - query.go: statement construction
  - record: the model types this gateway reads and writes
  - engine: the reconciliation algorithm built on this gateway
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/follow-engine/record"
)

// Store implements the storage gateway over SQLite.
type Store struct {
	db      *sql.DB
	factory *record.Factory
	mu      sync.RWMutex

	accounts map[int64]*record.Account // lazy cache, reset on writes
}

// New opens (creating and seeding if necessary) the database at dbPath.
// Use ":memory:" for an in-memory database. An empty dateFormat falls
// back to record.DefaultDateFormat.
func New(dbPath, dateFormat string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection only. A ":memory:" database lives and dies with its
	// connection; a second pooled one would see an empty schema.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:      db,
		factory: record.NewFactory(nil, dateFormat),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := s.loadPreferences(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Factory returns the record factory bound to this store. It carries
// the active preferences and date format.
func (s *Store) Factory() *record.Factory {
	return s.factory
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Observation history (append-only)
	CREATE TABLE IF NOT EXISTS follow (
		id INTEGER PRIMARY KEY,
		username TEXT NOT NULL,
		acc_id INTEGER NOT NULL,
		date TEXT NOT NULL,
		follower BOOLEAN NOT NULL DEFAULT FALSE,
		following BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_follow_acc
		ON follow(acc_id);
	CREATE INDEX IF NOT EXISTS idx_follow_user_acc
		ON follow(username, acc_id);

	-- Most-recent-observation index, one row per (username, acc_id)
	CREATE TABLE IF NOT EXISTS last_follows (
		username TEXT NOT NULL,
		acc_id INTEGER NOT NULL,
		last_following_id INTEGER,
		last_follower_id INTEGER,
		PRIMARY KEY (username, acc_id)
	);

	CREATE INDEX IF NOT EXISTS idx_last_follows_acc
		ON last_follows(acc_id);

	-- Tracked accounts
	CREATE TABLE IF NOT EXISTS ig_account (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		abbrv TEXT NOT NULL DEFAULT '',
		last_update TEXT NOT NULL DEFAULT ''
	);

	-- Settings; the active row is the one with the highest id
	CREATE TABLE IF NOT EXISTS preferences (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		default_acc_id INTEGER NOT NULL DEFAULT 0,
		progress_dir TEXT NOT NULL DEFAULT '',
		data_dir TEXT NOT NULL DEFAULT '',
		ig_url TEXT NOT NULL DEFAULT ''
	);

	-- Ingestion book-keeping
	CREATE TABLE IF NOT EXISTS ingest_runs (
		id TEXT PRIMARY KEY,
		acc_id INTEGER NOT NULL,
		date TEXT NOT NULL,
		inserted INTEGER NOT NULL DEFAULT 0,
		upserted INTEGER NOT NULL DEFAULT 0,
		violations TEXT NOT NULL DEFAULT '[]',
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ingest_runs_acc
		ON ingest_runs(acc_id);

	-- UI shell configuration
	CREATE TABLE IF NOT EXISTS fc_window (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		nickname TEXT NOT NULL,
		menu_id INTEGER NOT NULL DEFAULT 0,
		subtype_id INTEGER NOT NULL DEFAULT 0,
		on_exit TEXT NOT NULL DEFAULT '',
		on_close TEXT NOT NULL DEFAULT '',
		on_capture TEXT NOT NULL DEFAULT '',
		close_events TEXT NOT NULL DEFAULT '[]',
		capture_events TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS fc_menu (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		menu_def TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS window_subtype (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subtype_id INTEGER NOT NULL,
		subtype TEXT NOT NULL,
		data TEXT NOT NULL DEFAULT '{}'
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// loadPreferences pulls the active preferences row into the factory,
// seeding a fixed-id default row on a fresh database.
func (s *Store) loadPreferences() error {
	ctx := context.Background()
	prefs, err := s.ActivePreferences(ctx)
	if err != nil {
		return err
	}
	if prefs == nil {
		// Fresh database. Seeding uses an explicit id on purpose; the
		// record layer warns about it and proceeds.
		prefs = &record.Preferences{ID: 1}
		if _, err := s.Insert(ctx, prefs); err != nil {
			return err
		}
	}
	s.factory.SetPreferences(prefs, "")
	return nil
}

// =============================================================================
// GENERIC OPERATIONS
// =============================================================================

// Select runs a read query for a record kind. The optional suffix is
// appended after the FROM clause; any caller value inside it must be a
// bound parameter supplied through args.
func (s *Store) Select(ctx context.Context, kind record.Kind, suffix string, args ...any) ([]record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectLocked(ctx, kind, suffix, args...)
}

func (s *Store) selectLocked(ctx context.Context, kind record.Kind, suffix string, args ...any) ([]record.Record, error) {
	table, err := record.Table(kind)
	if err != nil {
		return nil, err
	}
	cols, err := record.Columns(kind)
	if err != nil {
		return nil, err
	}
	if suffix != "" && !strings.HasPrefix(suffix, " ") {
		suffix = " " + suffix
	}

	query := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(cols, ", "), table, suffix)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	var out []record.Record
	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		values := make([]any, len(raw))
		copy(values, raw)
		rec, err := s.factory.Make(kind, values)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Insert writes a single record and returns the last-inserted id.
func (s *Store) Insert(ctx context.Context, rec record.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := rec.RowData()
	if err != nil {
		return 0, err
	}
	query, args := buildInsert(rec.Table(), row)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", rec.Table(), err)
	}
	s.invalidateLocked(rec)
	return res.LastInsertId()
}

// Update rewrites the row identified by the record's identity columns.
// Returns ErrMissingIdentity when the identity is unset or sentinel.
func (s *Store) Update(ctx context.Context, rec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := rec.RowData()
	if err != nil {
		return err
	}
	query, args, err := buildUpdate(rec.Table(), row, rec.IDColumns())
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update %s: %w", rec.Table(), err)
	}
	s.invalidateLocked(rec)
	return nil
}

// Upsert inserts the record or, on identity conflict, rewrites the
// existing row.
func (s *Store) Upsert(ctx context.Context, rec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := rec.RowData()
	if err != nil {
		return err
	}
	query, args := buildUpsert(rec.Table(), row, rec.IDColumns())
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %s: %w", rec.Table(), err)
	}
	s.invalidateLocked(rec)
	return nil
}

// BulkInsert writes a batch of records atomically through one insert
// template.
func (s *Store) BulkInsert(ctx context.Context, recs []record.Record) error {
	return s.bulk(ctx, recs, func(table string, row map[string]any, idCols []string) (string, []any, error) {
		query, args := buildInsert(table, row)
		return query, args, nil
	})
}

// BulkUpdate rewrites a batch of records atomically through one update
// template. Every record must carry a valid identity.
func (s *Store) BulkUpdate(ctx context.Context, recs []record.Record) error {
	return s.bulk(ctx, recs, buildUpdate)
}

// BulkUpsert upserts a batch of records atomically through one upsert
// template.
func (s *Store) BulkUpsert(ctx context.Context, recs []record.Record) error {
	return s.bulk(ctx, recs, func(table string, row map[string]any, idCols []string) (string, []any, error) {
		query, args := buildUpsert(table, row, idCols)
		return query, args, nil
	})
}

type statementBuilder func(table string, row map[string]any, idCols []string) (string, []any, error)

func (s *Store) bulk(ctx context.Context, recs []record.Record, build statementBuilder) error {
	if len(recs) == 0 {
		return ErrEmptyBatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	first, err := recs[0].RowData()
	if err != nil {
		return err
	}
	template, _, err := build(recs[0].Table(), first, recs[0].IDColumns())
	if err != nil {
		return err
	}

	// Validate the whole batch before touching the database.
	argSets := make([][]any, 0, len(recs))
	for i, rec := range recs {
		if rec.Table() != recs[0].Table() {
			return fmt.Errorf("%w: record %d targets %s, template targets %s",
				ErrHeterogeneousBatch, i, rec.Table(), recs[0].Table())
		}
		row, err := rec.RowData()
		if err != nil {
			return err
		}
		if !sameColumns(first, row) {
			return fmt.Errorf("%w: record %d (%s)", ErrHeterogeneousBatch, i, rec.Table())
		}
		_, args, err := build(rec.Table(), row, rec.IDColumns())
		if err != nil {
			return err
		}
		argSets = append(argSets, args)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, template)
	if err != nil {
		return fmt.Errorf("prepare bulk statement: %w", err)
	}
	defer stmt.Close()

	for _, args := range argSets {
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("bulk exec %s: %w", recs[0].Table(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.invalidateLocked(recs[0])
	return nil
}

// =============================================================================
// GENERIC READS
// =============================================================================

// GetAll returns every row of a kind.
func (s *Store) GetAll(ctx context.Context, kind record.Kind) ([]record.Record, error) {
	return s.Select(ctx, kind, "")
}

// GetByID returns the row with the given surrogate id, or (nil, nil)
// when it does not exist.
func (s *Store) GetByID(ctx context.Context, kind record.Kind, id int64) (record.Record, error) {
	recs, err := s.Select(ctx, kind, "WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// LastRow returns the row with the highest identity, or (nil, nil) on
// an empty table.
func (s *Store) LastRow(ctx context.Context, kind record.Kind) (record.Record, error) {
	rec, err := s.recordFor(kind)
	if err != nil {
		return nil, err
	}
	idCols := rec.IDColumns()
	order := make([]string, 0, len(idCols))
	for _, c := range idCols {
		// DESC binds per column, so each key part needs its own.
		order = append(order, c+" DESC")
	}
	suffix := fmt.Sprintf("ORDER BY %s LIMIT 1", strings.Join(order, ", "))
	recs, err := s.Select(ctx, kind, suffix)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// LastID returns the highest surrogate id for a kind, or 0 on an empty
// table.
func (s *Store) LastID(ctx context.Context, kind record.Kind) (int64, error) {
	rec, err := s.recordFor(kind)
	if err != nil {
		return 0, err
	}
	idCols := rec.IDColumns()
	if len(idCols) != 1 || idCols[0] != "id" {
		return 0, fmt.Errorf("%w: %q", ErrNoSurrogateID, kind)
	}
	table, err := record.Table(kind)
	if err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var id int64
	err = s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id FROM %s ORDER BY id DESC LIMIT 1", table),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("last id %s: %w", table, err)
	}
	return id, nil
}

// recordFor gives an empty instance of a kind, for identity metadata.
func (s *Store) recordFor(kind record.Kind) (record.Record, error) {
	switch kind {
	case record.KindPreferences:
		return &record.Preferences{}, nil
	case record.KindAccount:
		return &record.Account{}, nil
	case record.KindFollowObservation:
		return &record.FollowObservation{}, nil
	case record.KindLastKnownState:
		return &record.LastKnownState{}, nil
	case record.KindWindow:
		return &record.Window{}, nil
	case record.KindMenu:
		return &record.Menu{}, nil
	case record.KindWindowSubtype:
		return &record.WindowSubtype{}, nil
	case record.KindIngestRun:
		return &record.IngestRun{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", record.ErrUnknownKind, kind)
	}
}

// =============================================================================
// PREFERENCES
// =============================================================================

// ActivePreferences returns the active preferences row (highest id), or
// (nil, nil) when none exists. The returned row is the caller's to
// mutate; changes take effect through SavePreferences.
func (s *Store) ActivePreferences(ctx context.Context) (*record.Preferences, error) {
	if prefs := s.factory.Preferences(); prefs != nil {
		return prefs, nil
	}
	recs, err := s.Select(ctx, record.KindPreferences, "ORDER BY id DESC LIMIT 1")
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0].(*record.Preferences), nil
}

// SavePreferences updates the stored preferences and swaps the ambient
// preferences and date format on the factory.
func (s *Store) SavePreferences(ctx context.Context, prefs *record.Preferences, dateFormat string) error {
	if err := s.Update(ctx, prefs); err != nil {
		return err
	}
	s.factory.SetPreferences(prefs, dateFormat)
	return nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// Accounts returns all registered accounts, keyed by id. Cached until
// an account write invalidates it.
func (s *Store) Accounts(ctx context.Context) (map[int64]*record.Account, error) {
	s.mu.RLock()
	cached := s.accounts
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	recs, err := s.Select(ctx, record.KindAccount, "")
	if err != nil {
		return nil, err
	}
	accounts := make(map[int64]*record.Account, len(recs))
	for _, rec := range recs {
		acc := rec.(*record.Account)
		accounts[acc.ID] = acc
	}

	s.mu.Lock()
	s.accounts = accounts
	s.mu.Unlock()
	return accounts, nil
}

// AccountByID returns one account, or (nil, nil) when it does not exist.
func (s *Store) AccountByID(ctx context.Context, id int64) (*record.Account, error) {
	accounts, err := s.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	return accounts[id], nil
}

// SaveAccount inserts an account and returns its assigned id.
func (s *Store) SaveAccount(ctx context.Context, acc *record.Account) (int64, error) {
	return s.Insert(ctx, acc)
}

// ActiveAccount resolves the account referenced by the active
// preferences, or (nil, nil) when unset.
func (s *Store) ActiveAccount(ctx context.Context) (*record.Account, error) {
	prefs, err := s.ActivePreferences(ctx)
	if err != nil {
		return nil, err
	}
	if prefs == nil || prefs.DefaultAccountID == 0 {
		return nil, nil
	}
	return s.AccountByID(ctx, prefs.DefaultAccountID)
}

func (s *Store) invalidateLocked(rec record.Record) {
	if rec.RecordKind() == record.KindAccount {
		s.accounts = nil
	}
}

// =============================================================================
// FOLLOW QUERIES
// =============================================================================

// ObservationsByAccount returns the full observation history for an
// account.
func (s *Store) ObservationsByAccount(ctx context.Context, accID int64) ([]*record.FollowObservation, error) {
	recs, err := s.Select(ctx, record.KindFollowObservation, "WHERE acc_id = ? ORDER BY id", accID)
	if err != nil {
		return nil, err
	}
	out := make([]*record.FollowObservation, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.(*record.FollowObservation))
	}
	return out, nil
}

// ObservationByID returns one observation, or (nil, nil) when it does
// not exist.
func (s *Store) ObservationByID(ctx context.Context, id int64) (*record.FollowObservation, error) {
	rec, err := s.GetByID(ctx, record.KindFollowObservation, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.(*record.FollowObservation), nil
}

// LastObservationID returns the highest observation id, or 0 when the
// history is empty.
func (s *Store) LastObservationID(ctx context.Context) (int64, error) {
	return s.LastID(ctx, record.KindFollowObservation)
}

// LastStatesByAccount returns every last-known-state row for an account.
func (s *Store) LastStatesByAccount(ctx context.Context, accID int64) ([]*record.LastKnownState, error) {
	recs, err := s.Select(ctx, record.KindLastKnownState, "WHERE acc_id = ? ORDER BY username", accID)
	if err != nil {
		return nil, err
	}
	out := make([]*record.LastKnownState, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.(*record.LastKnownState))
	}
	return out, nil
}

// LastStatesByUser returns every last-known-state row for one
// (username, account) pair. More than one row is a data integrity
// violation the caller is expected to report.
func (s *Store) LastStatesByUser(ctx context.Context, username string, accID int64) ([]*record.LastKnownState, error) {
	recs, err := s.Select(ctx, record.KindLastKnownState, "WHERE username = ? AND acc_id = ?", username, accID)
	if err != nil {
		return nil, err
	}
	out := make([]*record.LastKnownState, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.(*record.LastKnownState))
	}
	return out, nil
}

// =============================================================================
// INGEST RUNS
// =============================================================================

// Runs returns recorded ingestion runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]*record.IngestRun, error) {
	recs, err := s.Select(ctx, record.KindIngestRun, "ORDER BY started_at DESC")
	if err != nil {
		return nil, err
	}
	out := make([]*record.IngestRun, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.(*record.IngestRun))
	}
	return out, nil
}
