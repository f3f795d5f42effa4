/*
factory.go - Registry-dispatched record construction

PURPOSE:
  Turns raw database rows back into typed records. Construction is
  dispatched through an explicit Kind->constructor registry populated at
  startup; there is no name-based reflection anywhere.

AMBIENT CONTEXT:
  Dated records (FollowObservation, Account) need the active date format
  to parse their stored date strings, but rows do not carry it. The
  Factory holds the active Preferences and date format and injects the
  format into every construction. Both are swapped atomically by
  SetPreferences and guarded by a lock, and the Preferences row is
  copied on the way in and on the way out, so the Factory is safe to
  share across concurrent callers and the published row is effectively
  immutable.

ROW CONTRACT:
  Constructors consume values positionally in the kind's canonical
  column order (see Columns). The storage gateway builds its selects
  from the same list, so the two can never drift independently.
*/
package record

import (
	"fmt"
	"sync"
)

// Constructor builds one record from a raw row. Values arrive in the
// kind's canonical column order.
type Constructor func(f *Factory, row []any) (Record, error)

// Factory constructs typed records from raw rows, supplying the active
// date format where a type requires it.
type Factory struct {
	mu           sync.RWMutex
	prefs        *Preferences
	dateFormat   string
	constructors map[Kind]Constructor
}

// NewFactory returns a Factory seeded with the built-in constructors.
// An empty dateFormat falls back to DefaultDateFormat.
func NewFactory(prefs *Preferences, dateFormat string) *Factory {
	if dateFormat == "" {
		dateFormat = DefaultDateFormat
	}
	f := &Factory{
		dateFormat:   dateFormat,
		constructors: make(map[Kind]Constructor),
	}
	if prefs != nil {
		copied := *prefs
		f.prefs = &copied
	}
	f.registerBuiltins()
	return f
}

// SetPreferences atomically swaps the ambient preferences and, when
// dateFormat is non-empty, the active date format. All subsequent
// constructions observe the new pair. The factory keeps its own copy,
// so later caller mutations never reach published state.
func (f *Factory) SetPreferences(prefs *Preferences, dateFormat string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prefs == nil {
		f.prefs = nil
	} else {
		copied := *prefs
		f.prefs = &copied
	}
	if dateFormat != "" {
		f.dateFormat = dateFormat
	}
}

// Preferences returns a copy of the ambient preferences. Callers may
// mutate the copy freely; the factory-held row changes only through
// SetPreferences.
func (f *Factory) Preferences() *Preferences {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.prefs == nil {
		return nil
	}
	prefs := *f.prefs
	return &prefs
}

// DateFormat returns the active date format.
func (f *Factory) DateFormat() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dateFormat
}

// Register installs a constructor for a kind, replacing any existing
// one. Built-ins are installed by NewFactory.
func (f *Factory) Register(kind Kind, c Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[kind] = c
}

// Make constructs a typed record from a raw row.
func (f *Factory) Make(kind Kind, row []any) (Record, error) {
	f.mu.RLock()
	c, ok := f.constructors[kind]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	cols, err := Columns(kind)
	if err != nil {
		return nil, err
	}
	if len(row) != len(cols) {
		return nil, fmt.Errorf("%w: kind %q wants %d columns, got %d", ErrColumnCount, kind, len(cols), len(row))
	}
	return c(f, row)
}

func (f *Factory) registerBuiltins() {
	f.constructors[KindPreferences] = makePreferences
	f.constructors[KindAccount] = makeAccount
	f.constructors[KindFollowObservation] = makeFollowObservation
	f.constructors[KindLastKnownState] = makeLastKnownState
	f.constructors[KindWindow] = makeWindow
	f.constructors[KindMenu] = makeMenu
	f.constructors[KindWindowSubtype] = makeWindowSubtype
	f.constructors[KindIngestRun] = makeIngestRun
}

// =============================================================================
// BUILT-IN CONSTRUCTORS
// =============================================================================

func makePreferences(_ *Factory, row []any) (Record, error) {
	id, err := colInt64(row[0])
	if err != nil {
		return nil, fmt.Errorf("preferences id: %w", err)
	}
	accID, err := colInt64(row[1])
	if err != nil {
		return nil, fmt.Errorf("preferences default_acc_id: %w", err)
	}
	progressDir, err := colString(row[2])
	if err != nil {
		return nil, fmt.Errorf("preferences progress_dir: %w", err)
	}
	dataDir, err := colString(row[3])
	if err != nil {
		return nil, fmt.Errorf("preferences data_dir: %w", err)
	}
	sourceURL, err := colString(row[4])
	if err != nil {
		return nil, fmt.Errorf("preferences ig_url: %w", err)
	}
	return &Preferences{
		ID:               id,
		DefaultAccountID: accID,
		ProgressDir:      progressDir,
		DataDir:          dataDir,
		SourceURL:        sourceURL,
	}, nil
}

func makeAccount(f *Factory, row []any) (Record, error) {
	id, err := colInt64(row[0])
	if err != nil {
		return nil, fmt.Errorf("account id: %w", err)
	}
	username, err := colString(row[1])
	if err != nil {
		return nil, fmt.Errorf("account username: %w", err)
	}
	abbrev, err := colString(row[2])
	if err != nil {
		return nil, fmt.Errorf("account abbrv: %w", err)
	}
	lastUpdate, err := colString(row[3])
	if err != nil {
		return nil, fmt.Errorf("account last_update: %w", err)
	}
	return &Account{
		ID:         id,
		Username:   username,
		Abbrev:     abbrev,
		LastUpdate: lastUpdate,
		DateFormat: f.DateFormat(),
	}, nil
}

func makeFollowObservation(f *Factory, row []any) (Record, error) {
	id, err := colInt64(row[0])
	if err != nil {
		return nil, fmt.Errorf("follow id: %w", err)
	}
	username, err := colString(row[1])
	if err != nil {
		return nil, fmt.Errorf("follow username: %w", err)
	}
	accID, err := colInt64(row[2])
	if err != nil {
		return nil, fmt.Errorf("follow acc_id: %w", err)
	}
	date, err := colString(row[3])
	if err != nil {
		return nil, fmt.Errorf("follow date: %w", err)
	}
	follower, err := colBool(row[4])
	if err != nil {
		return nil, fmt.Errorf("follow follower: %w", err)
	}
	following, err := colBool(row[5])
	if err != nil {
		return nil, fmt.Errorf("follow following: %w", err)
	}
	return &FollowObservation{
		ID:          id,
		Username:    username,
		AccountID:   accID,
		Date:        date,
		IsFollower:  follower,
		IsFollowing: following,
		DateFormat:  f.DateFormat(),
	}, nil
}

func makeLastKnownState(_ *Factory, row []any) (Record, error) {
	username, err := colString(row[0])
	if err != nil {
		return nil, fmt.Errorf("last_follow username: %w", err)
	}
	accID, err := colInt64(row[1])
	if err != nil {
		return nil, fmt.Errorf("last_follow acc_id: %w", err)
	}
	followingID, err := colRef(row[2])
	if err != nil {
		return nil, fmt.Errorf("last_follow last_following_id: %w", err)
	}
	followerID, err := colRef(row[3])
	if err != nil {
		return nil, fmt.Errorf("last_follow last_follower_id: %w", err)
	}
	return &LastKnownState{
		Username:        username,
		AccountID:       accID,
		LastFollowingID: followingID,
		LastFollowerID:  followerID,
	}, nil
}

func makeWindow(_ *Factory, row []any) (Record, error) {
	id, err := colInt64(row[0])
	if err != nil {
		return nil, fmt.Errorf("window id: %w", err)
	}
	title, err := colString(row[1])
	if err != nil {
		return nil, fmt.Errorf("window title: %w", err)
	}
	nickname, err := colString(row[2])
	if err != nil {
		return nil, fmt.Errorf("window nickname: %w", err)
	}
	menuID, err := colInt64(row[3])
	if err != nil {
		return nil, fmt.Errorf("window menu_id: %w", err)
	}
	subtypeID, err := colInt64(row[4])
	if err != nil {
		return nil, fmt.Errorf("window subtype_id: %w", err)
	}
	onExit, err := colString(row[5])
	if err != nil {
		return nil, fmt.Errorf("window on_exit: %w", err)
	}
	onClose, err := colString(row[6])
	if err != nil {
		return nil, fmt.Errorf("window on_close: %w", err)
	}
	onCapture, err := colString(row[7])
	if err != nil {
		return nil, fmt.Errorf("window on_capture: %w", err)
	}
	var closeEvents, captureEvents []string
	if err := colJSON(row[8], &closeEvents); err != nil {
		return nil, fmt.Errorf("window close_events: %w", err)
	}
	if err := colJSON(row[9], &captureEvents); err != nil {
		return nil, fmt.Errorf("window capture_events: %w", err)
	}
	return &Window{
		ID:            id,
		Title:         title,
		Nickname:      nickname,
		MenuID:        menuID,
		SubtypeID:     subtypeID,
		OnExit:        onExit,
		OnClose:       onClose,
		OnCapture:     onCapture,
		CloseEvents:   closeEvents,
		CaptureEvents: captureEvents,
	}, nil
}

func makeMenu(_ *Factory, row []any) (Record, error) {
	id, err := colInt64(row[0])
	if err != nil {
		return nil, fmt.Errorf("menu id: %w", err)
	}
	name, err := colString(row[1])
	if err != nil {
		return nil, fmt.Errorf("menu name: %w", err)
	}
	var def []any
	if err := colJSON(row[2], &def); err != nil {
		return nil, fmt.Errorf("menu menu_def: %w", err)
	}
	return &Menu{ID: id, Name: name, Def: def}, nil
}

func makeWindowSubtype(_ *Factory, row []any) (Record, error) {
	id, err := colInt64(row[0])
	if err != nil {
		return nil, fmt.Errorf("window_subtype id: %w", err)
	}
	subtypeID, err := colInt64(row[1])
	if err != nil {
		return nil, fmt.Errorf("window_subtype subtype_id: %w", err)
	}
	subtype, err := colString(row[2])
	if err != nil {
		return nil, fmt.Errorf("window_subtype subtype: %w", err)
	}
	var data map[string]any
	if err := colJSON(row[3], &data); err != nil {
		return nil, fmt.Errorf("window_subtype data: %w", err)
	}
	return &WindowSubtype{ID: id, SubtypeID: subtypeID, Subtype: subtype, Data: data}, nil
}

func makeIngestRun(_ *Factory, row []any) (Record, error) {
	id, err := colString(row[0])
	if err != nil {
		return nil, fmt.Errorf("ingest_run id: %w", err)
	}
	accID, err := colInt64(row[1])
	if err != nil {
		return nil, fmt.Errorf("ingest_run acc_id: %w", err)
	}
	date, err := colString(row[2])
	if err != nil {
		return nil, fmt.Errorf("ingest_run date: %w", err)
	}
	inserted, err := colInt64(row[3])
	if err != nil {
		return nil, fmt.Errorf("ingest_run inserted: %w", err)
	}
	upserted, err := colInt64(row[4])
	if err != nil {
		return nil, fmt.Errorf("ingest_run upserted: %w", err)
	}
	var violations []IngestViolation
	if err := colJSON(row[5], &violations); err != nil {
		return nil, fmt.Errorf("ingest_run violations: %w", err)
	}
	startedAt, err := colString(row[6])
	if err != nil {
		return nil, fmt.Errorf("ingest_run started_at: %w", err)
	}
	completedAt, err := colString(row[7])
	if err != nil {
		return nil, fmt.Errorf("ingest_run completed_at: %w", err)
	}
	return &IngestRun{
		ID:          id,
		AccountID:   accID,
		Date:        date,
		Inserted:    inserted,
		Upserted:    upserted,
		Violations:  violations,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}, nil
}
