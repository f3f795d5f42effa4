/*
Package record defines the persisted record model.

PURPOSE:
  Every table in the follow database is represented by one record type.
  A record declares its table, its identity columns, its column order,
  and how its fields become a row payload. The storage gateway consumes
  records through the Record interface and never looks at concrete types.

KEY CONCEPTS IN THIS FILE (records.go):
  - Record: the contract between the model and the storage gateway
  - SentinelID: -1 marks a surrogate id that has not been assigned yet
  - RowData/DisplayData: field->value maps ready for statement binding

IDENTITY RULES:
  1. Surrogate-id records (Account, Preferences, FollowObservation) omit
     the id column from RowData while the id is the sentinel. The database
     assigns it on insert.
  2. Writing a surrogate-id record whose id IS set emits a warning and
     proceeds. Seeding fixed-id rows is deliberate, so it must not fail,
     but it must never happen silently either.
  3. Natural-key records (LastKnownState, IngestRun) always carry their
     identity columns; there is no sentinel for them.

DATE HANDLING:
  Observation dates are stored as formatted strings. The active format
  travels with each dated record (injected by the Factory), and parsing
  failures surface as errors rather than comparing false.

SEE ALSO:
  - factory.go: registry-dispatched construction from raw rows
  - store/sqlite: the gateway executing RowData payloads
*/
package record

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// SentinelID marks a surrogate id that has not been assigned yet.
// Rows carrying it are inserted without an id column.
const SentinelID int64 = -1

// DefaultDateFormat is the reference layout for observation dates,
// e.g. "Jan02_2006" formats to "May30_2024".
const DefaultDateFormat = "Jan02_2006"

// Kind is the type discriminator used by the Factory registry and the
// storage gateway. One Kind per table.
type Kind string

const (
	KindPreferences       Kind = "preferences"
	KindAccount           Kind = "account"
	KindFollowObservation Kind = "follow"
	KindLastKnownState    Kind = "last_follow"
	KindWindow            Kind = "window"
	KindMenu              Kind = "menu"
	KindWindowSubtype     Kind = "window_subtype"
	KindIngestRun         Kind = "ingest_run"
)

// Record is implemented by every persisted type.
type Record interface {
	// RecordKind returns the registry discriminator.
	RecordKind() Kind

	// Table returns the database table name.
	Table() string

	// IDColumns returns the identity column name(s).
	IDColumns() []string

	// RowData returns the field->value map for a write statement.
	// Surrogate identity columns are excluded while unassigned.
	RowData() (map[string]any, error)

	// DisplayData returns the same map but always without identity
	// columns. Read-only presentation.
	DisplayData() (map[string]any, error)
}

// Columns returns the canonical column order for a kind. Selects are
// built from this list so row construction is positional and stable.
func Columns(kind Kind) ([]string, error) {
	cols, ok := columnsByKind[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return cols, nil
}

// Table returns the table name for a kind.
func Table(kind Kind) (string, error) {
	t, ok := tablesByKind[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return t, nil
}

var tablesByKind = map[Kind]string{
	KindPreferences:       "preferences",
	KindAccount:           "ig_account",
	KindFollowObservation: "follow",
	KindLastKnownState:    "last_follows",
	KindWindow:            "fc_window",
	KindMenu:              "fc_menu",
	KindWindowSubtype:     "window_subtype",
	KindIngestRun:         "ingest_runs",
}

var columnsByKind = map[Kind][]string{
	KindPreferences:       {"id", "default_acc_id", "progress_dir", "data_dir", "ig_url"},
	KindAccount:           {"id", "username", "abbrv", "last_update"},
	KindFollowObservation: {"id", "username", "acc_id", "date", "follower", "following"},
	KindLastKnownState:    {"username", "acc_id", "last_following_id", "last_follower_id"},
	KindWindow:            {"id", "title", "nickname", "menu_id", "subtype_id", "on_exit", "on_close", "on_capture", "close_events", "capture_events"},
	KindMenu:              {"id", "name", "menu_def"},
	KindWindowSubtype:     {"id", "subtype_id", "subtype", "data"},
	KindIngestRun:         {"id", "acc_id", "date", "inserted", "upserted", "violations", "started_at", "completed_at"},
}

// warnExplicitID flags a surrogate-id write that carries a fixed id.
func warnExplicitID(table string, id int64) {
	slog.Warn("writing record with explicit id", "table", table, "id", id)
}

// =============================================================================
// PREFERENCES
// =============================================================================

// Preferences holds process-wide settings. The active row is the one
// with the highest id.
type Preferences struct {
	ID               int64
	DefaultAccountID int64
	ProgressDir      string
	DataDir          string
	SourceURL        string
}

func (p *Preferences) RecordKind() Kind    { return KindPreferences }
func (p *Preferences) Table() string       { return "preferences" }
func (p *Preferences) IDColumns() []string { return []string{"id"} }

func (p *Preferences) RowData() (map[string]any, error) {
	row := map[string]any{
		"default_acc_id": p.DefaultAccountID,
		"progress_dir":   p.ProgressDir,
		"data_dir":       p.DataDir,
		"ig_url":         p.SourceURL,
	}
	if p.ID != SentinelID {
		warnExplicitID(p.Table(), p.ID)
		row["id"] = p.ID
	}
	return row, nil
}

func (p *Preferences) DisplayData() (map[string]any, error) {
	row, err := p.RowData()
	if err != nil {
		return nil, err
	}
	delete(row, "id")
	return row, nil
}

// =============================================================================
// ACCOUNT
// =============================================================================

// Account is a tracked Instagram identity.
type Account struct {
	ID         int64
	Username   string
	Abbrev     string
	LastUpdate string

	// DateFormat parses LastUpdate. Injected by the Factory, never persisted.
	DateFormat string
}

func (a *Account) RecordKind() Kind    { return KindAccount }
func (a *Account) Table() string       { return "ig_account" }
func (a *Account) IDColumns() []string { return []string{"id"} }

func (a *Account) RowData() (map[string]any, error) {
	row := map[string]any{
		"username":    a.Username,
		"abbrv":       a.Abbrev,
		"last_update": a.LastUpdate,
	}
	if a.ID != SentinelID {
		warnExplicitID(a.Table(), a.ID)
		row["id"] = a.ID
	}
	return row, nil
}

func (a *Account) DisplayData() (map[string]any, error) {
	row, err := a.RowData()
	if err != nil {
		return nil, err
	}
	delete(row, "id")
	return row, nil
}

// LastUpdateTime parses the last-update timestamp.
func (a *Account) LastUpdateTime() (time.Time, error) {
	t, err := time.Parse(a.DateFormat, a.LastUpdate)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: account %q last_update %q", ErrDateNotComparable, a.Username, a.LastUpdate)
	}
	return t, nil
}

// =============================================================================
// FOLLOW OBSERVATION
// =============================================================================

// FollowObservation is one immutable historical fact: on Date, Username
// was (or was not) a follower of / followed by the owning account.
// Observations are created only by the reconciliation engine and never
// updated or deleted.
type FollowObservation struct {
	ID          int64
	Username    string
	AccountID   int64
	Date        string
	IsFollower  bool
	IsFollowing bool

	// DateFormat parses Date. Injected by the Factory, never persisted.
	DateFormat string
}

func (o *FollowObservation) RecordKind() Kind    { return KindFollowObservation }
func (o *FollowObservation) Table() string       { return "follow" }
func (o *FollowObservation) IDColumns() []string { return []string{"id"} }

func (o *FollowObservation) RowData() (map[string]any, error) {
	row := map[string]any{
		"username":  o.Username,
		"acc_id":    o.AccountID,
		"date":      o.Date,
		"follower":  o.IsFollower,
		"following": o.IsFollowing,
	}
	if o.ID != SentinelID {
		warnExplicitID(o.Table(), o.ID)
		row["id"] = o.ID
	}
	return row, nil
}

func (o *FollowObservation) DisplayData() (map[string]any, error) {
	row, err := o.RowData()
	if err != nil {
		return nil, err
	}
	delete(row, "id")
	return row, nil
}

// ObservedAt parses the observation date with the active format.
func (o *FollowObservation) ObservedAt() (time.Time, error) {
	t, err := time.Parse(o.DateFormat, o.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: observation %d date %q (format %q)", ErrDateNotComparable, o.ID, o.Date, o.DateFormat)
	}
	return t, nil
}

// NewerThan reports whether o is strictly newer than other by parsed
// date. An unparseable date on either side is a programming error and
// surfaces as such, never as a silent false.
func (o *FollowObservation) NewerThan(other *FollowObservation) (bool, error) {
	a, err := o.ObservedAt()
	if err != nil {
		return false, err
	}
	b, err := other.ObservedAt()
	if err != nil {
		return false, err
	}
	return a.After(b), nil
}

// DontFollowBack: the account follows the user, the user does not follow back.
func (o *FollowObservation) DontFollowBack() bool { return !o.IsFollower && o.IsFollowing }

// IDontFollowBack: the user follows the account, the account does not follow back.
func (o *FollowObservation) IDontFollowBack() bool { return o.IsFollower && !o.IsFollowing }

// =============================================================================
// LAST KNOWN STATE
// =============================================================================

// LastKnownState indexes, per (username, account), the most recent
// observation on each side. A side reference of 0 means the side has
// never been observed true; it is stored as NULL.
type LastKnownState struct {
	Username        string
	AccountID       int64
	LastFollowingID int64
	LastFollowerID  int64
}

func (s *LastKnownState) RecordKind() Kind    { return KindLastKnownState }
func (s *LastKnownState) Table() string       { return "last_follows" }
func (s *LastKnownState) IDColumns() []string { return []string{"username", "acc_id"} }

func (s *LastKnownState) RowData() (map[string]any, error) {
	// Composite natural key, always part of the payload.
	return map[string]any{
		"username":          s.Username,
		"acc_id":            s.AccountID,
		"last_following_id": nullableID(s.LastFollowingID),
		"last_follower_id":  nullableID(s.LastFollowerID),
	}, nil
}

func (s *LastKnownState) DisplayData() (map[string]any, error) {
	row, err := s.RowData()
	if err != nil {
		return nil, err
	}
	delete(row, "username")
	delete(row, "acc_id")
	return row, nil
}

// HasFollowerRef reports whether the follower side references an observation.
func (s *LastKnownState) HasFollowerRef() bool { return s.LastFollowerID > 0 }

// HasFollowingRef reports whether the following side references an observation.
func (s *LastKnownState) HasFollowingRef() bool { return s.LastFollowingID > 0 }

func nullableID(id int64) any {
	if id <= 0 {
		return nil
	}
	return id
}

// =============================================================================
// UI CONFIGURATION RECORDS
// =============================================================================
// These tables belong to the desktop shell, not the core, but they share
// the same generic access layer and exercise the structured-field rules.

// Window is a stored window definition. Event lists are kept as JSON.
type Window struct {
	ID            int64
	Title         string
	Nickname      string
	MenuID        int64
	SubtypeID     int64
	OnExit        string
	OnClose       string
	OnCapture     string
	CloseEvents   []string
	CaptureEvents []string
}

func (w *Window) RecordKind() Kind    { return KindWindow }
func (w *Window) Table() string       { return "fc_window" }
func (w *Window) IDColumns() []string { return []string{"id"} }

func (w *Window) RowData() (map[string]any, error) {
	closeEvents, err := json.Marshal(w.CloseEvents)
	if err != nil {
		return nil, fmt.Errorf("encoding close_events: %w", err)
	}
	captureEvents, err := json.Marshal(w.CaptureEvents)
	if err != nil {
		return nil, fmt.Errorf("encoding capture_events: %w", err)
	}
	row := map[string]any{
		"title":          w.Title,
		"nickname":       w.Nickname,
		"menu_id":        w.MenuID,
		"subtype_id":     w.SubtypeID,
		"on_exit":        w.OnExit,
		"on_close":       w.OnClose,
		"on_capture":     w.OnCapture,
		"close_events":   string(closeEvents),
		"capture_events": string(captureEvents),
	}
	if w.ID != SentinelID {
		warnExplicitID(w.Table(), w.ID)
		row["id"] = w.ID
	}
	return row, nil
}

func (w *Window) DisplayData() (map[string]any, error) {
	row, err := w.RowData()
	if err != nil {
		return nil, err
	}
	delete(row, "id")
	return row, nil
}

// Menu is a stored menu definition.
type Menu struct {
	ID   int64
	Name string
	Def  []any
}

func (m *Menu) RecordKind() Kind    { return KindMenu }
func (m *Menu) Table() string       { return "fc_menu" }
func (m *Menu) IDColumns() []string { return []string{"id"} }

func (m *Menu) RowData() (map[string]any, error) {
	def, err := json.Marshal(m.Def)
	if err != nil {
		return nil, fmt.Errorf("encoding menu_def: %w", err)
	}
	row := map[string]any{
		"name":     m.Name,
		"menu_def": string(def),
	}
	if m.ID != SentinelID {
		warnExplicitID(m.Table(), m.ID)
		row["id"] = m.ID
	}
	return row, nil
}

func (m *Menu) DisplayData() (map[string]any, error) {
	row, err := m.RowData()
	if err != nil {
		return nil, err
	}
	delete(row, "id")
	return row, nil
}

// WindowSubtype carries per-subtype configuration as a JSON document.
type WindowSubtype struct {
	ID        int64
	SubtypeID int64
	Subtype   string
	Data      map[string]any
}

func (w *WindowSubtype) RecordKind() Kind    { return KindWindowSubtype }
func (w *WindowSubtype) Table() string       { return "window_subtype" }
func (w *WindowSubtype) IDColumns() []string { return []string{"id"} }

func (w *WindowSubtype) RowData() (map[string]any, error) {
	data, err := json.Marshal(w.Data)
	if err != nil {
		return nil, fmt.Errorf("encoding subtype data: %w", err)
	}
	row := map[string]any{
		"subtype_id": w.SubtypeID,
		"subtype":    w.Subtype,
		"data":       string(data),
	}
	if w.ID != SentinelID {
		warnExplicitID(w.Table(), w.ID)
		row["id"] = w.ID
	}
	return row, nil
}

func (w *WindowSubtype) DisplayData() (map[string]any, error) {
	row, err := w.RowData()
	if err != nil {
		return nil, err
	}
	delete(row, "id")
	return row, nil
}

// =============================================================================
// INGEST RUN
// =============================================================================

// IngestViolation is one reported data-integrity problem from an
// ingestion run. Non-fatal; the affected user keeps its observation but
// skips its state update for the run.
type IngestViolation struct {
	Username string `json:"username"`
	Reason   string `json:"reason"`
}

// IngestRun records one snapshot ingestion: what ran, when, and what it
// produced. Keyed by a caller-assigned UUID.
type IngestRun struct {
	ID          string
	AccountID   int64
	Date        string
	Inserted    int64
	Upserted    int64
	Violations  []IngestViolation
	StartedAt   string
	CompletedAt string
}

func (r *IngestRun) RecordKind() Kind    { return KindIngestRun }
func (r *IngestRun) Table() string       { return "ingest_runs" }
func (r *IngestRun) IDColumns() []string { return []string{"id"} }

func (r *IngestRun) RowData() (map[string]any, error) {
	violations, err := json.Marshal(r.Violations)
	if err != nil {
		return nil, fmt.Errorf("encoding violations: %w", err)
	}
	// UUID natural key, always part of the payload.
	return map[string]any{
		"id":           r.ID,
		"acc_id":       r.AccountID,
		"date":         r.Date,
		"inserted":     r.Inserted,
		"upserted":     r.Upserted,
		"violations":   string(violations),
		"started_at":   r.StartedAt,
		"completed_at": r.CompletedAt,
	}, nil
}

func (r *IngestRun) DisplayData() (map[string]any, error) {
	row, err := r.RowData()
	if err != nil {
		return nil, err
	}
	delete(row, "id")
	return row, nil
}
