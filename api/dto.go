/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the record layer from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Account:
    AccountDTO, SaveAccountRequest

  Preferences:
    PreferencesDTO, SavePreferencesRequest

  Observations:
    ObservationDTO, LastStateDTO

  Ingest:
    IngestRequest, IngestResultDTO, IngestRunDTO

  Report:
    ReportDTO

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - record/records.go: The persisted shapes behind these
*/
package api

import (
	"github.com/warp/follow-engine/engine"
	"github.com/warp/follow-engine/record"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// AccountDTO represents a tracked account in API responses.
type AccountDTO struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	Abbrev     string `json:"abbrev"`
	LastUpdate string `json:"last_update,omitempty"`
}

// SaveAccountRequest creates or updates a tracked account.
type SaveAccountRequest struct {
	ID         int64  `json:"id,omitempty"`
	Username   string `json:"username"`
	Abbrev     string `json:"abbrev"`
	LastUpdate string `json:"last_update,omitempty"`
}

// PreferencesDTO represents the application preferences row.
type PreferencesDTO struct {
	ID               int64  `json:"id"`
	DefaultAccountID int64  `json:"default_acc_id"`
	ProgressDir      string `json:"progress_dir"`
	DataDir          string `json:"data_dir"`
	SourceURL        string `json:"source_url"`
}

// SavePreferencesRequest updates the preferences row. DateFormat, when
// set, also becomes the ambient format used to parse observation dates.
type SavePreferencesRequest struct {
	DefaultAccountID int64  `json:"default_acc_id"`
	ProgressDir      string `json:"progress_dir"`
	DataDir          string `json:"data_dir"`
	SourceURL        string `json:"source_url"`
	DateFormat       string `json:"date_format,omitempty"`
}

// ObservationDTO represents one follow observation in API responses.
type ObservationDTO struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	AccountID   int64  `json:"acc_id"`
	Date        string `json:"date"`
	IsFollower  bool   `json:"follower"`
	IsFollowing bool   `json:"following"`
}

// LastStateDTO represents the per-user index entry pointing at the most
// recent observation on each side of the relationship.
type LastStateDTO struct {
	Username        string `json:"username"`
	AccountID       int64  `json:"acc_id"`
	LastFollowingID int64  `json:"last_following_id,omitempty"`
	LastFollowerID  int64  `json:"last_follower_id,omitempty"`
}

// IngestRequest asks the engine to merge one snapshot pair.
type IngestRequest struct {
	AccountID     int64  `json:"acc_id"`
	Date          string `json:"date"`
	FollowerPath  string `json:"follower_path"`
	FollowingPath string `json:"following_path"`
}

// IngestResultDTO summarizes one completed ingestion.
type IngestResultDTO struct {
	RunID      string                   `json:"run_id"`
	Inserted   int                      `json:"inserted"`
	Upserted   int                      `json:"upserted"`
	Violations []record.IngestViolation `json:"violations"`
}

// IngestRunDTO represents a persisted ingestion run.
type IngestRunDTO struct {
	ID          string                   `json:"id"`
	AccountID   int64                    `json:"acc_id"`
	Date        string                   `json:"date"`
	Inserted    int64                    `json:"inserted"`
	Upserted    int64                    `json:"upserted"`
	Violations  []record.IngestViolation `json:"violations"`
	StartedAt   string                   `json:"started_at"`
	CompletedAt string                   `json:"completed_at"`
}

// ReportDTO summarizes the current relationship picture for one account.
type ReportDTO struct {
	AccountID       int64  `json:"acc_id"`
	Users           int    `json:"users"`
	Followers       int    `json:"followers"`
	Following       int    `json:"following"`
	DontFollowBack  int    `json:"dont_follow_back"`
	IDontFollowBack int    `json:"i_dont_follow_back"`
	FollowRatio     string `json:"follow_ratio"`
}

// ErrorResponse is the JSON body for all error statuses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toAccountDTO(a *record.Account) AccountDTO {
	return AccountDTO{
		ID:         a.ID,
		Username:   a.Username,
		Abbrev:     a.Abbrev,
		LastUpdate: a.LastUpdate,
	}
}

func toObservationDTO(o *record.FollowObservation) ObservationDTO {
	return ObservationDTO{
		ID:          o.ID,
		Username:    o.Username,
		AccountID:   o.AccountID,
		Date:        o.Date,
		IsFollower:  o.IsFollower,
		IsFollowing: o.IsFollowing,
	}
}

func toLastStateDTO(s *record.LastKnownState) LastStateDTO {
	return LastStateDTO{
		Username:        s.Username,
		AccountID:       s.AccountID,
		LastFollowingID: s.LastFollowingID,
		LastFollowerID:  s.LastFollowerID,
	}
}

func toIngestRunDTO(r *record.IngestRun) IngestRunDTO {
	violations := r.Violations
	if violations == nil {
		violations = []record.IngestViolation{}
	}
	return IngestRunDTO{
		ID:          r.ID,
		AccountID:   r.AccountID,
		Date:        r.Date,
		Inserted:    r.Inserted,
		Upserted:    r.Upserted,
		Violations:  violations,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}

func toReportDTO(r *engine.Report) ReportDTO {
	return ReportDTO{
		AccountID:       r.AccountID,
		Users:           r.Users,
		Followers:       r.Followers,
		Following:       r.Following,
		DontFollowBack:  r.DontFollowBack,
		IDontFollowBack: r.IDontFollowBack,
		FollowRatio:     r.FollowRatio.String(),
	}
}
