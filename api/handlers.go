/*
handlers.go - HTTP API handlers for the follow tracking system

PURPOSE:
  Exposes the snapshot ingestion engine and its storage via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to
  the engine for domain logic.

ENDPOINTS:
  Accounts:
    GET    /api/accounts                     List tracked accounts
    POST   /api/accounts                     Create or update an account
    GET    /api/accounts/{id}                Get account details

  Observations:
    GET    /api/accounts/{id}/observations   Full observation history
    GET    /api/accounts/{id}/last-states    Per-user last-state index
    GET    /api/accounts/{id}/current        Most recent observation per user
    GET    /api/accounts/{id}/report         Relationship summary

  Ingest:
    POST   /api/ingest                       Merge one snapshot pair
    GET    /api/ingest/runs                  Past ingestion runs

  Preferences:
    GET    /api/preferences                  Active preferences
    PUT    /api/preferences                  Update preferences

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Database access
  - Engine: Snapshot reconciliation
  - Log: Structured logger

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (engine, store)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, malformed snapshots, bad input
  - 404: Resource not found
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/warp/follow-engine/engine"
	"github.com/warp/follow-engine/record"
	"github.com/warp/follow-engine/store/sqlite"
)

// Handler holds all dependencies for API handlers.
type Handler struct {
	Store  *sqlite.Store
	Engine *engine.Engine
	Log    *slog.Logger
}

// NewHandler creates a handler with all dependencies wired.
func NewHandler(store *sqlite.Store, eng *engine.Engine, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Store: store, Engine: eng, Log: log}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts handles GET /api/accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Store.Accounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list accounts", err)
		return
	}

	dtos := make([]AccountDTO, 0, len(accounts))
	for _, acc := range accounts {
		dtos = append(dtos, toAccountDTO(acc))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveAccount handles POST /api/accounts
func (h *Handler) SaveAccount(w http.ResponseWriter, r *http.Request) {
	var req SaveAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required", nil)
		return
	}

	acc := &record.Account{
		ID:         record.SentinelID,
		Username:   req.Username,
		Abbrev:     req.Abbrev,
		LastUpdate: req.LastUpdate,
	}
	if req.ID > 0 {
		acc.ID = req.ID
	}

	id, err := h.Store.SaveAccount(r.Context(), acc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save account", err)
		return
	}
	acc.ID = id

	h.Log.Info("account saved", "id", id, "username", req.Username)
	writeJSON(w, http.StatusCreated, toAccountDTO(acc))
}

// GetAccount handles GET /api/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	acc, err := h.Store.AccountByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load account", err)
		return
	}
	if acc == nil {
		writeError(w, http.StatusNotFound, "account not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acc))
}

// =============================================================================
// OBSERVATION HANDLERS
// =============================================================================

// ListObservations handles GET /api/accounts/{id}/observations
func (h *Handler) ListObservations(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	observations, err := h.Store.ObservationsByAccount(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list observations", err)
		return
	}

	dtos := make([]ObservationDTO, 0, len(observations))
	for _, obs := range observations {
		dtos = append(dtos, toObservationDTO(obs))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListLastStates handles GET /api/accounts/{id}/last-states
func (h *Handler) ListLastStates(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	states, err := h.Store.LastStatesByAccount(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list last states", err)
		return
	}

	dtos := make([]LastStateDTO, 0, len(states))
	for _, st := range states {
		dtos = append(dtos, toLastStateDTO(st))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CurrentObservations handles GET /api/accounts/{id}/current
func (h *Handler) CurrentObservations(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	observations, err := h.Engine.MostRecentObservationsForAccount(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve current observations", err)
		return
	}

	dtos := make([]ObservationDTO, 0, len(observations))
	for _, obs := range observations {
		dtos = append(dtos, toObservationDTO(obs))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetReport handles GET /api/accounts/{id}/report
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}

	report, err := h.Engine.Report(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build report", err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// =============================================================================
// INGEST HANDLERS
// =============================================================================

// Ingest handles POST /api/ingest
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.AccountID <= 0 {
		writeError(w, http.StatusBadRequest, "acc_id is required", nil)
		return
	}
	if req.Date == "" || req.FollowerPath == "" || req.FollowingPath == "" {
		writeError(w, http.StatusBadRequest, "date, follower_path and following_path are required", nil)
		return
	}

	result, err := h.Engine.Ingest(r.Context(), req.FollowerPath, req.FollowingPath, req.AccountID, req.Date)
	switch {
	case errors.Is(err, engine.ErrUnknownAccount):
		writeError(w, http.StatusNotFound, "account not found", err)
		return
	case errors.Is(err, engine.ErrSnapshotShape):
		writeError(w, http.StatusBadRequest, "malformed snapshot", err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "ingest failed", err)
		return
	}

	violations := result.Violations
	if violations == nil {
		violations = []record.IngestViolation{}
	}
	writeJSON(w, http.StatusOK, IngestResultDTO{
		RunID:      result.RunID,
		Inserted:   result.Inserted,
		Upserted:   result.Upserted,
		Violations: violations,
	})
}

// ListRuns handles GET /api/ingest/runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Engine.Runs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list ingest runs", err)
		return
	}

	dtos := make([]IngestRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toIngestRunDTO(run))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PREFERENCES HANDLERS
// =============================================================================

// GetPreferences handles GET /api/preferences
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.Store.ActivePreferences(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load preferences", err)
		return
	}
	if prefs == nil {
		writeError(w, http.StatusNotFound, "preferences not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, PreferencesDTO{
		ID:               prefs.ID,
		DefaultAccountID: prefs.DefaultAccountID,
		ProgressDir:      prefs.ProgressDir,
		DataDir:          prefs.DataDir,
		SourceURL:        prefs.SourceURL,
	})
}

// SavePreferences handles PUT /api/preferences
func (h *Handler) SavePreferences(w http.ResponseWriter, r *http.Request) {
	var req SavePreferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	prefs, err := h.Store.ActivePreferences(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load preferences", err)
		return
	}
	if prefs == nil {
		writeError(w, http.StatusNotFound, "preferences not found", nil)
		return
	}

	prefs.DefaultAccountID = req.DefaultAccountID
	prefs.ProgressDir = req.ProgressDir
	prefs.DataDir = req.DataDir
	prefs.SourceURL = req.SourceURL

	if err := h.Store.SavePreferences(r.Context(), prefs, req.DateFormat); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save preferences", err)
		return
	}

	h.Log.Info("preferences saved", "default_acc_id", req.DefaultAccountID)
	writeJSON(w, http.StatusOK, PreferencesDTO{
		ID:               prefs.ID,
		DefaultAccountID: prefs.DefaultAccountID,
		ProgressDir:      prefs.ProgressDir,
		DataDir:          prefs.DataDir,
		SourceURL:        prefs.SourceURL,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// accountID parses the {id} route parameter, writing a 400 on failure.
func (h *Handler) accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid account id", err)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
