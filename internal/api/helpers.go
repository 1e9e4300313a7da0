package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nmslite/netmon/internal/alerts"
	"github.com/nmslite/netmon/internal/discovery"
	"github.com/nmslite/netmon/internal/middleware"
	"github.com/nmslite/netmon/internal/model"
	"github.com/nmslite/netmon/internal/poller"
	"github.com/nmslite/netmon/internal/store"
)

// ListResponse is the envelope for collection endpoints.
type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

// sendJSON sends a JSON response
func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func sendList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	sendJSON(w, http.StatusOK, ListResponse[T]{Data: items, Total: len(items)})
}

// sendError sends a standardized error response
func sendError(w http.ResponseWriter, r *http.Request, status int, code, message string, details interface{}) {
	middleware.WriteError(w, r, status, code, message, details)
}

// parseUUIDParam extracts and validates a UUID from URL params
func parseUUIDParam(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid UUID format", nil)
		return uuid.Nil, false
	}
	return id, true
}

// decodeJSON decodes request body with error handling
func decodeJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var input T
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendError(w, r, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON body", err.Error())
		return input, false
	}
	return input, true
}

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{store.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{poller.ErrDeviceNotFound, http.StatusNotFound, "NOT_FOUND"},
	{discovery.ErrJobNotFound, http.StatusNotFound, "NOT_FOUND"},
	{alerts.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{poller.ErrPollInProgress, http.StatusConflict, "POLL_IN_PROGRESS"},
	{discovery.ErrJobNotCancellable, http.StatusConflict, "JOB_FINISHED"},
	{discovery.ErrJobNotComplete, http.StatusConflict, "JOB_NOT_COMPLETE"},
	{alerts.ErrAlertResolved, http.StatusConflict, "ALERT_RESOLVED"},
	{store.ErrDuplicateIP, http.StatusConflict, "DUPLICATE_IP"},
	{store.ErrCredentialInUse, http.StatusConflict, "CREDENTIAL_IN_USE"},
	{discovery.ErrInvalidCIDR, http.StatusBadRequest, "INVALID_CIDR"},
	{poller.ErrNoMethods, http.StatusBadRequest, "NO_METHODS"},
	{model.ErrNoProtocol, http.StatusBadRequest, "VALIDATION_ERROR"},
	{model.ErrMissingCredential, http.StatusBadRequest, "VALIDATION_ERROR"},
	{model.ErrInvalidPollInterval, http.StatusBadRequest, "VALIDATION_ERROR"},
}

// handleError maps domain errors onto the error envelope. Unknown errors
// are reported as 500 without leaking their text.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *model.ValidationErrors
	if errors.As(err, &verr) {
		sendError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Request validation failed", verr.Errors)
		return
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			sendError(w, r, m.status, m.code, err.Error(), nil)
			return
		}
	}
	sendError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
}
