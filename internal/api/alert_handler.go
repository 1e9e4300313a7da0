package api

import (
	"net/http"

	"github.com/nmslite/netmon/internal/middleware"
	"github.com/nmslite/netmon/internal/model"
)

// AlertHandler handles alert and alert rule endpoints
type AlertHandler struct {
	alerts AlertService
}

func NewAlertHandler(alerts AlertService) *AlertHandler {
	return &AlertHandler{alerts: alerts}
}

// List handles GET /alerts. ?state=open limits the result to active and
// acknowledged alerts.
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	openOnly := r.URL.Query().Get("state") == "open"
	alerts, err := h.alerts.List(r.Context(), openOnly)
	if err != nil {
		handleError(w, r, err)
		return
	}
	sendList(w, alerts)
}

// Acknowledge handles POST /alerts/{id}/acknowledge
func (h *AlertHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	alert, err := h.alerts.Acknowledge(r.Context(), id, middleware.Username(r.Context()))
	if err != nil {
		handleError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, alert)
}

// Resolve handles POST /alerts/{id}/resolve
func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	alert, err := h.alerts.Resolve(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, alert)
}

// ListRules handles GET /alerts/rules
func (h *AlertHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.alerts.Rules(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	sendList(w, rules)
}

// CreateRule handles POST /alerts/rules
func (h *AlertHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := decodeJSON[model.AlertRule](w, r)
	if !ok {
		return
	}
	if err := h.alerts.CreateRule(r.Context(), &rule); err != nil {
		handleError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, rule)
}
