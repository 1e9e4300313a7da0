package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/nmslite/netmon/internal/discovery"
	"github.com/nmslite/netmon/internal/model"
)

// DiscoveryHandler handles discovery job endpoints
type DiscoveryHandler struct {
	jobs DiscoveryService
}

func NewDiscoveryHandler(jobs DiscoveryService) *DiscoveryHandler {
	return &DiscoveryHandler{jobs: jobs}
}

// PromoteRequest selects discovered hosts and the polling config applied
// to the devices created from them.
type PromoteRequest struct {
	HostIDs    []uuid.UUID      `json:"host_ids" validate:"required,min=1"`
	PollConfig model.PollConfig `json:"poll_config"`
}

// List handles GET /discovery/jobs
func (h *DiscoveryHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.List(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	sendList(w, jobs)
}

// Start handles POST /discovery/jobs
func (h *DiscoveryHandler) Start(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[discovery.StartRequest](w, r)
	if !ok {
		return
	}
	job, err := h.jobs.Start(r.Context(), req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	sendJSON(w, http.StatusAccepted, job)
}

// Get handles GET /discovery/jobs/{id}
func (h *DiscoveryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, job)
}

// Cancel handles POST /discovery/jobs/{id}/cancel
func (h *DiscoveryHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	job, err := h.jobs.Cancel(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	sendJSON(w, http.StatusAccepted, job)
}

// Hosts handles GET /discovery/jobs/{id}/hosts
func (h *DiscoveryHandler) Hosts(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	hosts, err := h.jobs.ListHosts(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	sendList(w, hosts)
}

// Promote handles POST /discovery/jobs/{id}/promote
func (h *DiscoveryHandler) Promote(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	req, ok := decodeJSON[PromoteRequest](w, r)
	if !ok {
		return
	}
	if err := model.ValidateStruct(&req); err != nil {
		handleError(w, r, err)
		return
	}

	res, err := h.jobs.Promote(r.Context(), id, req.HostIDs, req.PollConfig)
	if err != nil {
		handleError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, res)
}
