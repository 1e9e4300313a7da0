package api

import (
	"net/http"

	"github.com/nmslite/netmon/internal/model"
	"github.com/nmslite/netmon/internal/store"
)

// CredentialHandler handles SNMPv3 credential endpoints. Secrets are
// accepted on create and never returned.
type CredentialHandler struct {
	creator CredentialCreator
	store   store.CredentialStore
}

func NewCredentialHandler(creator CredentialCreator, st store.CredentialStore) *CredentialHandler {
	return &CredentialHandler{creator: creator, store: st}
}

// CreateCredentialRequest is the create payload.
type CreateCredentialRequest struct {
	Name string `json:"name" validate:"required,max=255"`
	model.SNMPv3Params
}

// Create handles POST /credentials
func (h *CredentialHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[CreateCredentialRequest](w, r)
	if !ok {
		return
	}
	if err := model.ValidateStruct(&req); err != nil {
		handleError(w, r, err)
		return
	}

	cred, err := h.creator.Create(r.Context(), req.Name, req.SNMPv3Params)
	if err != nil {
		handleError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, cred)
}

// Delete handles DELETE /credentials/{id}
func (h *CredentialHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteCredential(r.Context(), id); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
