package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nmslite/netmon/internal/model"
	"github.com/nmslite/netmon/internal/store"
)

const (
	defaultAvailabilityWindow = 24 * time.Hour
	maxAvailabilityWindow     = 30 * 24 * time.Hour
)

// DeviceHandler serves devices, on-demand polls and availability.
type DeviceHandler struct {
	devices      store.DeviceStore
	poller       Poller
	availability AvailabilityReader
	alerts       AlertService
}

func NewDeviceHandler(devices store.DeviceStore, poller Poller, availability AvailabilityReader, alerts AlertService) *DeviceHandler {
	return &DeviceHandler{devices: devices, poller: poller, availability: availability, alerts: alerts}
}

// PollRequest selects the protocols of an on-demand poll. An empty list
// polls every enabled protocol.
type PollRequest struct {
	Methods []model.Protocol `json:"methods" validate:"dive,oneof=icmp snmp"`
}

// Create handles POST /devices
func (h *DeviceHandler) Create(w http.ResponseWriter, r *http.Request) {
	dev, ok := decodeJSON[model.Device](w, r)
	if !ok {
		return
	}
	if dev.PollIntervalSeconds == 0 {
		dev.PollIntervalSeconds = model.DefaultPollIntervalSeconds
	}
	if dev.PollSNMP && dev.SNMPPort == 0 {
		dev.SNMPPort = 161
	}
	if err := model.ValidateStruct(&dev); err != nil {
		handleError(w, r, err)
		return
	}
	if err := dev.Validate(); err != nil {
		handleError(w, r, err)
		return
	}

	// observed state is owned by the poller
	dev.ID = uuid.Nil
	dev.IsActive = true
	dev.Status, dev.ICMPStatus, dev.SNMPStatus = model.StatusUnknown, "", ""
	dev.LastPoll, dev.LastICMPPoll, dev.LastSNMPPoll, dev.LatencyMs = nil, nil, nil, nil

	if err := h.devices.CreateDevice(r.Context(), &dev); err != nil {
		handleError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, dev)
}

// Get handles GET /devices/{id}
func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	dev, err := h.devices.GetDevice(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, dev)
}

// Delete handles DELETE /devices/{id}
func (h *DeviceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.devices.DeleteDevice(r.Context(), id); err != nil {
		handleError(w, r, err)
		return
	}
	if h.alerts != nil {
		h.alerts.ForgetDevice(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Poll handles POST /devices/{id}/poll. The report carries the outcome of
// each protocol, so a failed SNMP query does not hide a successful ping.
func (h *DeviceHandler) Poll(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	var req PollRequest
	if r.ContentLength != 0 {
		if req, ok = decodeJSON[PollRequest](w, r); !ok {
			return
		}
	}
	if err := model.ValidateStruct(&req); err != nil {
		handleError(w, r, err)
		return
	}

	report, err := h.poller.TriggerPoll(r.Context(), id, req.Methods)
	if err != nil {
		handleError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, report)
}

// PollerStatus handles GET /poller/status
func (h *DeviceHandler) PollerStatus(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, h.poller.Status())
}

// Availability handles GET /devices/{id}/availability?hours=24
func (h *DeviceHandler) Availability(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	window := defaultAvailabilityWindow
	if v := r.URL.Query().Get("hours"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours <= 0 || time.Duration(hours)*time.Hour > maxAvailabilityWindow {
			sendError(w, r, http.StatusBadRequest, "INVALID_WINDOW", "hours must be between 1 and 720", nil)
			return
		}
		window = time.Duration(hours) * time.Hour
	}

	if _, err := h.devices.GetDevice(r.Context(), id); err != nil {
		handleError(w, r, err)
		return
	}
	avail, err := h.availability.Availability(r.Context(), id, window, time.Now())
	if err != nil {
		handleError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, avail)
}

// Interfaces handles GET /devices/{id}/interfaces
func (h *DeviceHandler) Interfaces(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	ifaces, err := h.devices.ListInterfaces(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	sendList(w, ifaces)
}

// Volumes handles GET /devices/{id}/volumes
func (h *DeviceHandler) Volumes(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	vols, err := h.devices.ListVolumes(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	sendList(w, vols)
}
