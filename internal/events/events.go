// Package events fans engine events out to in-process sinks: the structured
// log, a NATS JetStream stream and connected websocket clients.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nmslite/netmon/internal/model"
)

// Kind names an event. Sinks that route by subject append it to a prefix.
type Kind string

const (
	KindDeviceStatus      Kind = "device.status"
	KindAlertFired        Kind = "alert.fired"
	KindAlertAcknowledged Kind = "alert.acknowledged"
	KindAlertResolved     Kind = "alert.resolved"
	KindDiscoveryProgress Kind = "discovery.progress"
	KindDiscoveryHost     Kind = "discovery.host"
	KindDiscoveryComplete Kind = "discovery.complete"
)

// Event is the envelope delivered to every sink.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// New stamps an event with a fresh id and the current time.
func New(kind Kind, payload any) Event {
	return Event{
		ID:        uuid.New(),
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// DeviceStatusChanged is published when a device's composite status changes.
type DeviceStatusChanged struct {
	DeviceID  uuid.UUID    `json:"device_id"`
	IPAddress string       `json:"ip_address"`
	Previous  model.Status `json:"previous"`
	Current   model.Status `json:"current"`
}

// AlertChanged carries the alert after a lifecycle transition.
type AlertChanged struct {
	Alert model.Alert `json:"alert"`
}

// DiscoveryProgress reports a job's counters.
type DiscoveryProgress struct {
	JobID           uuid.UUID       `json:"job_id"`
	Status          model.JobStatus `json:"status"`
	TotalHosts      int             `json:"total_hosts"`
	ScannedHosts    int             `json:"scanned_hosts"`
	DiscoveredHosts int             `json:"discovered_hosts"`
	ProgressPercent int             `json:"progress_percent"`
	ErrorMessage    string          `json:"error_message,omitempty"`
}

// DiscoveryHostFound is published for every responsive host.
type DiscoveryHostFound struct {
	JobID uuid.UUID            `json:"job_id"`
	Host  model.DiscoveredHost `json:"host"`
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(e Event)
}

// Sink delivers events to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}
