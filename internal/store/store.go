// Package store defines the narrow persistence contract used by the engine
// and provides in-memory and PostgreSQL implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nmslite/netmon/internal/model"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrCredentialInUse = errors.New("credential is referenced by one or more devices")
	ErrDuplicateIP     = errors.New("a device with this ip address already exists")
	ErrDuplicateAlert  = errors.New("an open alert already exists for this rule and device")
	ErrAlertState      = errors.New("alert is not in a state that allows this transition")
)

// DeviceStore covers devices and their interface/volume sub-resources.
type DeviceStore interface {
	ListDueDevices(ctx context.Context, now time.Time) ([]model.Device, error)
	GetDevice(ctx context.Context, id uuid.UUID) (*model.Device, error)
	GetDeviceByIP(ctx context.Context, ip string) (*model.Device, error)
	CreateDevice(ctx context.Context, d *model.Device) error
	DeleteDevice(ctx context.Context, id uuid.UUID) error
	UpdateDeviceStatus(ctx context.Context, id uuid.UUID, u model.StatusUpdate) error
	ListInterfaces(ctx context.Context, deviceID uuid.UUID) ([]model.Interface, error)
	UpsertInterfaces(ctx context.Context, deviceID uuid.UUID, ifaces []model.Interface) error
	ListVolumes(ctx context.Context, deviceID uuid.UUID) ([]model.Volume, error)
	UpsertVolumes(ctx context.Context, deviceID uuid.UUID, vols []model.Volume) error
}

// CredentialStore covers SNMPv3 credentials.
type CredentialStore interface {
	GetCredential(ctx context.Context, id uuid.UUID) (*model.SNMPCredential, error)
	CreateCredential(ctx context.Context, c *model.SNMPCredential) error
	DeleteCredential(ctx context.Context, id uuid.UUID) error
}

// MetricStore is the append-only sample log.
type MetricStore interface {
	InsertSamples(ctx context.Context, samples []model.MetricSample) error
	ListSamples(ctx context.Context, deviceID uuid.UUID, since time.Time) ([]model.MetricSample, error)
}

// AlertStore covers rules and alerts. At most one open alert exists per
// (rule, device) pair.
//
// Lifecycle writes are conditional on the stored state. RefreshAlert and
// ResolveAlert apply only to open alerts, AcknowledgeAlert only to active
// ones; a miss returns ErrAlertState, or ErrNotFound for an unknown id.
type AlertStore interface {
	ListRules(ctx context.Context) ([]model.AlertRule, error)
	CreateRule(ctx context.Context, r *model.AlertRule) error
	GetOpenAlert(ctx context.Context, ruleID, deviceID uuid.UUID) (*model.Alert, error)
	CreateAlert(ctx context.Context, a *model.Alert) error
	RefreshAlert(ctx context.Context, id uuid.UUID, value float64, severity model.Severity, at time.Time) error
	AcknowledgeAlert(ctx context.Context, id uuid.UUID, by string, at time.Time) (*model.Alert, error)
	ResolveAlert(ctx context.Context, id uuid.UUID, at time.Time) (*model.Alert, error)
	GetAlert(ctx context.Context, id uuid.UUID) (*model.Alert, error)
	ListAlerts(ctx context.Context, openOnly bool) ([]model.Alert, error)
}

// DiscoveryStore covers discovery jobs and their hosts.
type DiscoveryStore interface {
	CreateJob(ctx context.Context, j *model.DiscoveryJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*model.DiscoveryJob, error)
	UpdateJob(ctx context.Context, j *model.DiscoveryJob) error
	UpdateJobProgress(ctx context.Context, id uuid.UUID, scanned, discovered, percent int) error
	ListJobs(ctx context.Context, statuses ...model.JobStatus) ([]model.DiscoveryJob, error)
	UpsertHost(ctx context.Context, h *model.DiscoveredHost) error
	ListHosts(ctx context.Context, jobID uuid.UUID) ([]model.DiscoveredHost, error)
	DeleteHosts(ctx context.Context, jobID uuid.UUID) error
	MarkHostPromoted(ctx context.Context, hostID, deviceID uuid.UUID) error
}

// Store aggregates every contract.
type Store interface {
	DeviceStore
	CredentialStore
	MetricStore
	AlertStore
	DiscoveryStore
	Ping(ctx context.Context) error
	Close()
}
