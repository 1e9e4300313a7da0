// Package model holds the entities shared by the poller, discovery runner,
// alert engine and persistence layer.
package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the observed health of a device or of one of its protocols.
type Status string

const (
	StatusUp      Status = "up"
	StatusDown    Status = "down"
	StatusUnknown Status = "unknown"
)

// Protocol identifies a polling method.
type Protocol string

const (
	ProtocolICMP Protocol = "icmp"
	ProtocolSNMP Protocol = "snmp"
)

// Capabilities is the set of protocols enabled for a device.
type Capabilities struct {
	ICMP bool `json:"icmp"`
	SNMP bool `json:"snmp"`
}

// Protocols lists the enabled protocols in a stable order.
func (c Capabilities) Protocols() []Protocol {
	var out []Protocol
	if c.ICMP {
		out = append(out, ProtocolICMP)
	}
	if c.SNMP {
		out = append(out, ProtocolSNMP)
	}
	return out
}

// Intersect narrows the capability set to the requested protocols.
// An empty request keeps the set unchanged.
func (c Capabilities) Intersect(methods []Protocol) Capabilities {
	if len(methods) == 0 {
		return c
	}
	var req Capabilities
	for _, m := range methods {
		switch m {
		case ProtocolICMP:
			req.ICMP = true
		case ProtocolSNMP:
			req.SNMP = true
		}
	}
	return Capabilities{ICMP: c.ICMP && req.ICMP, SNMP: c.SNMP && req.SNMP}
}

// Empty reports whether no protocol is enabled.
func (c Capabilities) Empty() bool {
	return !c.ICMP && !c.SNMP
}

const DefaultPollIntervalSeconds = 60

var (
	ErrNoProtocol          = errors.New("at least one of poll_icmp or poll_snmp must be enabled")
	ErrMissingCredential   = errors.New("snmp polling requires an snmp credential")
	ErrInvalidPollInterval = errors.New("poll interval must be positive")
)

// Device is a monitored network device.
type Device struct {
	ID                  uuid.UUID  `json:"id"`
	Name                string     `json:"name" validate:"required,max=255"`
	IPAddress           string     `json:"ip_address" validate:"required,ip"`
	PollICMP            bool       `json:"poll_icmp"`
	PollSNMP            bool       `json:"poll_snmp"`
	SNMPCredentialID    *uuid.UUID `json:"snmp_credential_id,omitempty"`
	SNMPPort            int        `json:"snmp_port" validate:"omitempty,min=1,max=65535"`
	PollIntervalSeconds int        `json:"poll_interval_seconds" validate:"omitempty,min=1,max=86400"`
	IsActive            bool       `json:"is_active"`

	Vendor     string `json:"vendor,omitempty"`
	Model      string `json:"model,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
	OSFamily   string `json:"os_family,omitempty"`

	ICMPStatus   Status     `json:"icmp_status"`
	SNMPStatus   Status     `json:"snmp_status"`
	Status       Status     `json:"status"`
	LatencyMs    *float64   `json:"latency_ms,omitempty"`
	LastPoll     *time.Time `json:"last_poll,omitempty"`
	LastICMPPoll *time.Time `json:"last_icmp_poll,omitempty"`
	LastSNMPPoll *time.Time `json:"last_snmp_poll,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Capabilities returns the protocols this device is configured to poll.
func (d *Device) Capabilities() Capabilities {
	return Capabilities{ICMP: d.PollICMP, SNMP: d.PollSNMP}
}

// PollInterval returns the configured interval, falling back to the default.
func (d *Device) PollInterval() time.Duration {
	if d.PollIntervalSeconds <= 0 {
		return DefaultPollIntervalSeconds * time.Second
	}
	return time.Duration(d.PollIntervalSeconds) * time.Second
}

// IsDue reports whether lastPoll + pollInterval <= now. A device that has
// never been polled is always due.
func (d *Device) IsDue(now time.Time) bool {
	if !d.IsActive {
		return false
	}
	if d.LastPoll == nil {
		return true
	}
	return !d.LastPoll.Add(d.PollInterval()).After(now)
}

// Validate checks the polling configuration invariants.
func (d *Device) Validate() error {
	if d.Capabilities().Empty() {
		return ErrNoProtocol
	}
	if d.PollSNMP && (d.SNMPCredentialID == nil || *d.SNMPCredentialID == uuid.Nil) {
		return ErrMissingCredential
	}
	if d.PollIntervalSeconds < 0 {
		return ErrInvalidPollInterval
	}
	return nil
}

// StatusUpdate is the set of observed-state fields written by the status
// aggregator. Nil pointers leave the stored value untouched.
type StatusUpdate struct {
	ICMPStatus   *Status
	SNMPStatus   *Status
	Status       Status
	LatencyMs    *float64
	LastPoll     time.Time
	LastICMPPoll *time.Time
	LastSNMPPoll *time.Time
}

// ApplyTo copies the update onto a device.
func (u StatusUpdate) ApplyTo(d *Device) {
	if u.ICMPStatus != nil {
		d.ICMPStatus = *u.ICMPStatus
	}
	if u.SNMPStatus != nil {
		d.SNMPStatus = *u.SNMPStatus
	}
	d.Status = u.Status
	if u.LatencyMs != nil {
		v := *u.LatencyMs
		d.LatencyMs = &v
	}
	lp := u.LastPoll
	d.LastPoll = &lp
	if u.LastICMPPoll != nil {
		t := *u.LastICMPPoll
		d.LastICMPPoll = &t
	}
	if u.LastSNMPPoll != nil {
		t := *u.LastSNMPPoll
		d.LastSNMPPoll = &t
	}
}

// Interface is a per-device network interface keyed by (DeviceID, IfIndex).
type Interface struct {
	DeviceID       uuid.UUID `json:"device_id"`
	IfIndex        int       `json:"if_index"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Alias          string    `json:"alias,omitempty"`
	MACAddress     string    `json:"mac_address,omitempty"`
	SpeedMbps      uint64    `json:"speed_mbps"`
	AdminStatus    string    `json:"admin_status"`
	OperStatus     string    `json:"oper_status"`
	InOctets       uint64    `json:"in_octets"`
	OutOctets      uint64    `json:"out_octets"`
	InErrors       uint64    `json:"in_errors"`
	OutErrors      uint64    `json:"out_errors"`
	InUtilization  *float64  `json:"in_utilization,omitempty"`
	OutUtilization *float64  `json:"out_utilization,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Volume is a per-device storage volume keyed by (DeviceID, Index).
type Volume struct {
	DeviceID     uuid.UUID `json:"device_id"`
	Index        int       `json:"index"`
	Description  string    `json:"description"`
	TotalBytes   uint64    `json:"total_bytes"`
	UsedBytes    uint64    `json:"used_bytes"`
	UsagePercent float64   `json:"usage_percent"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MetricSample is one append-only time-series row written per poll attempt.
type MetricSample struct {
	DeviceID      uuid.UUID         `json:"device_id"`
	CollectedAt   time.Time         `json:"collected_at"`
	Reachable     bool              `json:"reachable"`
	Status        Status            `json:"status"`
	ICMPReachable *bool             `json:"icmp_reachable,omitempty"`
	SNMPReachable *bool             `json:"snmp_reachable,omitempty"`
	LatencyMs     *float64          `json:"latency_ms,omitempty"`
	PacketLoss    *float64          `json:"packet_loss,omitempty"`
	CPUPercent    *float64          `json:"cpu_percent,omitempty"`
	MemoryPercent *float64          `json:"memory_percent,omitempty"`
	UptimeSeconds *int64            `json:"uptime_seconds,omitempty"`
	Interfaces    []InterfaceSample `json:"interfaces,omitempty"`
	Volumes       []VolumeSample    `json:"volumes,omitempty"`
}

// InterfaceSample is the counter snapshot of one interface within a sample.
type InterfaceSample struct {
	IfIndex    int    `json:"if_index"`
	OperStatus string `json:"oper_status"`
	InOctets   uint64 `json:"in_octets"`
	OutOctets  uint64 `json:"out_octets"`
	InErrors   uint64 `json:"in_errors"`
	OutErrors  uint64 `json:"out_errors"`
}

// VolumeSample is the usage snapshot of one volume within a sample.
type VolumeSample struct {
	Index        int     `json:"index"`
	UsagePercent float64 `json:"usage_percent"`
}

// Availability summarises reachability over a window of attempted polls.
type Availability struct {
	DeviceID   uuid.UUID `json:"device_id"`
	Since      time.Time `json:"since"`
	Attempts   int       `json:"attempts"`
	Reachable  int       `json:"reachable"`
	Percent    float64   `json:"percent"`
	AvgLatency *float64  `json:"avg_latency_ms,omitempty"`
}

// PollerStatus is the read-only view exposed by the scheduler.
type PollerStatus struct {
	IsRunning   bool         `json:"is_running"`
	ActivePolls int64        `json:"active_polls"`
	CycleCount  int64        `json:"cycle_count"`
	LastCycleAt *time.Time   `json:"last_cycle_at,omitempty"`
	Config      PollerConfig `json:"config"`
}

// PollerConfig is the effective scheduler configuration reported by status.
type PollerConfig struct {
	TickInterval       time.Duration `json:"tick_interval"`
	MaxConcurrentPolls int           `json:"max_concurrent_polls"`
	BatchSize          int           `json:"batch_size"`
	ICMPTimeout        time.Duration `json:"icmp_timeout"`
	SNMPTimeout        time.Duration `json:"snmp_timeout"`
}
