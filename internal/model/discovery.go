package model

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the discovery job state machine:
// pending -> running -> completed | failed | cancelled.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// DiscoveryMethod selects the probes run against each candidate host.
type DiscoveryMethod string

const (
	MethodICMP DiscoveryMethod = "icmp"
	MethodSNMP DiscoveryMethod = "snmp"
	MethodBoth DiscoveryMethod = "both"
)

func (m DiscoveryMethod) UsesICMP() bool { return m == MethodICMP || m == MethodBoth }
func (m DiscoveryMethod) UsesSNMP() bool { return m == MethodSNMP || m == MethodBoth }

// Confidence grades a fingerprint.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// DiscoveryJob is one scan of one CIDR range.
type DiscoveryJob struct {
	ID               uuid.UUID       `json:"id"`
	Name             string          `json:"name,omitempty"`
	CIDR             string          `json:"cidr"`
	Method           DiscoveryMethod `json:"method"`
	SNMPCredentialID *uuid.UUID      `json:"snmp_credential_id,omitempty"`
	Status           JobStatus       `json:"status"`
	TotalHosts       int             `json:"total_hosts"`
	ScannedHosts     int             `json:"scanned_hosts"`
	DiscoveredHosts  int             `json:"discovered_hosts"`
	ProgressPercent  int             `json:"progress_percent"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// DiscoveredHost is a responsive address found by a job.
type DiscoveredHost struct {
	ID                  uuid.UUID  `json:"id"`
	JobID               uuid.UUID  `json:"job_id"`
	IPAddress           string     `json:"ip_address"`
	Hostname            string     `json:"hostname,omitempty"`
	MACAddress          string     `json:"mac_address,omitempty"`
	ICMPReachable       bool       `json:"icmp_reachable"`
	SNMPReachable       bool       `json:"snmp_reachable"`
	LatencyMs           *float64   `json:"latency_ms,omitempty"`
	TTL                 int        `json:"ttl,omitempty"`
	SysName             string     `json:"sys_name,omitempty"`
	SysDescr            string     `json:"sys_descr,omitempty"`
	SysObjectID         string     `json:"sys_object_id,omitempty"`
	OpenPorts           []int      `json:"open_ports,omitempty"`
	Vendor              string     `json:"vendor,omitempty"`
	Model               string     `json:"model,omitempty"`
	DeviceType          string     `json:"device_type,omitempty"`
	OSFamily            string     `json:"os_family,omitempty"`
	Confidence          Confidence `json:"confidence"`
	IsAddedToMonitoring bool       `json:"is_added_to_monitoring"`
	DeviceID            *uuid.UUID `json:"device_id,omitempty"`
	DiscoveredAt        time.Time  `json:"discovered_at"`
}

// PollConfig is the polling configuration applied to promoted hosts.
type PollConfig struct {
	PollICMP            bool       `json:"poll_icmp"`
	PollSNMP            bool       `json:"poll_snmp"`
	SNMPCredentialID    *uuid.UUID `json:"snmp_credential_id,omitempty"`
	SNMPPort            int        `json:"snmp_port" validate:"omitempty,min=1,max=65535"`
	PollIntervalSeconds int        `json:"poll_interval_seconds" validate:"omitempty,min=1,max=86400"`
}

// Validate applies the device polling invariants to the promotion config.
func (c *PollConfig) Validate() error {
	d := Device{PollICMP: c.PollICMP, PollSNMP: c.PollSNMP, SNMPCredentialID: c.SNMPCredentialID}
	return d.Validate()
}

// PromoteResult reports the outcome of promoting discovered hosts.
type PromoteResult struct {
	AddedCount   int         `json:"added_count"`
	SkippedCount int         `json:"skipped_count"`
	DeviceIDs    []uuid.UUID `json:"device_ids,omitempty"`
}
