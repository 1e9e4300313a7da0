package model

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Severity orders alerts for triage: critical > warning > info.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Rank returns a comparable weight, higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// AlertState is the lifecycle state of an alert.
type AlertState string

const (
	AlertActive       AlertState = "active"
	AlertAcknowledged AlertState = "acknowledged"
	AlertResolved     AlertState = "resolved"
)

// MetricType names the observation an alert rule evaluates.
type MetricType string

const (
	MetricStatus        MetricType = "status"
	MetricLatency       MetricType = "latency_ms"
	MetricPacketLoss    MetricType = "packet_loss"
	MetricCPU           MetricType = "cpu_percent"
	MetricMemory        MetricType = "memory_percent"
	MetricInterfaceDown MetricType = "interface_down"
	MetricVolumeUsage   MetricType = "volume_usage_percent"
)

// Comparator is the relational operator of an alert rule.
type Comparator string

const (
	CompareGT  Comparator = "gt"
	CompareGTE Comparator = "gte"
	CompareLT  Comparator = "lt"
	CompareLTE Comparator = "lte"
	CompareEQ  Comparator = "eq"
	CompareNE  Comparator = "ne"
)

// Holds reports whether value <op> threshold.
func (c Comparator) Holds(value, threshold float64) bool {
	switch c {
	case CompareGT:
		return value > threshold
	case CompareGTE:
		return value >= threshold
	case CompareLT:
		return value < threshold
	case CompareLTE:
		return value <= threshold
	case CompareEQ:
		return value == threshold
	case CompareNE:
		return value != threshold
	default:
		return false
	}
}

// Symbol is the operator as displayed in alert messages.
func (c Comparator) Symbol() string {
	switch c {
	case CompareGT:
		return ">"
	case CompareGTE:
		return ">="
	case CompareLT:
		return "<"
	case CompareLTE:
		return "<="
	case CompareEQ:
		return "=="
	case CompareNE:
		return "!="
	default:
		return string(c)
	}
}

// AlertRule is an admin-owned condition evaluated after every poll.
// A nil DeviceID applies the rule to every device.
type AlertRule struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name" validate:"required"`
	DeviceID        *uuid.UUID `json:"device_id,omitempty"`
	MetricType      MetricType `json:"metric_type" validate:"required,oneof=status latency_ms packet_loss cpu_percent memory_percent interface_down volume_usage_percent"`
	Comparator      Comparator `json:"comparator" validate:"required,oneof=gt gte lt lte eq ne"`
	Threshold       float64    `json:"threshold"`
	DurationSeconds int        `json:"duration_seconds" validate:"min=0"`
	Severity        Severity   `json:"severity" validate:"required,oneof=critical warning info"`
	Enabled         bool       `json:"enabled"`
	CreatedAt       time.Time  `json:"created_at"`
}

// AppliesTo reports whether the rule targets the device.
func (r *AlertRule) AppliesTo(deviceID uuid.UUID) bool {
	return r.Enabled && (r.DeviceID == nil || *r.DeviceID == deviceID)
}

// Duration returns the required breach duration.
func (r *AlertRule) Duration() time.Duration {
	return time.Duration(r.DurationSeconds) * time.Second
}

// Describe renders the breach message for an observed value.
func (r *AlertRule) Describe(value float64) string {
	return fmt.Sprintf("%s: %s %.2f %s %.2f", r.Name, r.MetricType, value, r.Comparator.Symbol(), r.Threshold)
}

// Alert is one occurrence of a rule breach for a device.
type Alert struct {
	ID             uuid.UUID  `json:"id"`
	RuleID         uuid.UUID  `json:"rule_id"`
	DeviceID       uuid.UUID  `json:"device_id"`
	Severity       Severity   `json:"severity"`
	State          AlertState `json:"state"`
	Message        string     `json:"message"`
	Value          float64    `json:"value"`
	Threshold      float64    `json:"threshold"`
	TriggeredAt    time.Time  `json:"triggered_at"`
	LastSeenAt     time.Time  `json:"last_seen_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// IsOpen reports whether the alert is active or acknowledged.
func (a *Alert) IsOpen() bool {
	return a.State == AlertActive || a.State == AlertAcknowledged
}

// SortAlerts orders alerts by severity, most severe first, then by newest trigger.
func SortAlerts(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		ri, rj := alerts[i].Severity.Rank(), alerts[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return alerts[i].TriggeredAt.After(alerts[j].TriggeredAt)
	})
}
