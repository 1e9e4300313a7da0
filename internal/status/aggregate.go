// Package status turns per-protocol probe results into device state.
//
// Aggregate is pure and idempotent: applying the same poll result twice to
// a device yields the same update. Aggregator persists that update together
// with interface, volume and sample data.
package status

import (
	"time"

	"github.com/google/uuid"
	"github.com/nmslite/netmon/internal/model"
	"github.com/nmslite/netmon/internal/probe"
)

// PollResult is one poll attempt against one device. Results holds an
// entry for every protocol that was attempted, including failures.
type PollResult struct {
	DeviceID uuid.UUID
	PolledAt time.Time
	Results  map[model.Protocol]probe.Result
}

// ProtocolOutcome is the caller-facing summary of one protocol's result.
type ProtocolOutcome struct {
	Protocol  model.Protocol `json:"protocol"`
	Status    model.Status   `json:"status"`
	Reachable bool           `json:"reachable"`
	Code      probe.Code     `json:"code"`
	LatencyMs *float64       `json:"latency_ms,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Outcomes lists per-protocol outcomes in a stable order.
func (r PollResult) Outcomes() []ProtocolOutcome {
	var out []ProtocolOutcome
	for _, proto := range []model.Protocol{model.ProtocolICMP, model.ProtocolSNMP} {
		res, ok := r.Results[proto]
		if !ok {
			continue
		}
		o := ProtocolOutcome{
			Protocol:  proto,
			Status:    ProtocolStatus(res),
			Reachable: res.Reachable,
			Code:      res.Code,
			LatencyMs: res.LatencyMs,
		}
		if res.Err != nil {
			o.Error = res.Err.Error()
		}
		out = append(out, o)
	}
	return out
}

// ProtocolStatus maps one probe result onto a per-protocol status.
// Results that say nothing about device availability (credential,
// authentication and internal failures) map to unknown.
func ProtocolStatus(res probe.Result) model.Status {
	switch {
	case res.Reachable:
		return model.StatusUp
	case res.Code == probe.CodeAuthError, res.Code == probe.CodeCredentialError, res.Code == probe.CodeInternal:
		return model.StatusUnknown
	default:
		return model.StatusDown
	}
}

// Aggregate computes the status update for prev given a poll result.
//
// Only protocols enabled on the device are considered. A protocol that was
// not attempted keeps its stored status and timestamp. The composite status
// is up when any enabled protocol is up, down when every enabled protocol
// is down, and unknown otherwise. LastPoll is stamped on every attempt.
func Aggregate(prev *model.Device, r PollResult) model.StatusUpdate {
	u := model.StatusUpdate{LastPoll: r.PolledAt}

	var up, down, total int
	for _, proto := range prev.Capabilities().Protocols() {
		st := stored(prev, proto)
		if res, ok := r.Results[proto]; ok {
			st = ProtocolStatus(res)
			s, at := st, r.PolledAt
			switch proto {
			case model.ProtocolICMP:
				u.ICMPStatus, u.LastICMPPoll = &s, &at
			case model.ProtocolSNMP:
				u.SNMPStatus, u.LastSNMPPoll = &s, &at
			}
		}

		total++
		switch st {
		case model.StatusUp:
			up++
		case model.StatusDown:
			down++
		}
	}

	switch {
	case up > 0:
		u.Status = model.StatusUp
	case total > 0 && down == total:
		u.Status = model.StatusDown
	default:
		u.Status = model.StatusUnknown
	}

	u.LatencyMs = latency(prev.Capabilities(), r)
	return u
}

func stored(d *model.Device, proto model.Protocol) model.Status {
	var st model.Status
	switch proto {
	case model.ProtocolICMP:
		st = d.ICMPStatus
	case model.ProtocolSNMP:
		st = d.SNMPStatus
	}
	if st == "" {
		return model.StatusUnknown
	}
	return st
}

// latency prefers the ICMP round trip over the SNMP request time.
func latency(enabled model.Capabilities, r PollResult) *float64 {
	for _, proto := range enabled.Protocols() {
		if res, ok := r.Results[proto]; ok && res.Reachable && res.LatencyMs != nil {
			v := *res.LatencyMs
			return &v
		}
	}
	return nil
}
