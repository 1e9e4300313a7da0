// Package probe runs single bounded-time health checks against one target.
//
// Ordinary network failures never surface as Go errors from Probe: they are
// folded into a Result with Reachable=false and a diagnostic Code. Only SNMP
// authentication problems are kept distinguishable through ErrAuth.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/nmslite/netmon/internal/model"
)

// Code is the diagnostic outcome of a probe.
type Code string

const (
	CodeOK          Code = "ok"
	CodeTimeout     Code = "timeout"
	CodeUnreachable Code = "unreachable"
	CodeRefused     Code = "refused"
	CodeMalformed   Code = "malformed"
	CodeAuthError   Code = "auth_error"
	CodeInternal    Code = "internal"

	// CodeCredentialError is set by callers that could not resolve the
	// credentials a probe needs; the probe itself never ran.
	CodeCredentialError Code = "credential_error"
)

// ErrAuth marks SNMP USM authentication or privacy failures.
var ErrAuth = errors.New("snmp authentication failed")

// Target identifies what to probe.
type Target struct {
	IP   string
	Port int

	// SNMP is required by the SNMP prober only.
	SNMP *model.SNMPv3Params
}

// SystemInfo is the SNMPv2-MIB system group.
type SystemInfo struct {
	SysDescr      string
	SysObjectID   string
	SysName       string
	UptimeSeconds int64
}

// DeviceMetrics is the optional SNMP collection attached to a successful poll.
type DeviceMetrics struct {
	CPUPercent    *float64
	MemoryPercent *float64
	Interfaces    []model.Interface
	Volumes       []model.Volume
}

// Result is the outcome of one probe.
type Result struct {
	Protocol   model.Protocol
	Reachable  bool
	Code       Code
	LatencyMs  *float64
	PacketLoss *float64
	TTL        int
	OpenPorts  []int
	System     *SystemInfo
	Metrics    *DeviceMetrics
	Err        error
}

// IsAuthError reports whether the probe failed on credentials rather than
// device availability.
func (r Result) IsAuthError() bool {
	return r.Code == CodeAuthError || errors.Is(r.Err, ErrAuth)
}

// Prober executes one check. Implementations must return within timeout.
type Prober interface {
	Probe(ctx context.Context, t Target, timeout time.Duration) Result
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, t Target, timeout time.Duration) Result

func (f ProberFunc) Probe(ctx context.Context, t Target, timeout time.Duration) Result {
	return f(ctx, t, timeout)
}

// race runs fn with a deadline and returns a timeout result if the deadline
// fires first. fn keeps running in the background until it observes ctx.
func race(ctx context.Context, proto model.Protocol, timeout time.Duration, fn func(ctx context.Context) Result) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- Result{Protocol: proto, Code: CodeInternal, Err: fmt.Errorf("probe panic: %v", rec)}
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case r := <-done:
		r.Protocol = proto
		return r
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{Protocol: proto, Code: CodeTimeout, Err: ctx.Err()}
		}
		return Result{Protocol: proto, Code: CodeInternal, Err: ctx.Err()}
	}
}

// classify maps a network error to a diagnostic code.
func classify(err error) Code {
	if err == nil {
		return CodeOK
	}
	if errors.Is(err, ErrAuth) {
		return CodeAuthError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout
	}
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return CodeRefused
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTDOWN):
		return CodeUnreachable
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return CodeTimeout
	case strings.Contains(msg, "connection refused"):
		return CodeRefused
	case strings.Contains(msg, "unmarshal"), strings.Contains(msg, "decode"), strings.Contains(msg, "malformed"):
		return CodeMalformed
	case strings.Contains(msg, "operation not permitted"), strings.Contains(msg, "permission denied"):
		return CodeInternal
	}
	return CodeUnreachable
}

func failure(err error) Result {
	return Result{Code: classify(err), Err: err}
}

func msSince(start time.Time) *float64 {
	ms := float64(time.Since(start).Microseconds()) / 1000
	return &ms
}
