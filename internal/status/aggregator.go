package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nmslite/netmon/internal/events"
	"github.com/nmslite/netmon/internal/model"
	"github.com/nmslite/netmon/internal/probe"
	"github.com/nmslite/netmon/internal/store"
)

// ErrDeviceGone is returned when the device was deleted while it was being
// polled. The poll result is discarded.
var ErrDeviceGone = errors.New("device no longer exists")

// SampleWriter accepts metric samples for asynchronous persistence.
type SampleWriter interface {
	Submit(ctx context.Context, sample model.MetricSample) error
}

// Outcome is what Apply persisted.
type Outcome struct {
	Update   model.StatusUpdate
	Sample   model.MetricSample
	Previous model.Status
	Changed  bool
}

// Aggregator writes aggregated poll results to the store.
type Aggregator struct {
	devices   store.DeviceStore
	metrics   store.MetricStore
	samples   SampleWriter
	publisher events.Publisher
	logger    *slog.Logger
}

// NewAggregator creates an Aggregator. samples and publisher may be nil.
func NewAggregator(devices store.DeviceStore, metrics store.MetricStore, samples SampleWriter, publisher events.Publisher, logger *slog.Logger) *Aggregator {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Aggregator{
		devices:   devices,
		metrics:   metrics,
		samples:   samples,
		publisher: publisher,
		logger:    logger.With("component", "status"),
	}
}

// Apply aggregates r against dev, writes the status fields, refreshes
// interfaces and volumes from SNMP data, submits one metric sample and
// publishes a transition event when the composite status changed.
func (a *Aggregator) Apply(ctx context.Context, dev *model.Device, r PollResult) (*Outcome, error) {
	u := Aggregate(dev, r)

	if err := a.devices.UpdateDeviceStatus(ctx, dev.ID, u); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDeviceGone, dev.ID)
		}
		return nil, fmt.Errorf("failed to write status for device %s: %w", dev.ID, err)
	}

	previous := dev.Status
	if previous == "" {
		previous = model.StatusUnknown
	}
	out := &Outcome{Update: u, Previous: previous, Changed: previous != u.Status}

	var ifaces []model.Interface
	var vols []model.Volume
	if snmp, ok := r.Results[model.ProtocolSNMP]; ok && dev.PollSNMP && snmp.Metrics != nil {
		ifaces = a.writeInterfaces(ctx, dev.ID, snmp.Metrics.Interfaces)
		vols = a.writeVolumes(ctx, dev.ID, snmp.Metrics.Volumes)
	}

	out.Sample = BuildSample(dev, r, u, ifaces, vols)
	if a.samples != nil {
		if err := a.samples.Submit(ctx, out.Sample); err != nil {
			a.logger.Warn("failed to submit metric sample", "device_id", dev.ID, "error", err)
		}
	}

	if out.Changed {
		a.logger.Info("device status changed",
			"device_id", dev.ID,
			"ip_address", dev.IPAddress,
			"previous", previous,
			"current", u.Status,
		)
		a.publisher.Publish(events.New(events.KindDeviceStatus, events.DeviceStatusChanged{
			DeviceID:  dev.ID,
			IPAddress: dev.IPAddress,
			Previous:  previous,
			Current:   u.Status,
		}))
	}

	return out, nil
}

func (a *Aggregator) writeInterfaces(ctx context.Context, deviceID uuid.UUID, current []model.Interface) []model.Interface {
	if len(current) == 0 {
		return nil
	}

	previous, err := a.devices.ListInterfaces(ctx, deviceID)
	if err != nil {
		a.logger.Warn("failed to load previous interfaces", "device_id", deviceID, "error", err)
	}
	byIndex := make(map[int]model.Interface, len(previous))
	for _, p := range previous {
		byIndex[p.IfIndex] = p
	}

	out := make([]model.Interface, len(current))
	for i, iface := range current {
		iface.DeviceID = deviceID
		if prev, ok := byIndex[iface.IfIndex]; ok {
			iface.InUtilization, iface.OutUtilization = Utilization(prev, iface)
		}
		out[i] = iface
	}

	if err := a.devices.UpsertInterfaces(ctx, deviceID, out); err != nil {
		a.logger.Warn("failed to upsert interfaces", "device_id", deviceID, "count", len(out), "error", err)
	}
	return out
}

func (a *Aggregator) writeVolumes(ctx context.Context, deviceID uuid.UUID, vols []model.Volume) []model.Volume {
	if len(vols) == 0 {
		return nil
	}
	out := make([]model.Volume, len(vols))
	for i, v := range vols {
		v.DeviceID = deviceID
		out[i] = v
	}
	if err := a.devices.UpsertVolumes(ctx, deviceID, out); err != nil {
		a.logger.Warn("failed to upsert volumes", "device_id", deviceID, "count", len(out), "error", err)
	}
	return out
}

// Availability summarises the samples recorded for a device since
// now-window.
func (a *Aggregator) Availability(ctx context.Context, deviceID uuid.UUID, window time.Duration, now time.Time) (model.Availability, error) {
	since := now.Add(-window)
	samples, err := a.metrics.ListSamples(ctx, deviceID, since)
	if err != nil {
		return model.Availability{}, fmt.Errorf("failed to list samples: %w", err)
	}
	return Availability(deviceID, since, samples), nil
}

// BuildSample assembles the metric sample for one poll attempt.
func BuildSample(dev *model.Device, r PollResult, u model.StatusUpdate, ifaces []model.Interface, vols []model.Volume) model.MetricSample {
	s := model.MetricSample{
		DeviceID:    dev.ID,
		CollectedAt: r.PolledAt,
		Reachable:   u.Status == model.StatusUp,
		Status:      u.Status,
		LatencyMs:   u.LatencyMs,
	}

	if icmp, ok := r.Results[model.ProtocolICMP]; ok && dev.PollICMP {
		s.ICMPReachable = boolPtr(icmp.Reachable)
		s.PacketLoss = icmp.PacketLoss
	}
	if snmp, ok := r.Results[model.ProtocolSNMP]; ok && dev.PollSNMP {
		s.SNMPReachable = boolPtr(snmp.Reachable)
		applySNMP(&s, snmp)
	}

	for _, iface := range ifaces {
		s.Interfaces = append(s.Interfaces, model.InterfaceSample{
			IfIndex:    iface.IfIndex,
			OperStatus: iface.OperStatus,
			InOctets:   iface.InOctets,
			OutOctets:  iface.OutOctets,
			InErrors:   iface.InErrors,
			OutErrors:  iface.OutErrors,
		})
	}
	for _, v := range vols {
		s.Volumes = append(s.Volumes, model.VolumeSample{Index: v.Index, UsagePercent: v.UsagePercent})
	}
	return s
}

func applySNMP(s *model.MetricSample, res probe.Result) {
	if res.System != nil && res.System.UptimeSeconds > 0 {
		up := res.System.UptimeSeconds
		s.UptimeSeconds = &up
	}
	if res.Metrics != nil {
		s.CPUPercent = res.Metrics.CPUPercent
		s.MemoryPercent = res.Metrics.MemoryPercent
	}
}

// Utilization derives in/out utilisation percentages from two counter
// snapshots. A counter that went backwards (wrap or agent restart) yields
// nil for that direction.
func Utilization(prev, cur model.Interface) (in, out *float64) {
	if cur.SpeedMbps == 0 || prev.UpdatedAt.IsZero() {
		return nil, nil
	}
	secs := cur.UpdatedAt.Sub(prev.UpdatedAt).Seconds()
	if secs <= 0 {
		return nil, nil
	}
	bps := float64(cur.SpeedMbps) * 1e6

	rate := func(p, c uint64) *float64 {
		if c < p {
			return nil
		}
		v := float64(c-p) * 8 / secs / bps * 100
		if v > 100 {
			v = 100
		}
		return &v
	}
	return rate(prev.InOctets, cur.InOctets), rate(prev.OutOctets, cur.OutOctets)
}

func boolPtr(b bool) *bool {
	return &b
}
