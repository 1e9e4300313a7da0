package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nmslite/netmon/internal/model"
)

// Memory holds all data in memory. It backs tests and the `memory` database
// driver used for local runs.
type Memory struct {
	mu          sync.RWMutex
	devices     map[uuid.UUID]*model.Device
	interfaces  map[uuid.UUID]map[int]model.Interface
	volumes     map[uuid.UUID]map[int]model.Volume
	credentials map[uuid.UUID]*model.SNMPCredential
	samples     map[uuid.UUID][]model.MetricSample
	rules       map[uuid.UUID]*model.AlertRule
	alerts      map[uuid.UUID]*model.Alert
	jobs        map[uuid.UUID]*model.DiscoveryJob
	hosts       map[uuid.UUID][]*model.DiscoveredHost
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		devices:     make(map[uuid.UUID]*model.Device),
		interfaces:  make(map[uuid.UUID]map[int]model.Interface),
		volumes:     make(map[uuid.UUID]map[int]model.Volume),
		credentials: make(map[uuid.UUID]*model.SNMPCredential),
		samples:     make(map[uuid.UUID][]model.MetricSample),
		rules:       make(map[uuid.UUID]*model.AlertRule),
		alerts:      make(map[uuid.UUID]*model.Alert),
		jobs:        make(map[uuid.UUID]*model.DiscoveryJob),
		hosts:       make(map[uuid.UUID][]*model.DiscoveredHost),
	}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() {}

// Devices

func (m *Memory) ListDueDevices(ctx context.Context, now time.Time) ([]model.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Device
	for _, d := range m.devices {
		if d.IsDue(now) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IPAddress < out[j].IPAddress })
	return out, nil
}

func (m *Memory) GetDevice(ctx context.Context, id uuid.UUID) (*model.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.devices[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *Memory) GetDeviceByIP(ctx context.Context, ip string) (*model.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, d := range m.devices {
		if d.IPAddress == ip {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CreateDevice(ctx context.Context, d *model.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.devices {
		if existing.IPAddress == d.IPAddress {
			return ErrDuplicateIP
		}
	}
	if d.SNMPCredentialID != nil {
		if _, ok := m.credentials[*d.SNMPCredentialID]; !ok {
			return ErrNotFound
		}
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = model.StatusUnknown
	}
	cp := *d
	m.devices[d.ID] = &cp
	return nil
}

func (m *Memory) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.devices[id]; !ok {
		return ErrNotFound
	}
	delete(m.devices, id)
	delete(m.interfaces, id)
	delete(m.volumes, id)
	delete(m.samples, id)
	for aid, a := range m.alerts {
		if a.DeviceID == id {
			delete(m.alerts, aid)
		}
	}
	return nil
}

func (m *Memory) UpdateDeviceStatus(ctx context.Context, id uuid.UUID, u model.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[id]
	if !ok {
		return ErrNotFound
	}
	u.ApplyTo(d)
	d.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) ListInterfaces(ctx context.Context, deviceID uuid.UUID) ([]model.Interface, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Interface, 0, len(m.interfaces[deviceID]))
	for _, i := range m.interfaces[deviceID] {
		out = append(out, i)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IfIndex < out[j].IfIndex })
	return out, nil
}

func (m *Memory) UpsertInterfaces(ctx context.Context, deviceID uuid.UUID, ifaces []model.Interface) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.devices[deviceID]; !ok {
		return ErrNotFound
	}
	byIndex, ok := m.interfaces[deviceID]
	if !ok {
		byIndex = make(map[int]model.Interface)
		m.interfaces[deviceID] = byIndex
	}
	for _, i := range ifaces {
		i.DeviceID = deviceID
		byIndex[i.IfIndex] = i
	}
	return nil
}

func (m *Memory) ListVolumes(ctx context.Context, deviceID uuid.UUID) ([]model.Volume, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Volume, 0, len(m.volumes[deviceID]))
	for _, v := range m.volumes[deviceID] {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (m *Memory) UpsertVolumes(ctx context.Context, deviceID uuid.UUID, vols []model.Volume) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.devices[deviceID]; !ok {
		return ErrNotFound
	}
	byIndex, ok := m.volumes[deviceID]
	if !ok {
		byIndex = make(map[int]model.Volume)
		m.volumes[deviceID] = byIndex
	}
	for _, v := range vols {
		v.DeviceID = deviceID
		byIndex[v.Index] = v
	}
	return nil
}

// Credentials

func (m *Memory) GetCredential(ctx context.Context, id uuid.UUID) (*model.SNMPCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.credentials[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) CreateCredential(ctx context.Context, c *model.SNMPCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	m.credentials[c.ID] = &cp
	return nil
}

func (m *Memory) DeleteCredential(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.credentials[id]; !ok {
		return ErrNotFound
	}
	for _, d := range m.devices {
		if d.SNMPCredentialID != nil && *d.SNMPCredentialID == id {
			return ErrCredentialInUse
		}
	}
	delete(m.credentials, id)
	return nil
}

// Metrics

func (m *Memory) InsertSamples(ctx context.Context, samples []model.MetricSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range samples {
		m.samples[s.DeviceID] = append(m.samples[s.DeviceID], s)
	}
	return nil
}

func (m *Memory) ListSamples(ctx context.Context, deviceID uuid.UUID, since time.Time) ([]model.MetricSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.MetricSample
	for _, s := range m.samples[deviceID] {
		if !s.CollectedAt.Before(since) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CollectedAt.Before(out[j].CollectedAt) })
	return out, nil
}

// Alerts

func (m *Memory) ListRules(ctx context.Context) ([]model.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.AlertRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CreateRule(ctx context.Context, r *model.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	cp := *r
	m.rules[r.ID] = &cp
	return nil
}

func (m *Memory) GetOpenAlert(ctx context.Context, ruleID, deviceID uuid.UUID) (*model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.alerts {
		if a.RuleID == ruleID && a.DeviceID == deviceID && a.IsOpen() {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CreateAlert(ctx context.Context, a *model.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.IsOpen() {
		for _, other := range m.alerts {
			if other.RuleID == a.RuleID && other.DeviceID == a.DeviceID && other.IsOpen() {
				return ErrDuplicateAlert
			}
		}
	}
	cp := *a
	m.alerts[a.ID] = &cp
	return nil
}

func (m *Memory) RefreshAlert(ctx context.Context, id uuid.UUID, value float64, severity model.Severity, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return ErrNotFound
	}
	if !a.IsOpen() {
		return ErrAlertState
	}
	a.Value = value
	a.Severity = severity
	a.LastSeenAt = at
	return nil
}

func (m *Memory) AcknowledgeAlert(ctx context.Context, id uuid.UUID, by string, at time.Time) (*model.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if a.State != model.AlertActive {
		return nil, ErrAlertState
	}
	a.State = model.AlertAcknowledged
	a.AcknowledgedAt = &at
	a.AcknowledgedBy = by
	cp := *a
	return &cp, nil
}

func (m *Memory) ResolveAlert(ctx context.Context, id uuid.UUID, at time.Time) (*model.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !a.IsOpen() {
		return nil, ErrAlertState
	}
	a.State = model.AlertResolved
	a.ResolvedAt = &at
	cp := *a
	return &cp, nil
}

func (m *Memory) GetAlert(ctx context.Context, id uuid.UUID) (*model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) ListAlerts(ctx context.Context, openOnly bool) ([]model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Alert
	for _, a := range m.alerts {
		if openOnly && !a.IsOpen() {
			continue
		}
		out = append(out, *a)
	}
	model.SortAlerts(out)
	return out, nil
}

// Discovery

func (m *Memory) CreateJob(ctx context.Context, j *model.DiscoveryJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *Memory) GetJob(ctx context.Context, id uuid.UUID) (*model.DiscoveryJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *Memory) UpdateJob(ctx context.Context, j *model.DiscoveryJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[j.ID]; !ok {
		return ErrNotFound
	}
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *Memory) UpdateJobProgress(ctx context.Context, id uuid.UUID, scanned, discovered, percent int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	// progress never moves backwards even if updates land out of order
	j.ScannedHosts = max(j.ScannedHosts, scanned)
	j.DiscoveredHosts = max(j.DiscoveredHosts, discovered)
	j.ProgressPercent = max(j.ProgressPercent, percent)
	return nil
}

func (m *Memory) ListJobs(ctx context.Context, statuses ...model.JobStatus) ([]model.DiscoveryJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.DiscoveryJob
	for _, j := range m.jobs {
		if len(statuses) == 0 || slices.Contains(statuses, j.Status) {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpsertHost(ctx context.Context, h *model.DiscoveredHost) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[h.JobID]; !ok {
		return ErrNotFound
	}
	for _, existing := range m.hosts[h.JobID] {
		if existing.IPAddress == h.IPAddress {
			h.ID = existing.ID
			*existing = *h
			return nil
		}
	}
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	cp := *h
	m.hosts[h.JobID] = append(m.hosts[h.JobID], &cp)
	return nil
}

func (m *Memory) ListHosts(ctx context.Context, jobID uuid.UUID) ([]model.DiscoveredHost, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.DiscoveredHost, 0, len(m.hosts[jobID]))
	for _, h := range m.hosts[jobID] {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IPAddress < out[j].IPAddress })
	return out, nil
}

func (m *Memory) DeleteHosts(ctx context.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.hosts, jobID)
	return nil
}

func (m *Memory) MarkHostPromoted(ctx context.Context, hostID, deviceID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, hosts := range m.hosts {
		for _, h := range hosts {
			if h.ID == hostID {
				h.IsAddedToMonitoring = true
				id := deviceID
				h.DeviceID = &id
				return nil
			}
		}
	}
	return ErrNotFound
}

var _ Store = (*Memory)(nil)
