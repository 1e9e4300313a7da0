package alerts

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nmslite/netmon/internal/events"
	"github.com/nmslite/netmon/internal/model"
	"github.com/nmslite/netmon/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	events []events.Event
}

func (l *eventLog) Publish(e events.Event) { l.events = append(l.events, e) }

func (l *eventLog) kinds() []events.Kind {
	var out []events.Kind
	for _, e := range l.events {
		out = append(out, e.Kind)
	}
	return out
}

type fixture struct {
	ctx    context.Context
	store  *store.Memory
	engine *Engine
	events *eventLog
	device *model.Device
	t0     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	log := &eventLog{}
	f := &fixture{
		ctx:    context.Background(),
		store:  st,
		engine: NewEngine(st, log, slog.New(slog.NewTextHandler(io.Discard, nil))),
		events: log,
		t0:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.device = &model.Device{Name: "core", IPAddress: "10.0.0.5", PollICMP: true, IsActive: true}
	require.NoError(t, st.CreateDevice(f.ctx, f.device))
	return f
}

func (f *fixture) rule(t *testing.T, r model.AlertRule) *model.AlertRule {
	t.Helper()
	r.Enabled = true
	if r.Name == "" {
		r.Name = string(r.MetricType)
	}
	require.NoError(t, f.engine.CreateRule(f.ctx, &r))
	return &r
}

func (f *fixture) latencySample(offset time.Duration, latency float64) model.MetricSample {
	return model.MetricSample{
		DeviceID:    f.device.ID,
		CollectedAt: f.t0.Add(offset),
		Reachable:   true,
		Status:      model.StatusUp,
		LatencyMs:   &latency,
	}
}

func (f *fixture) downSample(offset time.Duration) model.MetricSample {
	return model.MetricSample{DeviceID: f.device.ID, CollectedAt: f.t0.Add(offset), Status: model.StatusDown}
}

func TestEvaluate_FiresAfterDurationOnce(t *testing.T) {
	f := newFixture(t)
	f.rule(t, model.AlertRule{MetricType: model.MetricLatency, Comparator: model.CompareGT, Threshold: 100, DurationSeconds: 120, Severity: model.SeverityWarning})

	require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.latencySample(0, 150)))
	require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.latencySample(60*time.Second, 180)))

	open, err := f.engine.ListActive(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, open, "breach has not held for the full duration")

	require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.latencySample(120*time.Second, 200)))
	require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.latencySample(180*time.Second, 250)))

	open, err = f.engine.ListActive(f.ctx)
	require.NoError(t, err)
	require.Len(t, open, 1, "re-triggering updates the open alert")
	assert.Equal(t, 250.0, open[0].Value)
	assert.Equal(t, f.t0.Add(120*time.Second), open[0].TriggeredAt)
	assert.Equal(t, f.t0.Add(180*time.Second), open[0].LastSeenAt)
	assert.Equal(t, []events.Kind{events.KindAlertFired}, f.events.kinds())
}

func TestEvaluate_BreachInterruptedResetsOnset(t *testing.T) {
	f := newFixture(t)
	f.rule(t, model.AlertRule{MetricType: model.MetricLatency, Comparator: model.CompareGT, Threshold: 100, DurationSeconds: 120, Severity: model.SeverityWarning})

	require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.latencySample(0, 150)))
	require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.latencySample(60*time.Second, 20)))
	require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.latencySample(120*time.Second, 150)))

	open, err := f.engine.ListActive(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestEvaluate_AutoResolves(t *testing.T) {
	f := newFixture(t)
	f.rule(t, model.AlertRule{MetricType: model.MetricStatus, Comparator: model.CompareEQ, Threshold: 0, Severity: model.SeverityCritical})

	require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.downSample(0)))
	open, err := f.engine.ListActive(f.ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, model.SeverityCritical, open[0].Severity)

	require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.latencySample(time.Minute, 1)))

	open, err = f.engine.ListActive(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := f.engine.List(f.ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, model.AlertResolved, all[0].State)
	require.NotNil(t, all[0].ResolvedAt)
	assert.Equal(t, []events.Kind{events.KindAlertFired, events.KindAlertResolved}, f.events.kinds())

	// a new onset opens a new alert
	require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.downSample(2*time.Minute)))
	all, err = f.engine.List(f.ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestEvaluate_MissingObservationKeepsState(t *testing.T) {
	f := newFixture(t)
	f.rule(t, model.AlertRule{MetricType: model.MetricCPU, Comparator: model.CompareGT, Threshold: 90, Severity: model.SeverityWarning})

	cpu := 95.0
	s := f.latencySample(0, 1)
	s.CPUPercent = &cpu
	require.NoError(t, f.engine.Evaluate(f.ctx, f.device, s))

	// device unreachable: no cpu reading, the alert must not resolve
	require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.downSample(time.Minute)))

	open, err := f.engine.ListActive(f.ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestEvaluate_RuleScope(t *testing.T) {
	f := newFixture(t)
	other := uuid.New()
	f.rule(t, model.AlertRule{DeviceID: &other, MetricType: model.MetricStatus, Comparator: model.CompareEQ, Threshold: 0, Severity: model.SeverityInfo})
	disabled := model.AlertRule{Name: "off", MetricType: model.MetricStatus, Comparator: model.CompareEQ, Threshold: 0, Severity: model.SeverityInfo}
	require.NoError(t, f.engine.CreateRule(f.ctx, &disabled))

	require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.downSample(0)))

	open, err := f.engine.ListActive(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestAcknowledgeAndResolve(t *testing.T) {
	f := newFixture(t)
	f.rule(t, model.AlertRule{MetricType: model.MetricStatus, Comparator: model.CompareEQ, Threshold: 0, Severity: model.SeverityCritical})
	require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.downSample(0)))

	open, err := f.engine.ListActive(f.ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	id := open[0].ID

	acked, err := f.engine.Acknowledge(f.ctx, id, "admin")
	require.NoError(t, err)
	assert.Equal(t, model.AlertAcknowledged, acked.State)
	assert.Equal(t, "admin", acked.AcknowledgedBy)

	// acknowledged alerts stay open and keep updating
	require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.downSample(time.Minute)))
	open, err = f.engine.ListActive(f.ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, model.AlertAcknowledged, open[0].State)
	assert.Equal(t, f.t0.Add(time.Minute), open[0].LastSeenAt)

	resolved, err := f.engine.Resolve(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.AlertResolved, resolved.State)

	_, err = f.engine.Acknowledge(f.ctx, id, "admin")
	assert.ErrorIs(t, err, ErrAlertResolved)

	_, err = f.engine.Acknowledge(f.ctx, uuid.New(), "admin")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.engine.Resolve(f.ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListActive_SeverityOrder(t *testing.T) {
	f := newFixture(t)
	f.rule(t, model.AlertRule{Name: "info", MetricType: model.MetricStatus, Comparator: model.CompareEQ, Threshold: 0, Severity: model.SeverityInfo})
	f.rule(t, model.AlertRule{Name: "crit", MetricType: model.MetricStatus, Comparator: model.CompareEQ, Threshold: 0, Severity: model.SeverityCritical})
	f.rule(t, model.AlertRule{Name: "warn", MetricType: model.MetricStatus, Comparator: model.CompareEQ, Threshold: 0, Severity: model.SeverityWarning})

	require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.downSample(0)))

	open, err := f.engine.ListActive(f.ctx)
	require.NoError(t, err)
	require.Len(t, open, 3)
	assert.Equal(t, model.SeverityCritical, open[0].Severity)
	assert.Equal(t, model.SeverityWarning, open[1].Severity)
	assert.Equal(t, model.SeverityInfo, open[2].Severity)
}

func TestCreateRule_Validation(t *testing.T) {
	f := newFixture(t)
	err := f.engine.CreateRule(f.ctx, &model.AlertRule{Name: "bad", MetricType: "bogus", Comparator: model.CompareGT, Severity: model.SeverityInfo})
	assert.Error(t, err)
}

func TestObserve(t *testing.T) {
	s := model.MetricSample{
		Status: model.StatusUnknown,
		Interfaces: []model.InterfaceSample{
			{IfIndex: 1, OperStatus: "up"},
			{IfIndex: 2, OperStatus: "down"},
			{IfIndex: 3, OperStatus: "down"},
		},
		Volumes: []model.VolumeSample{{Index: 1, UsagePercent: 40}, {Index: 2, UsagePercent: 91.5}},
	}

	_, ok := Observe(model.MetricStatus, s)
	assert.False(t, ok)

	v, ok := Observe(model.MetricInterfaceDown, s)
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)

	v, ok = Observe(model.MetricVolumeUsage, s)
	assert.True(t, ok)
	assert.Equal(t, 91.5, v)

	_, ok = Observe(model.MetricMemory, s)
	assert.False(t, ok)
}

// hookStore runs a callback in the middle of an engine operation so tests
// can interleave a second operation deterministically.
type hookStore struct {
	*store.Memory
	afterGetOpen func()
	afterGet     func()
	beforeAck    func()
	hideRules    bool
}

func runOnce(hook *func()) {
	if fn := *hook; fn != nil {
		*hook = nil
		fn()
	}
}

func (h *hookStore) GetOpenAlert(ctx context.Context, ruleID, deviceID uuid.UUID) (*model.Alert, error) {
	a, err := h.Memory.GetOpenAlert(ctx, ruleID, deviceID)
	runOnce(&h.afterGetOpen)
	return a, err
}

func (h *hookStore) GetAlert(ctx context.Context, id uuid.UUID) (*model.Alert, error) {
	a, err := h.Memory.GetAlert(ctx, id)
	runOnce(&h.afterGet)
	return a, err
}

func (h *hookStore) AcknowledgeAlert(ctx context.Context, id uuid.UUID, by string, at time.Time) (*model.Alert, error) {
	runOnce(&h.beforeAck)
	return h.Memory.AcknowledgeAlert(ctx, id, by, at)
}

func (h *hookStore) ListRules(ctx context.Context) ([]model.AlertRule, error) {
	if h.hideRules {
		return nil, nil
	}
	return h.Memory.ListRules(ctx)
}

func newHookedFixture(t *testing.T) (*fixture, *hookStore) {
	t.Helper()
	f := newFixture(t)
	hs := &hookStore{Memory: f.store}
	f.engine = NewEngine(hs, f.events, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f, hs
}

func (f *fixture) openAlertID(t *testing.T) uuid.UUID {
	t.Helper()
	open, err := f.engine.ListActive(f.ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	return open[0].ID
}

func TestAcknowledge_AfterConcurrentAutoResolve(t *testing.T) {
	f, hs := newHookedFixture(t)
	f.rule(t, model.AlertRule{MetricType: model.MetricLatency, Comparator: model.CompareGT, Threshold: 100, Severity: model.SeverityWarning})
	require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.latencySample(0, 150)))
	id := f.openAlertID(t)

	// the condition clears while the operator's acknowledge is in flight
	hs.beforeAck = func() {
		require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.latencySample(time.Minute, 10)))
	}
	_, err := f.engine.Acknowledge(f.ctx, id, "admin")
	assert.ErrorIs(t, err, ErrAlertResolved)

	got, err := f.store.GetAlert(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.AlertResolved, got.State)
	assert.NotNil(t, got.ResolvedAt)
	assert.Empty(t, got.AcknowledgedBy)
	assert.Equal(t, []events.Kind{events.KindAlertFired, events.KindAlertResolved}, f.events.kinds())
}

func TestRefresh_KeepsConcurrentAcknowledge(t *testing.T) {
	f, hs := newHookedFixture(t)
	f.rule(t, model.AlertRule{MetricType: model.MetricLatency, Comparator: model.CompareGT, Threshold: 100, Severity: model.SeverityWarning})
	require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.latencySample(0, 150)))
	id := f.openAlertID(t)

	// acknowledged between the poll loading the alert and refreshing it
	hs.afterGetOpen = func() {
		_, err := f.engine.Acknowledge(f.ctx, id, "admin")
		require.NoError(t, err)
	}
	require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.latencySample(time.Minute, 200)))

	got, err := f.store.GetAlert(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.AlertAcknowledged, got.State)
	assert.Equal(t, "admin", got.AcknowledgedBy)
	assert.Equal(t, 200.0, got.Value)
	assert.Equal(t, f.t0.Add(time.Minute), got.LastSeenAt)
}

func TestRefresh_DoesNotReopenResolvedAlert(t *testing.T) {
	f, hs := newHookedFixture(t)
	f.rule(t, model.AlertRule{MetricType: model.MetricLatency, Comparator: model.CompareGT, Threshold: 100, Severity: model.SeverityWarning})
	require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.latencySample(0, 150)))
	id := f.openAlertID(t)

	hs.afterGetOpen = func() {
		_, err := f.store.ResolveAlert(f.ctx, id, f.t0.Add(30*time.Second))
		require.NoError(t, err)
	}
	require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.latencySample(time.Minute, 200)))

	got, err := f.store.GetAlert(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.AlertResolved, got.State)
	assert.Equal(t, 150.0, got.Value)
}

func TestResolve_AfterConcurrentAutoResolve(t *testing.T) {
	f, hs := newHookedFixture(t)
	f.rule(t, model.AlertRule{MetricType: model.MetricLatency, Comparator: model.CompareGT, Threshold: 100, Severity: model.SeverityWarning})
	require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.latencySample(0, 150)))
	id := f.openAlertID(t)

	hs.afterGet = func() {
		require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.latencySample(time.Minute, 10)))
	}
	resolved, err := f.engine.Resolve(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.AlertResolved, resolved.State)
	assert.Equal(t, []events.Kind{events.KindAlertFired, events.KindAlertResolved}, f.events.kinds(), "resolution is published once")
}

func TestOnsets_Pruned(t *testing.T) {
	f, hs := newHookedFixture(t)
	f.rule(t, model.AlertRule{MetricType: model.MetricLatency, Comparator: model.CompareGT, Threshold: 100, DurationSeconds: 300, Severity: model.SeverityWarning})

	require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.latencySample(0, 150)))
	assert.Len(t, f.engine.onsets, 1)

	f.engine.ForgetDevice(f.device.ID)
	assert.Empty(t, f.engine.onsets)

	require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.latencySample(time.Minute, 150)))
	assert.Len(t, f.engine.onsets, 1)

	// the rule is gone from the store: its onset goes with it
	hs.hideRules = true
	require.NoError(t, f.engine.Evaluate(f.ctx, f.device, f.latencySample(2*time.Minute, 150)))
	assert.Empty(t, f.engine.onsets)
}
