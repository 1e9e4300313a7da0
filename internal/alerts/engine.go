// Package alerts evaluates alert rules against poll samples and drives the
// alert lifecycle: none -> active -> acknowledged -> resolved.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nmslite/netmon/internal/events"
	"github.com/nmslite/netmon/internal/model"
	"github.com/nmslite/netmon/internal/store"
	"github.com/nmslite/netmon/internal/telemetry"
)

var (
	ErrNotFound      = errors.New("alert not found")
	ErrAlertResolved = errors.New("alert is already resolved")
)

type pairKey struct {
	rule   uuid.UUID
	device uuid.UUID
}

// Engine evaluates rules after every poll. Breach onsets are tracked in
// memory per (rule, device); the open alert itself lives in the store.
type Engine struct {
	store     store.AlertStore
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	onsets map[pairKey]time.Time
}

// NewEngine creates an alert engine. publisher may be nil.
func NewEngine(st store.AlertStore, publisher events.Publisher, logger *slog.Logger) *Engine {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Engine{
		store:     st,
		publisher: publisher,
		logger:    logger.With("component", "alerts"),
		now:       time.Now,
		onsets:    make(map[pairKey]time.Time),
	}
}

// Restore seeds the open-alert gauge from the store after a restart.
func (e *Engine) Restore(ctx context.Context) error {
	open, err := e.store.ListAlerts(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to list open alerts: %w", err)
	}
	counts := make(map[model.Severity]int)
	for _, a := range open {
		counts[a.Severity]++
	}
	telemetry.SetActiveAlerts(counts)
	e.logger.Info("alert state restored", "open_alerts", len(open))
	return nil
}

// Evaluate runs every enabled rule that applies to dev against sample.
// Rules whose metric is absent from the sample are skipped and keep their
// current state.
func (e *Engine) Evaluate(ctx context.Context, dev *model.Device, sample model.MetricSample) error {
	rules, err := e.store.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to list alert rules: %w", err)
	}

	e.pruneOnsets(rules)

	var errs []error
	for i := range rules {
		rule := &rules[i]
		if !rule.AppliesTo(dev.ID) {
			continue
		}
		value, ok := Observe(rule.MetricType, sample)
		if !ok {
			continue
		}
		if err := e.evaluateRule(ctx, rule, dev, value, sample.CollectedAt); err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) evaluateRule(ctx context.Context, rule *model.AlertRule, dev *model.Device, value float64, at time.Time) error {
	key := pairKey{rule: rule.ID, device: dev.ID}

	if !rule.Comparator.Holds(value, rule.Threshold) {
		e.clearOnset(key)
		return e.resolveOpen(ctx, rule, dev.ID, at)
	}

	onset := e.markOnset(key, at)
	if at.Sub(onset) < rule.Duration() {
		return nil
	}
	return e.fire(ctx, rule, dev, value, at)
}

func (e *Engine) markOnset(key pairKey, at time.Time) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	onset, ok := e.onsets[key]
	if !ok || at.Before(onset) {
		e.onsets[key] = at
		return at
	}
	return onset
}

func (e *Engine) clearOnset(key pairKey) {
	e.mu.Lock()
	delete(e.onsets, key)
	e.mu.Unlock()
}

// pruneOnsets drops onsets of rules that were removed or disabled.
func (e *Engine) pruneOnsets(rules []model.AlertRule) {
	enabled := make(map[uuid.UUID]bool, len(rules))
	for _, r := range rules {
		if r.Enabled {
			enabled[r.ID] = true
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.onsets {
		if !enabled[key.rule] {
			delete(e.onsets, key)
		}
	}
}

// ForgetDevice drops the breach onsets tracked for a deleted device.
func (e *Engine) ForgetDevice(deviceID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.onsets {
		if key.device == deviceID {
			delete(e.onsets, key)
		}
	}
}

// fire opens an alert for the pair, or refreshes the one already open.
func (e *Engine) fire(ctx context.Context, rule *model.AlertRule, dev *model.Device, value float64, at time.Time) error {
	existing, err := e.store.GetOpenAlert(ctx, rule.ID, dev.ID)
	switch {
	case err == nil:
		return e.refresh(ctx, existing, rule, value, at)
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("failed to load open alert: %w", err)
	}

	alert := &model.Alert{
		ID:          uuid.New(),
		RuleID:      rule.ID,
		DeviceID:    dev.ID,
		Severity:    rule.Severity,
		State:       model.AlertActive,
		Message:     fmt.Sprintf("%s (%s)", rule.Describe(value), dev.IPAddress),
		Value:       value,
		Threshold:   rule.Threshold,
		TriggeredAt: at,
		LastSeenAt:  at,
	}
	if err := e.store.CreateAlert(ctx, alert); err != nil {
		if errors.Is(err, store.ErrDuplicateAlert) {
			// another worker opened it first
			existing, getErr := e.store.GetOpenAlert(ctx, rule.ID, dev.ID)
			if getErr != nil {
				return fmt.Errorf("failed to reload open alert: %w", getErr)
			}
			return e.refresh(ctx, existing, rule, value, at)
		}
		return fmt.Errorf("failed to save alert: %w", err)
	}

	telemetry.RecordAlertFired(alert.Severity)
	e.logger.Warn("alert fired",
		"alert_id", alert.ID,
		"rule", rule.Name,
		"device_id", dev.ID,
		"severity", alert.Severity,
		"value", value,
	)
	e.publisher.Publish(events.New(events.KindAlertFired, events.AlertChanged{Alert: *alert}))
	return nil
}

// refresh updates the reading of an open alert. Its state is left alone, so
// a concurrent acknowledgement survives; an alert resolved in the meantime
// is not reopened.
func (e *Engine) refresh(ctx context.Context, alert *model.Alert, rule *model.AlertRule, value float64, at time.Time) error {
	err := e.store.RefreshAlert(ctx, alert.ID, value, rule.Severity, at)
	if errors.Is(err, store.ErrAlertState) || errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to update alert %s: %w", alert.ID, err)
	}
	return nil
}

func (e *Engine) resolveOpen(ctx context.Context, rule *model.AlertRule, deviceID uuid.UUID, at time.Time) error {
	alert, err := e.store.GetOpenAlert(ctx, rule.ID, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load open alert: %w", err)
	}

	_, err = e.resolve(ctx, alert.ID, at)
	if errors.Is(err, store.ErrAlertState) || errors.Is(err, store.ErrNotFound) {
		// resolved by an operator in the meantime
		return nil
	}
	return err
}

// resolve closes an open alert. Only the caller that performs the
// transition records and publishes it.
func (e *Engine) resolve(ctx context.Context, id uuid.UUID, at time.Time) (*model.Alert, error) {
	alert, err := e.store.ResolveAlert(ctx, id, at)
	if err != nil {
		return nil, err
	}

	telemetry.RecordAlertResolved(alert.Severity)
	e.logger.Info("alert resolved", "alert_id", alert.ID, "device_id", alert.DeviceID)
	e.publisher.Publish(events.New(events.KindAlertResolved, events.AlertChanged{Alert: *alert}))
	return alert, nil
}

// Acknowledge marks an open alert as seen by user. The alert stays open
// until its condition clears. Acknowledging twice is a no-op.
func (e *Engine) Acknowledge(ctx context.Context, id uuid.UUID, user string) (*model.Alert, error) {
	alert, err := e.store.AcknowledgeAlert(ctx, id, user, e.now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrNotFound
	case errors.Is(err, store.ErrAlertState):
		current, err := e.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.State == model.AlertResolved {
			return nil, ErrAlertResolved
		}
		return current, nil
	case err != nil:
		return nil, fmt.Errorf("failed to acknowledge alert %s: %w", id, err)
	}

	e.logger.Info("alert acknowledged", "alert_id", id, "user", user)
	e.publisher.Publish(events.New(events.KindAlertAcknowledged, events.AlertChanged{Alert: *alert}))
	return alert, nil
}

// Resolve closes an alert by operator action. The breach must hold for the
// rule's full duration again before the pair can fire a new alert.
func (e *Engine) Resolve(ctx context.Context, id uuid.UUID) (*model.Alert, error) {
	alert, err := e.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.State == model.AlertResolved {
		return alert, nil
	}

	e.clearOnset(pairKey{rule: alert.RuleID, device: alert.DeviceID})
	resolved, err := e.resolve(ctx, id, e.now())
	if errors.Is(err, store.ErrAlertState) {
		return e.get(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve alert %s: %w", id, err)
	}
	return resolved, nil
}

// ListActive returns open alerts, most severe first.
func (e *Engine) ListActive(ctx context.Context) ([]model.Alert, error) {
	return e.List(ctx, true)
}

// List returns alerts ordered by severity then newest first.
func (e *Engine) List(ctx context.Context, openOnly bool) ([]model.Alert, error) {
	alerts, err := e.store.ListAlerts(ctx, openOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	model.SortAlerts(alerts)
	return alerts, nil
}

func (e *Engine) Rules(ctx context.Context) ([]model.AlertRule, error) {
	rules, err := e.store.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}
	return rules, nil
}

// CreateRule validates and stores a rule.
func (e *Engine) CreateRule(ctx context.Context, rule *model.AlertRule) error {
	if err := model.ValidateStruct(rule); err != nil {
		return err
	}
	if err := e.store.CreateRule(ctx, rule); err != nil {
		return fmt.Errorf("failed to create alert rule: %w", err)
	}
	return nil
}

func (e *Engine) get(ctx context.Context, id uuid.UUID) (*model.Alert, error) {
	alert, err := e.store.GetAlert(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alert %s: %w", id, err)
	}
	return alert, nil
}
