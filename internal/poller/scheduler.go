// Package poller schedules and runs device polls.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nmslite/netmon/internal/config"
	"github.com/nmslite/netmon/internal/model"
	"github.com/nmslite/netmon/internal/probe"
	"github.com/nmslite/netmon/internal/status"
	"github.com/nmslite/netmon/internal/store"
	"github.com/nmslite/netmon/internal/telemetry"
)

var (
	// ErrPollInProgress is returned by TriggerPoll when another poll of the
	// same device did not finish within the lock wait.
	ErrPollInProgress = errors.New("a poll for this device is already in progress")
	ErrDeviceNotFound = errors.New("device not found")
	ErrNoMethods      = errors.New("none of the requested methods are enabled for this device")
)

const (
	triggerScheduled = "scheduled"
	triggerOnDemand  = "on_demand"
)

// CredentialResolver returns decrypted SNMPv3 parameters for a credential.
type CredentialResolver interface {
	Resolve(ctx context.Context, id uuid.UUID) (*model.SNMPv3Params, error)
}

// AlertEvaluator is invoked with every persisted sample.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, dev *model.Device, sample model.MetricSample) error
}

// PollReport is the structured result of one device poll.
type PollReport struct {
	DeviceID   uuid.UUID                `json:"device_id"`
	IPAddress  string                   `json:"ip_address"`
	PolledAt   time.Time                `json:"polled_at"`
	Status     model.Status             `json:"status"`
	Protocols  []status.ProtocolOutcome `json:"protocols"`
	DurationMs int64                    `json:"duration_ms"`
}

// Scheduler polls due devices on a fixed tick. At most one poll runs per
// device at any time; total in-flight scheduled polls are bounded by
// MaxConcurrentPolls.
type Scheduler struct {
	// Dependencies
	devices     store.DeviceStore
	credentials CredentialResolver
	icmp        probe.Prober
	snmp        probe.Prober
	aggregator  *status.Aggregator
	alerts      AlertEvaluator
	logger      *slog.Logger
	now         func() time.Time

	// Configuration
	tickInterval   time.Duration
	icmpTimeout    time.Duration
	snmpTimeout    time.Duration
	lockWait       time.Duration
	batchDelay     time.Duration
	batchSize      int
	maxConcurrency int

	// Concurrency control
	pool     chan struct{}
	locks    *lockSet
	inFlight sync.Map

	// Counters
	activePolls atomic.Int64
	cycleCount  atomic.Int64
	lastCycleAt atomic.Pointer[time.Time]
	dispatching atomic.Bool

	// Lifecycle management
	running bool
	runMu   sync.Mutex
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. alerts may be nil.
func NewScheduler(
	devices store.DeviceStore,
	credentials CredentialResolver,
	icmp probe.Prober,
	snmp probe.Prober,
	aggregator *status.Aggregator,
	alerts AlertEvaluator,
	cfg *config.PollerConfig,
	logger *slog.Logger,
) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = cfg.MaxConcurrentPolls
	}
	maxConcurrency := cfg.MaxConcurrentPolls
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	return &Scheduler{
		devices:        devices,
		credentials:    credentials,
		icmp:           icmp,
		snmp:           snmp,
		aggregator:     aggregator,
		alerts:         alerts,
		logger:         logger.With("component", "scheduler"),
		now:            time.Now,
		tickInterval:   cfg.GetTickInterval(),
		icmpTimeout:    cfg.GetICMPTimeout(),
		snmpTimeout:    cfg.GetSNMPTimeout(),
		lockWait:       cfg.GetLockWait(),
		batchDelay:     cfg.GetBatchDelay(),
		batchSize:      batchSize,
		maxConcurrency: maxConcurrency,
		pool:           make(chan struct{}, maxConcurrency),
		locks:          newLockSet(),
	}
}

// Run ticks until ctx is cancelled, then waits for in-flight polls.
// The first tick fires immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.runMu.Unlock()

	s.logger.Info("starting scheduler",
		"tick_interval", s.tickInterval,
		"max_concurrent_polls", s.maxConcurrency,
		"batch_size", s.batchSize,
		"icmp_timeout", s.icmpTimeout,
		"snmp_timeout", s.snmpTimeout,
	)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler context cancelled, shutting down")
			s.shutdown()
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick lists due devices and hands them to the dispatcher. It never waits
// on a probe.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()

	due, err := s.devices.ListDueDevices(ctx, now)
	if err != nil {
		s.logger.Error("failed to list due devices", "error", err)
		return
	}

	s.cycleCount.Add(1)
	s.lastCycleAt.Store(&now)
	telemetry.RecordPollCycle()

	if len(due) == 0 {
		return
	}
	if !s.dispatching.CompareAndSwap(false, true) {
		s.logger.Debug("previous dispatch still running, deferring due devices", "count", len(due))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.dispatching.Store(false)
		s.dispatch(ctx, due)
	}()
}

// dispatch submits due devices in batches. A device already being polled
// or arriving while the pool is saturated waits for the next tick.
func (s *Scheduler) dispatch(ctx context.Context, due []model.Device) {
	var started, busy, saturated int

	for start := 0; start < len(due); start += s.batchSize {
		end := min(start+s.batchSize, len(due))

		for _, dev := range due[start:end] {
			if !s.locks.tryLock(dev.ID) {
				busy++
				telemetry.RecordPollSkipped("in_progress")
				continue
			}
			select {
			case s.pool <- struct{}{}:
			default:
				s.locks.unlock(dev.ID)
				saturated++
				telemetry.RecordPollSkipped("saturated")
				continue
			}

			started++
			s.wg.Add(1)
			go func(dev model.Device) {
				defer s.wg.Done()
				defer func() { <-s.pool }()

				_, err := s.poll(ctx, &dev, nil, triggerScheduled)
				s.release(dev.ID, err)
			}(dev)
		}

		if end < len(due) && s.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.batchDelay):
			}
		}
	}

	s.logger.Debug("dispatched due devices",
		"due", len(due),
		"started", started,
		"in_progress", busy,
		"saturated", saturated,
	)
}

// TriggerPoll polls one device now, outside the schedule. It shares the
// per-device lock with scheduled polls and waits at most the configured
// lock wait for it. An empty methods list polls every enabled protocol.
func (s *Scheduler) TriggerPoll(ctx context.Context, deviceID uuid.UUID, methods []model.Protocol) (*PollReport, error) {
	dev, err := s.devices.GetDevice(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load device %s: %w", deviceID, err)
	}
	if dev.Capabilities().Intersect(methods).Empty() {
		return nil, ErrNoMethods
	}

	if !s.locks.lock(ctx, deviceID, s.lockWait) {
		return nil, ErrPollInProgress
	}

	report, err := s.poll(ctx, dev, methods, triggerOnDemand)
	s.release(deviceID, err)
	return report, err
}

// release unlocks the device after a poll and drops its lock slot when the
// device turned out to be deleted.
func (s *Scheduler) release(id uuid.UUID, pollErr error) {
	s.locks.unlock(id)
	if errors.Is(pollErr, status.ErrDeviceGone) {
		s.locks.forget(id)
	}
}

// poll runs the enabled probes for one device and persists the outcome.
// The caller must hold the device lock.
func (s *Scheduler) poll(ctx context.Context, dev *model.Device, methods []model.Protocol, trigger string) (*PollReport, error) {
	logger := s.logger.With("device_id", dev.ID, "ip_address", dev.IPAddress)

	if _, loaded := s.inFlight.LoadOrStore(dev.ID, trigger); loaded {
		logger.Error("overlapping poll detected, aborting task", "invariant", "single_poll_per_device", "trigger", trigger)
		return nil, ErrPollInProgress
	}
	defer s.inFlight.Delete(dev.ID)

	s.activePolls.Add(1)
	telemetry.ActivePolls.Inc()
	defer func() {
		s.activePolls.Add(-1)
		telemetry.ActivePolls.Dec()
	}()

	start := time.Now()
	caps := dev.Capabilities().Intersect(methods)
	result := status.PollResult{
		DeviceID: dev.ID,
		PolledAt: s.now(),
		Results:  make(map[model.Protocol]probe.Result, 2),
	}

	target := probe.Target{IP: dev.IPAddress, Port: dev.SNMPPort}
	runSNMP := caps.SNMP
	if caps.SNMP {
		params, err := s.resolveCredential(ctx, dev)
		if err != nil {
			logger.Error("credential resolution failed, skipping snmp this cycle", "error", err)
			telemetry.RecordPollSkipped("credential_error")
			result.Results[model.ProtocolSNMP] = probe.Result{
				Protocol: model.ProtocolSNMP,
				Code:     probe.CodeCredentialError,
				Err:      err,
			}
			runSNMP = false
		}
		target.SNMP = params
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	run := func(proto model.Protocol, p probe.Prober, timeout time.Duration) {
		defer wg.Done()
		res := p.Probe(ctx, target, timeout)
		res.Protocol = proto
		mu.Lock()
		result.Results[proto] = res
		mu.Unlock()
	}
	if caps.ICMP {
		wg.Add(1)
		go run(model.ProtocolICMP, s.icmp, s.icmpTimeout)
	}
	if runSNMP {
		wg.Add(1)
		go run(model.ProtocolSNMP, s.snmp, s.snmpTimeout)
	}
	wg.Wait()

	for proto, res := range result.Results {
		telemetry.RecordProbe(proto, string(res.Code))
		switch {
		case res.IsAuthError():
			logger.Warn("snmp authentication failed", "error", res.Err)
		case res.Code == probe.CodeInternal:
			logger.Error("probe failed internally", "protocol", proto, "error", res.Err)
		case !res.Reachable:
			logger.Debug("device unreachable", "protocol", proto, "code", res.Code)
		}
	}

	outcome, err := s.aggregator.Apply(ctx, dev, result)
	if err != nil {
		if errors.Is(err, status.ErrDeviceGone) {
			logger.Info("device deleted during poll, discarding result")
		} else {
			logger.Error("failed to persist poll result", "error", err)
		}
		return nil, err
	}

	if s.alerts != nil {
		if err := s.alerts.Evaluate(ctx, dev, outcome.Sample); err != nil {
			logger.Error("alert evaluation failed", "error", err)
		}
	}

	elapsed := time.Since(start)
	telemetry.RecordPollDuration(trigger, elapsed)
	logger.Debug("poll complete", "status", outcome.Update.Status, "trigger", trigger, "duration_ms", elapsed.Milliseconds())

	return &PollReport{
		DeviceID:   dev.ID,
		IPAddress:  dev.IPAddress,
		PolledAt:   result.PolledAt,
		Status:     outcome.Update.Status,
		Protocols:  result.Outcomes(),
		DurationMs: elapsed.Milliseconds(),
	}, nil
}

func (s *Scheduler) resolveCredential(ctx context.Context, dev *model.Device) (*model.SNMPv3Params, error) {
	if dev.SNMPCredentialID == nil {
		return nil, model.ErrMissingCredential
	}
	return s.credentials.Resolve(ctx, *dev.SNMPCredentialID)
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() model.PollerStatus {
	s.runMu.Lock()
	running := s.running
	s.runMu.Unlock()

	st := model.PollerStatus{
		IsRunning:   running,
		ActivePolls: s.activePolls.Load(),
		CycleCount:  s.cycleCount.Load(),
		Config: model.PollerConfig{
			TickInterval:       s.tickInterval,
			MaxConcurrentPolls: s.maxConcurrency,
			BatchSize:          s.batchSize,
			ICMPTimeout:        s.icmpTimeout,
			SNMPTimeout:        s.snmpTimeout,
		},
	}
	if last := s.lastCycleAt.Load(); last != nil {
		t := *last
		st.LastCycleAt = &t
	}
	return st
}

// IsRunning returns whether the scheduler loop is active.
func (s *Scheduler) IsRunning() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

// shutdown waits for in-flight polls to finish.
func (s *Scheduler) shutdown() {
	s.logger.Info("shutting down scheduler, waiting for polls to complete", "active_polls", s.activePolls.Load())

	s.wg.Wait()

	s.runMu.Lock()
	s.running = false
	s.runMu.Unlock()

	s.logger.Info("scheduler shutdown complete")
}
