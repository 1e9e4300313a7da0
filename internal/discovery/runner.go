// Package discovery scans address ranges for responsive hosts, fingerprints
// them and promotes selected hosts into monitored devices.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nmslite/netmon/internal/config"
	"github.com/nmslite/netmon/internal/events"
	"github.com/nmslite/netmon/internal/fingerprint"
	"github.com/nmslite/netmon/internal/model"
	"github.com/nmslite/netmon/internal/probe"
	"github.com/nmslite/netmon/internal/store"
)

var (
	ErrJobNotFound       = errors.New("discovery job not found")
	ErrJobNotCancellable = errors.New("discovery job has already finished")
	ErrJobNotComplete    = errors.New("discovery job has not finished")
)

const defaultSNMPPort = 161

// CredentialResolver returns decrypted SNMPv3 parameters for a credential.
type CredentialResolver interface {
	Resolve(ctx context.Context, id uuid.UUID) (*model.SNMPv3Params, error)
}

// StartRequest describes a new scan.
type StartRequest struct {
	Name             string                `json:"name" validate:"max=255"`
	CIDR             string                `json:"cidr" validate:"required"`
	Method           model.DiscoveryMethod `json:"method" validate:"omitempty,oneof=icmp snmp both"`
	SNMPCredentialID *uuid.UUID            `json:"snmp_credential_id,omitempty"`
}

// Probers groups the probes a scan may run. TCP may be nil.
type Probers struct {
	ICMP probe.Prober
	SNMP probe.Prober
	TCP  probe.Prober
}

// jobRun is the in-memory handle of a queued or running job.
type jobRun struct {
	cancelled atomic.Bool
}

// Runner owns the discovery job lifecycle. Hosts from every job share one
// bounded worker pool, sized independently of the poll scheduler.
type Runner struct {
	jobs        store.DiscoveryStore
	devices     store.DeviceStore
	credentials CredentialResolver
	probers     Probers
	fp          *fingerprint.Fingerprinter
	arp         *probe.ARPTable
	resolver    *net.Resolver
	publisher   events.Publisher
	logger      *slog.Logger
	now         func() time.Time

	cfg  config.DiscoveryConfig
	pool chan struct{}

	queue  chan uuid.UUID
	mu     sync.Mutex
	active map[uuid.UUID]*jobRun
	wg     sync.WaitGroup
}

// NewRunner creates a Runner. publisher may be nil.
func NewRunner(
	jobs store.DiscoveryStore,
	devices store.DeviceStore,
	credentials CredentialResolver,
	probers Probers,
	fp *fingerprint.Fingerprinter,
	publisher events.Publisher,
	cfg config.DiscoveryConfig,
	logger *slog.Logger,
) *Runner {
	if publisher == nil {
		publisher = events.Nop{}
	}
	workers := max(cfg.Workers, 1)

	r := &Runner{
		jobs:        jobs,
		devices:     devices,
		credentials: credentials,
		probers:     probers,
		fp:          fp,
		publisher:   publisher,
		logger:      logger.With("component", "discovery"),
		now:         time.Now,
		cfg:         cfg,
		pool:        make(chan struct{}, workers),
		queue:       make(chan uuid.UUID, 64),
		active:      make(map[uuid.UUID]*jobRun),
	}
	if cfg.ARPTablePath != "" {
		r.arp = probe.NewARPTable(cfg.ARPTablePath, 30*time.Second)
	}
	if cfg.ReverseDNS {
		r.resolver = net.DefaultResolver
	}
	return r
}

// Run dispatches queued jobs until ctx is cancelled, then waits for running
// jobs to drain. Jobs interrupted by shutdown stay running in the store and
// are picked up again by Resume.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("discovery runner starting", "workers", cap(r.pool))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("discovery runner shutting down, waiting for jobs")
			r.wg.Wait()
			return ctx.Err()
		case id := <-r.queue:
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				r.execute(ctx, id)
			}()
		}
	}
}

// Start validates req, persists a pending job and queues it.
func (r *Runner) Start(ctx context.Context, req StartRequest) (*model.DiscoveryJob, error) {
	if err := model.ValidateStruct(req); err != nil {
		return nil, err
	}
	if req.Method == "" {
		req.Method = model.MethodICMP
	}
	if err := ValidateTarget(req.CIDR, r.cfg.MaxHosts); err != nil {
		return nil, err
	}
	if req.Method.UsesSNMP() && (req.SNMPCredentialID == nil || *req.SNMPCredentialID == uuid.Nil) {
		return nil, model.ErrMissingCredential
	}

	total, _ := CountHosts(req.CIDR)
	job := &model.DiscoveryJob{
		ID:               uuid.New(),
		Name:             req.Name,
		CIDR:             req.CIDR,
		Method:           req.Method,
		SNMPCredentialID: req.SNMPCredentialID,
		Status:           model.JobPending,
		TotalHosts:       int(total),
		CreatedAt:        r.now(),
	}
	if err := r.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create discovery job: %w", err)
	}

	if err := r.enqueue(ctx, job.ID); err != nil {
		return nil, err
	}
	r.logger.Info("discovery job queued", "job_id", job.ID, "target", job.CIDR, "method", job.Method, "total_hosts", job.TotalHosts)
	return job, nil
}

func (r *Runner) enqueue(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	r.active[id] = &jobRun{}
	r.mu.Unlock()

	select {
	case r.queue <- id:
		return nil
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.active, id)
		r.mu.Unlock()
		return fmt.Errorf("failed to queue discovery job: %w", ctx.Err())
	}
}

// Resume re-queues jobs left pending or running by a previous process.
// Running jobs are scanned again from the first host.
func (r *Runner) Resume(ctx context.Context) error {
	jobs, err := r.jobs.ListJobs(ctx, model.JobPending, model.JobRunning)
	if err != nil {
		return fmt.Errorf("failed to list unfinished discovery jobs: %w", err)
	}
	for _, job := range jobs {
		if err := r.enqueue(ctx, job.ID); err != nil {
			return err
		}
		r.logger.Info("resuming discovery job", "job_id", job.ID, "status", job.Status)
	}
	return nil
}

// Cancel asks a pending or running job to stop. No new hosts are dispatched;
// the job turns cancelled once in-flight probes have finished.
func (r *Runner) Cancel(ctx context.Context, id uuid.UUID) (*model.DiscoveryJob, error) {
	job, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, ErrJobNotCancellable
	}

	r.mu.Lock()
	run, ok := r.active[id]
	r.mu.Unlock()

	if ok {
		run.cancelled.Store(true)
		r.logger.Info("discovery job cancellation requested", "job_id", id)
		return job, nil
	}

	// not owned by this process, nothing is scanning it
	r.finish(ctx, job, model.JobCancelled, "")
	return job, nil
}

// Get returns a job by id.
func (r *Runner) Get(ctx context.Context, id uuid.UUID) (*model.DiscoveryJob, error) {
	job, err := r.jobs.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load discovery job %s: %w", id, err)
	}
	return job, nil
}

// List returns every job, oldest first.
func (r *Runner) List(ctx context.Context) ([]model.DiscoveryJob, error) {
	jobs, err := r.jobs.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list discovery jobs: %w", err)
	}
	return jobs, nil
}

// ListHosts returns the responsive hosts recorded for a job.
func (r *Runner) ListHosts(ctx context.Context, jobID uuid.UUID) ([]model.DiscoveredHost, error) {
	if _, err := r.Get(ctx, jobID); err != nil {
		return nil, err
	}
	hosts, err := r.jobs.ListHosts(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list discovered hosts: %w", err)
	}
	return hosts, nil
}

// Promote turns discovered hosts into monitored devices. Hosts whose IP is
// already monitored, that were promoted before, or that do not belong to
// the job are skipped rather than failing the request.
func (r *Runner) Promote(ctx context.Context, jobID uuid.UUID, hostIDs []uuid.UUID, pc model.PollConfig) (*model.PromoteResult, error) {
	if err := model.ValidateStruct(pc); err != nil {
		return nil, err
	}
	if err := pc.Validate(); err != nil {
		return nil, err
	}

	job, err := r.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobCompleted && job.Status != model.JobCancelled {
		return nil, ErrJobNotComplete
	}

	hosts, err := r.jobs.ListHosts(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list discovered hosts: %w", err)
	}
	byID := make(map[uuid.UUID]model.DiscoveredHost, len(hosts))
	for _, h := range hosts {
		byID[h.ID] = h
	}

	res := &model.PromoteResult{}
	seen := make(map[uuid.UUID]bool, len(hostIDs))
	for _, id := range hostIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		host, ok := byID[id]
		if !ok || host.IsAddedToMonitoring {
			res.SkippedCount++
			continue
		}

		dev, err := r.promoteHost(ctx, host, pc)
		if errors.Is(err, store.ErrDuplicateIP) {
			res.SkippedCount++
			continue
		}
		if err != nil {
			return nil, err
		}
		res.AddedCount++
		res.DeviceIDs = append(res.DeviceIDs, dev.ID)
	}

	r.logger.Info("discovered hosts promoted", "job_id", jobID, "added", res.AddedCount, "skipped", res.SkippedCount)
	return res, nil
}

func (r *Runner) promoteHost(ctx context.Context, host model.DiscoveredHost, pc model.PollConfig) (*model.Device, error) {
	if _, err := r.devices.GetDeviceByIP(ctx, host.IPAddress); err == nil {
		return nil, store.ErrDuplicateIP
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up device %s: %w", host.IPAddress, err)
	}

	name := host.Hostname
	if name == "" {
		name = host.SysName
	}
	if name == "" {
		name = host.IPAddress
	}

	dev := &model.Device{
		Name:                name,
		IPAddress:           host.IPAddress,
		PollICMP:            pc.PollICMP,
		PollSNMP:            pc.PollSNMP,
		SNMPCredentialID:    pc.SNMPCredentialID,
		SNMPPort:            pc.SNMPPort,
		PollIntervalSeconds: pc.PollIntervalSeconds,
		IsActive:            true,
		Vendor:              host.Vendor,
		Model:               host.Model,
		DeviceType:          host.DeviceType,
		OSFamily:            host.OSFamily,
	}
	if err := r.devices.CreateDevice(ctx, dev); err != nil {
		if errors.Is(err, store.ErrDuplicateIP) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create device %s: %w", host.IPAddress, err)
	}
	if err := r.jobs.MarkHostPromoted(ctx, host.ID, dev.ID); err != nil {
		return nil, fmt.Errorf("failed to mark host %s promoted: %w", host.ID, err)
	}
	return dev, nil
}

func (r *Runner) release(id uuid.UUID) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
}

func (r *Runner) handle(id uuid.UUID) *jobRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.active[id]
	if !ok {
		run = &jobRun{}
		r.active[id] = run
	}
	return run
}
