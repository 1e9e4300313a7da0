package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nmslite/netmon/internal/events"
	"github.com/nmslite/netmon/internal/fingerprint"
	"github.com/nmslite/netmon/internal/model"
	"github.com/nmslite/netmon/internal/probe"
	"github.com/nmslite/netmon/internal/telemetry"
)

// progress tracks one job's counters. Workers only ever increment.
type progress struct {
	total      int
	scanned    atomic.Int64
	discovered atomic.Int64
	lastEmit   atomic.Int64

	// serializes progress events so subscribers never see counters go back
	emitMu sync.Mutex
}

// percent stays below 100 until the job reaches a terminal state.
func (p *progress) percent() int {
	if p.total == 0 {
		return 0
	}
	return min(int(p.scanned.Load()*100/int64(p.total)), 99)
}

// execute scans every host of one job.
func (r *Runner) execute(ctx context.Context, id uuid.UUID) {
	defer r.release(id)
	run := r.handle(id)
	logger := r.logger.With("job_id", id)

	job, err := r.jobs.GetJob(ctx, id)
	if err != nil {
		logger.Error("failed to load queued discovery job", "error", err)
		return
	}
	if job.Status.IsTerminal() {
		return
	}
	if run.cancelled.Load() {
		r.finish(ctx, job, model.JobCancelled, "")
		return
	}

	hosts, err := ExpandTarget(job.CIDR, r.cfg.MaxHosts)
	if err != nil {
		r.finish(ctx, job, model.JobFailed, err.Error())
		return
	}

	var params *model.SNMPv3Params
	if job.Method.UsesSNMP() {
		if job.SNMPCredentialID == nil {
			r.finish(ctx, job, model.JobFailed, model.ErrMissingCredential.Error())
			return
		}
		params, err = r.credentials.Resolve(ctx, *job.SNMPCredentialID)
		if err != nil {
			r.finish(ctx, job, model.JobFailed, fmt.Sprintf("credential resolution failed: %v", err))
			return
		}
	}

	// a resumed job is rescanned from scratch
	if err := r.jobs.DeleteHosts(ctx, id); err != nil {
		r.finish(ctx, job, model.JobFailed, fmt.Sprintf("failed to reset hosts: %v", err))
		return
	}

	started := r.now()
	job.Status = model.JobRunning
	job.StartedAt = &started
	job.TotalHosts = len(hosts)
	job.ScannedHosts, job.DiscoveredHosts = 0, 0
	if err := r.jobs.UpdateJob(ctx, job); err != nil {
		logger.Error("failed to mark discovery job running", "error", err)
		return
	}
	logger.Info("discovery job started", "target", job.CIDR, "method", job.Method, "total_hosts", len(hosts))

	prog := &progress{total: len(hosts)}
	r.publishProgress(job, prog)

	var (
		hostWG   sync.WaitGroup
		failOnce sync.Once
		failure  error
		failed   atomic.Bool
	)
	fail := func(err error) {
		failOnce.Do(func() {
			failure = err
			failed.Store(true)
		})
	}

dispatch:
	for _, ip := range hosts {
		if run.cancelled.Load() || failed.Load() {
			break
		}
		select {
		case r.pool <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}
		// re-check: cancellation may have arrived while waiting for a worker
		if run.cancelled.Load() || failed.Load() {
			<-r.pool
			break
		}

		hostWG.Add(1)
		go func(ip string) {
			defer hostWG.Done()
			defer func() { <-r.pool }()

			if err := r.scanHost(ctx, job, ip, params, prog); err != nil {
				fail(err)
			}
			r.reportProgress(ctx, job, prog)
		}(ip)
	}
	hostWG.Wait()

	job.ScannedHosts = int(prog.scanned.Load())
	job.DiscoveredHosts = int(prog.discovered.Load())
	job.ProgressPercent = max(job.ProgressPercent, prog.percent())

	switch {
	case failed.Load():
		r.finish(context.WithoutCancel(ctx), job, model.JobFailed, failure.Error())
	case run.cancelled.Load():
		r.finish(context.WithoutCancel(ctx), job, model.JobCancelled, "")
	case ctx.Err() != nil:
		// shutdown: leave the job running so Resume picks it up
		logger.Info("discovery job interrupted by shutdown", "scanned", job.ScannedHosts)
	default:
		r.finish(ctx, job, model.JobCompleted, "")
	}
}

// scanHost probes one address and records it when responsive. Host
// unreachability is not an error; only persistence failures are.
func (r *Runner) scanHost(ctx context.Context, job *model.DiscoveryJob, ip string, params *model.SNMPv3Params, prog *progress) error {
	defer prog.scanned.Add(1)

	target := probe.Target{IP: ip, Port: defaultSNMPPort, SNMP: params}
	var icmp, snmp probe.Result
	if job.Method.UsesICMP() {
		icmp = r.probers.ICMP.Probe(ctx, target, r.cfg.GetICMPTimeout())
	}
	if job.Method.UsesSNMP() {
		snmp = r.probers.SNMP.Probe(ctx, target, r.cfg.GetSNMPTimeout())
	}

	responsive := icmp.Reachable || snmp.Reachable
	telemetry.RecordHostScanned(responsive)
	if !responsive {
		return nil
	}

	host := &model.DiscoveredHost{
		JobID:         job.ID,
		IPAddress:     ip,
		ICMPReachable: icmp.Reachable,
		SNMPReachable: snmp.Reachable,
		LatencyMs:     icmp.LatencyMs,
		TTL:           icmp.TTL,
		DiscoveredAt:  r.now(),
	}
	if host.LatencyMs == nil {
		host.LatencyMs = snmp.LatencyMs
	}
	if sys := snmp.System; sys != nil {
		host.SysName = sys.SysName
		host.SysDescr = sys.SysDescr
		host.SysObjectID = sys.SysObjectID
	}
	if r.probers.TCP != nil {
		ports := r.probers.TCP.Probe(ctx, target, r.cfg.GetPortTimeout())
		host.OpenPorts = ports.OpenPorts
	}
	if r.resolver != nil {
		host.Hostname = probe.LookupHostname(ctx, r.resolver, ip, r.cfg.GetICMPTimeout())
	}
	host.MACAddress = r.arp.Lookup(ip)

	if r.fp != nil {
		fp := r.fp.Fingerprint(fingerprint.Evidence{
			SysObjectID: host.SysObjectID,
			SysDescr:    host.SysDescr,
			MACAddress:  host.MACAddress,
			TTL:         host.TTL,
			OpenPorts:   host.OpenPorts,
		})
		host.Vendor = fp.Vendor
		host.Model = fp.Model
		host.DeviceType = fp.DeviceType
		host.OSFamily = fp.OSFamily
		host.Confidence = fp.Confidence
	}

	if err := r.jobs.UpsertHost(ctx, host); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("failed to save discovered host %s: %w", ip, err)
	}
	prog.discovered.Add(1)

	r.publisher.Publish(events.New(events.KindDiscoveryHost, events.DiscoveryHostFound{JobID: job.ID, Host: *host}))
	return nil
}

// reportProgress persists counters and publishes a progress event, at most
// once per configured interval.
func (r *Runner) reportProgress(ctx context.Context, job *model.DiscoveryJob, prog *progress) {
	scanned := int(prog.scanned.Load())
	if err := r.jobs.UpdateJobProgress(ctx, job.ID, scanned, int(prog.discovered.Load()), prog.percent()); err != nil {
		r.logger.Warn("failed to update discovery progress", "job_id", job.ID, "error", err)
	}

	now := time.Now().UnixNano()
	last := prog.lastEmit.Load()
	if interval := r.cfg.GetProgressInterval(); interval > 0 && now-last < int64(interval) && scanned < prog.total {
		return
	}
	if !prog.lastEmit.CompareAndSwap(last, now) {
		return
	}
	r.publishProgress(job, prog)
}

func (r *Runner) publishProgress(job *model.DiscoveryJob, prog *progress) {
	prog.emitMu.Lock()
	defer prog.emitMu.Unlock()
	r.publisher.Publish(events.New(events.KindDiscoveryProgress, events.DiscoveryProgress{
		JobID:           job.ID,
		Status:          model.JobRunning,
		TotalHosts:      prog.total,
		ScannedHosts:    int(prog.scanned.Load()),
		DiscoveredHosts: int(prog.discovered.Load()),
		ProgressPercent: prog.percent(),
	}))
}

// finish moves job to a terminal status and announces it.
func (r *Runner) finish(ctx context.Context, job *model.DiscoveryJob, status model.JobStatus, errMsg string) {
	now := r.now()
	job.Status = status
	job.CompletedAt = &now
	job.ErrorMessage = errMsg
	if status == model.JobCompleted {
		job.ProgressPercent = 100
	}

	logger := r.logger.With("job_id", job.ID, "status", status)
	if err := r.jobs.UpdateJob(ctx, job); err != nil {
		logger.Error("failed to save discovery job result", "error", err)
	}

	telemetry.RecordJobFinished(status)
	if status == model.JobFailed {
		logger.Error("discovery job failed", "error", errMsg)
	} else {
		logger.Info("discovery job finished", "scanned", job.ScannedHosts, "discovered", job.DiscoveredHosts)
	}

	r.publisher.Publish(events.New(events.KindDiscoveryComplete, events.DiscoveryProgress{
		JobID:           job.ID,
		Status:          status,
		TotalHosts:      job.TotalHosts,
		ScannedHosts:    job.ScannedHosts,
		DiscoveredHosts: job.DiscoveredHosts,
		ProgressPercent: job.ProgressPercent,
		ErrorMessage:    errMsg,
	}))
}
