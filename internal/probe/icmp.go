package probe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nmslite/netmon/internal/model"
	probing "github.com/prometheus-community/pro-bing"
)

// ICMPProber sends echo requests with pro-bing.
type ICMPProber struct {
	Count      int
	Interval   time.Duration
	Privileged bool
	Logger     *slog.Logger
}

// NewICMPProber creates an ICMP prober sending count echo requests.
func NewICMPProber(count int, privileged bool, logger *slog.Logger) *ICMPProber {
	if count <= 0 {
		count = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ICMPProber{
		Count:      count,
		Interval:   200 * time.Millisecond,
		Privileged: privileged,
		Logger:     logger.With("component", "icmp"),
	}
}

func (p *ICMPProber) Probe(ctx context.Context, t Target, timeout time.Duration) Result {
	return race(ctx, model.ProtocolICMP, timeout, func(ctx context.Context) Result {
		return p.ping(ctx, t.IP, timeout)
	})
}

func (p *ICMPProber) ping(ctx context.Context, ip string, timeout time.Duration) Result {
	pinger, err := probing.NewPinger(ip)
	if err != nil {
		return Result{Code: CodeMalformed, Err: fmt.Errorf("failed to create pinger for %s: %w", ip, err)}
	}

	pinger.Count = p.Count
	pinger.Interval = p.Interval
	pinger.Timeout = timeout
	pinger.SetPrivileged(p.Privileged)

	ttl := 0
	pinger.OnRecv = func(pkt *probing.Packet) {
		if ttl == 0 {
			ttl = pkt.TTL
		}
		p.Logger.Debug("Received echo reply", "ip", ip, "seq", pkt.Seq, "rtt", pkt.Rtt.String(), "ttl", pkt.TTL)
	}

	if err := pinger.RunWithContext(ctx); err != nil {
		p.Logger.Debug("Pinger execution failed", "ip", ip, "error", err)
		return failure(fmt.Errorf("pinger execution failed for %s: %w", ip, err))
	}

	stats := pinger.Statistics()
	loss := stats.PacketLoss
	if stats.PacketsRecv == 0 {
		return Result{Code: CodeUnreachable, PacketLoss: &loss}
	}

	latency := float64(stats.AvgRtt.Microseconds()) / 1000
	return Result{
		Reachable:  true,
		Code:       CodeOK,
		LatencyMs:  &latency,
		PacketLoss: &loss,
		TTL:        ttl,
	}
}
