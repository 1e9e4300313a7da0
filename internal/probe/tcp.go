package probe

import (
	"context"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"
)

// TCPProber connect-scans a fixed set of evidence ports. A host counts as
// reachable when any port accepts or actively refuses the connection.
type TCPProber struct {
	Ports []int
}

// NewTCPProber creates a TCP prober for the given ports.
func NewTCPProber(ports []int) *TCPProber {
	return &TCPProber{Ports: ports}
}

func (p *TCPProber) Probe(ctx context.Context, t Target, timeout time.Duration) Result {
	return race(ctx, "tcp", timeout, func(ctx context.Context) Result {
		return p.scan(ctx, t.IP, timeout)
	})
}

func (p *TCPProber) scan(ctx context.Context, ip string, timeout time.Duration) Result {
	if len(p.Ports) == 0 {
		return Result{Code: CodeUnreachable}
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		open      []int
		refused   bool
		firstRTT  *float64
		lastError error
	)

	for _, port := range p.Ports {
		wg.Add(1)
		go func(port int) {
			defer wg.Done()

			dialer := net.Dialer{Timeout: timeout}
			start := time.Now()
			conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if classify(err) == CodeRefused {
					refused = true
				} else {
					lastError = err
				}
				return
			}
			conn.Close()
			open = append(open, port)
			if firstRTT == nil {
				firstRTT = msSince(start)
			}
		}(port)
	}
	wg.Wait()

	slices.Sort(open)
	switch {
	case len(open) > 0:
		return Result{Reachable: true, Code: CodeOK, LatencyMs: firstRTT, OpenPorts: open}
	case refused:
		// an RST proves the host is up even though no port is open
		return Result{Reachable: true, Code: CodeRefused}
	default:
		return failure(lastError)
	}
}
