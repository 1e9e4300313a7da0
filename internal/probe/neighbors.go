package probe

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

const incompleteMAC = "00:00:00:00:00:00"

// LookupHostname returns the first PTR name for ip, or "" when none resolves
// within timeout.
func LookupHostname(ctx context.Context, resolver *net.Resolver, ip string, timeout time.Duration) string {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	names, err := resolver.LookupAddr(ctx, ip)
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}

// ARPTable reads MAC evidence from the kernel neighbour table
// (/proc/net/arp on Linux). Missing files yield an empty table.
type ARPTable struct {
	path   string
	maxAge time.Duration

	mu       sync.Mutex
	entries  map[string]string
	loadedAt time.Time
}

// NewARPTable creates a table reader for path. The file is re-read at most
// once per maxAge.
func NewARPTable(path string, maxAge time.Duration) *ARPTable {
	return &ARPTable{path: path, maxAge: maxAge}
}

// Lookup returns the MAC address recorded for ip, or "".
func (a *ARPTable) Lookup(ip string) string {
	if a == nil || a.path == "" {
		return ""
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.entries == nil || time.Since(a.loadedAt) > a.maxAge {
		entries, err := readARPFile(a.path)
		if err != nil {
			entries = map[string]string{}
		}
		a.entries = entries
		a.loadedAt = time.Now()
	}
	return a.entries[ip]
}

func readARPFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	defer f.Close()
	return parseARP(f)
}

// parseARP parses the /proc/net/arp format:
// IP address  HW type  Flags  HW address  Mask  Device
func parseARP(r io.Reader) (map[string]string, error) {
	entries := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || net.ParseIP(fields[0]) == nil {
			continue
		}
		mac := strings.ToLower(fields[3])
		if mac == incompleteMAC {
			continue
		}
		if _, err := net.ParseMAC(mac); err != nil {
			continue
		}
		entries[fields[0]] = mac
	}
	return entries, scanner.Err()
}
