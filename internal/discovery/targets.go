package discovery

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// ErrInvalidCIDR is returned for scan targets that are not a CIDR block,
// an address range or a single address.
var ErrInvalidCIDR = errors.New("invalid scan target")

// TargetType is the syntactic form of a scan target.
type TargetType string

const (
	TargetTypeCIDR    TargetType = "cidr"
	TargetTypeRange   TargetType = "range"
	TargetTypeSingle  TargetType = "ip"
	TargetTypeUnknown TargetType = "unknown"
)

// DefaultMaxHosts bounds the expansion of a single target.
const DefaultMaxHosts = 65536

// DetectTargetType classifies a target:
//
//	"192.168.1.0/24"           -> cidr
//	"192.168.1.1-192.168.1.50" -> range
//	"192.168.1.100"            -> ip
func DetectTargetType(value string) TargetType {
	value = strings.TrimSpace(value)

	if _, err := netip.ParsePrefix(value); err == nil {
		return TargetTypeCIDR
	}
	if _, _, err := parseRange(value); err == nil {
		return TargetTypeRange
	}
	if _, err := netip.ParseAddr(value); err == nil {
		return TargetTypeSingle
	}
	return TargetTypeUnknown
}

// ExpandTarget returns the host addresses covered by target, in order.
// IPv4 blocks shorter than /31 exclude the network and broadcast
// addresses. maxHosts <= 0 applies DefaultMaxHosts.
func ExpandTarget(target string, maxHosts int) ([]string, error) {
	if maxHosts <= 0 {
		maxHosts = DefaultMaxHosts
	}
	target = strings.TrimSpace(target)

	first, last, err := bounds(target)
	if err != nil {
		return nil, err
	}

	n, err := CountHosts(target)
	if err != nil {
		return nil, err
	}
	if n > uint64(maxHosts) {
		return nil, fmt.Errorf("%w: %s covers %d hosts, limit is %d", ErrInvalidCIDR, target, n, maxHosts)
	}

	hosts := make([]string, 0, n)
	for addr := first; ; addr = addr.Next() {
		hosts = append(hosts, addr.String())
		if addr == last {
			break
		}
	}
	return hosts, nil
}

// CountHosts returns how many addresses ExpandTarget would produce.
func CountHosts(target string) (uint64, error) {
	target = strings.TrimSpace(target)
	first, last, err := bounds(target)
	if err != nil {
		return 0, err
	}
	if first.Is4() {
		a, b := first.As4(), last.As4()
		return uint64(be32(b)-be32(a)) + 1, nil
	}

	// IPv6: compare the high halves first so huge blocks do not overflow.
	a, b := first.As16(), last.As16()
	if be64(a[:8]) != be64(b[:8]) {
		return ^uint64(0), nil
	}
	diff := be64(b[8:]) - be64(a[8:])
	if diff == ^uint64(0) {
		return diff, nil
	}
	return diff + 1, nil
}

// ValidateTarget reports whether target parses and stays within maxHosts.
func ValidateTarget(target string, maxHosts int) error {
	if maxHosts <= 0 {
		maxHosts = DefaultMaxHosts
	}
	n, err := CountHosts(target)
	if err != nil {
		return err
	}
	if n > uint64(maxHosts) {
		return fmt.Errorf("%w: %s covers %d hosts, limit is %d", ErrInvalidCIDR, strings.TrimSpace(target), n, maxHosts)
	}
	return nil
}

// bounds returns the first and last scannable address of target.
func bounds(target string) (netip.Addr, netip.Addr, error) {
	switch DetectTargetType(target) {
	case TargetTypeCIDR:
		prefix, _ := netip.ParsePrefix(target)
		return prefixBounds(prefix.Masked())
	case TargetTypeRange:
		return parseRange(target)
	case TargetTypeSingle:
		addr, _ := netip.ParseAddr(target)
		return addr, addr, nil
	}
	return netip.Addr{}, netip.Addr{}, fmt.Errorf("%w: %q", ErrInvalidCIDR, target)
}

func prefixBounds(p netip.Prefix) (netip.Addr, netip.Addr, error) {
	first := p.Addr()
	hostBits := first.BitLen() - p.Bits()

	last := first
	if first.Is4() {
		b := first.As4()
		n := be32(b) | (uint32(1)<<hostBits - 1)
		last = netip.AddrFrom4([4]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
	} else {
		b := first.As16()
		for i := 0; i < hostBits; i++ {
			byteIdx := 15 - i/8
			b[byteIdx] |= 1 << (i % 8)
		}
		last = netip.AddrFrom16(b)
	}

	if first.Is4() && p.Bits() < 31 {
		return first.Next(), last.Prev(), nil
	}
	return first, last, nil
}

func parseRange(value string) (netip.Addr, netip.Addr, error) {
	start, end, ok := strings.Cut(value, "-")
	if !ok {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("%w: range must be start-end", ErrInvalidCIDR)
	}
	first, err := netip.ParseAddr(strings.TrimSpace(start))
	if err != nil {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("%w: range start: %v", ErrInvalidCIDR, err)
	}
	last, err := netip.ParseAddr(strings.TrimSpace(end))
	if err != nil {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("%w: range end: %v", ErrInvalidCIDR, err)
	}
	if first.Is4() != last.Is4() {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("%w: address family mismatch %s-%s", ErrInvalidCIDR, first, last)
	}
	if first.Compare(last) > 0 {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("%w: range start %s is after end %s", ErrInvalidCIDR, first, last)
	}
	return first, last, nil
}

func be32(b [4]byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func be64(b []byte) uint64 {
	var n uint64
	for _, x := range b {
		n = n<<8 | uint64(x)
	}
	return n
}
