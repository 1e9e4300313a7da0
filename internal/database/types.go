package database

import (
	"errors"
	"net/netip"
)

var ErrInvalidInet = errors.New("invalid inet value")

// StringToInet parses a device or host address for an inet column.
// IPv4-mapped IPv6 addresses are stored as plain IPv4 so that uniqueness on
// ip_address holds across both spellings. Zoned addresses are rejected.
func StringToInet(ipStr string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(ipStr)
	if err != nil {
		return netip.Addr{}, ErrInvalidInet
	}
	if addr.Zone() != "" {
		return netip.Addr{}, ErrInvalidInet
	}
	return addr.Unmap(), nil
}

// InetToString renders a scanned inet value. The zero Addr (NULL) renders as "".
func InetToString(addr netip.Addr) string {
	if !addr.IsValid() {
		return ""
	}
	return addr.Unmap().String()
}
