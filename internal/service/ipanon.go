package service

import (
	"net/netip"
	"strings"
)

// UnknownClientIP stands in for a client address that could not be
// determined or parsed.
const UnknownClientIP = "unknown"

// ClientIP picks the client address of a request: the first entry of the
// forwarded-for header, else the connection's remote address, else
// UnknownClientIP.
func ClientIP(forwardedFor, remoteAddr string) string {
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if remoteAddr = strings.TrimSpace(remoteAddr); remoteAddr != "" {
		return remoteAddr
	}
	return UnknownClientIP
}

// AnonymizeIP irreversibly coarsens an address before it is stored: the last
// octet of an IPv4 address and the trailing 80 bits of an IPv6 address are
// zeroed. Ports and zones are dropped. Anything unparseable becomes
// UnknownClientIP, so raw input is never returned.
func AnonymizeIP(raw string) string {
	addr, ok := parseAddr(strings.TrimSpace(raw))
	if !ok {
		return UnknownClientIP
	}
	addr = addr.WithZone("").Unmap()

	bits := 24
	if addr.Is6() {
		bits = 48
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return UnknownClientIP
	}
	return prefix.Addr().String()
}

func parseAddr(s string) (netip.Addr, bool) {
	if s == "" {
		return netip.Addr{}, false
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr, true
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr(), true
	}
	// Bracketed IPv6 without a port.
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		if addr, err := netip.ParseAddr(s[1 : len(s)-1]); err == nil {
			return addr, true
		}
	}
	return netip.Addr{}, false
}
