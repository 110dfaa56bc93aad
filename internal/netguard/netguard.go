// Package netguard validates outbound URLs before the chat core fetches
// them on a model's behalf, refusing private and internal network targets.
package netguard

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// ErrBlocked marks a URL refused by the outbound policy. The message is
// caller-facing and stable.
var ErrBlocked = errors.New("Private or local network URLs are not allowed")

// blockedHostnames are always refused regardless of resolution.
var blockedHostnames = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
}

// internalSuffixes mark hostnames that name internal resources.
var internalSuffixes = []string{".localhost", ".local", ".internal"}

// normalizeHostname lowercases, trims, strips the trailing dot, and
// unwraps IPv6 brackets.
func normalizeHostname(hostname string) string {
	h := strings.ToLower(strings.TrimSpace(hostname))
	h = strings.TrimSuffix(h, ".")
	if strings.HasPrefix(h, "[") && strings.HasSuffix(h, "]") {
		h = h[1 : len(h)-1]
	}
	return h
}

// IsBlockedHostname reports whether the hostname itself names an internal
// resource.
func IsBlockedHostname(hostname string) bool {
	h := normalizeHostname(hostname)
	if h == "" {
		return false
	}
	if blockedHostnames[h] {
		return true
	}
	for _, suffix := range internalSuffixes {
		if strings.HasSuffix(h, suffix) {
			return true
		}
	}
	return false
}

// IsPrivateAddr reports whether the address is loopback, link-local,
// RFC1918 private, carrier-grade NAT, or unspecified. IPv4-mapped IPv6
// addresses are unwrapped first.
func IsPrivateAddr(addr netip.Addr) bool {
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	if addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsUnspecified() {
		return true
	}
	if addr.IsPrivate() {
		return true
	}
	if addr.Is4() {
		b := addr.As4()
		// 0.0.0.0/8 current network.
		if b[0] == 0 {
			return true
		}
		// 100.64.0.0/10 carrier-grade NAT.
		if b[0] == 100 && b[1] >= 64 && b[1] <= 127 {
			return true
		}
	}
	if addr.Is6() {
		b := addr.As16()
		// fc00::/7 unique local.
		if b[0]&0xfe == 0xfc {
			return true
		}
		// fec0::/10 deprecated site-local.
		if b[0] == 0xfe && b[1]&0xc0 == 0xc0 {
			return true
		}
	}
	return false
}

// IsPrivateIPString reports whether the string parses as a private address.
// Non-addresses return false.
func IsPrivateIPString(s string) bool {
	addr, err := netip.ParseAddr(normalizeHostname(s))
	if err != nil {
		return false
	}
	return IsPrivateAddr(addr)
}

// ValidateHostname refuses hostnames that are blocked, are private
// addresses, or resolve to one.
func ValidateHostname(hostname string) error {
	h := normalizeHostname(hostname)
	if h == "" {
		return fmt.Errorf("empty hostname")
	}
	if IsBlockedHostname(h) || IsPrivateIPString(h) {
		return ErrBlocked
	}
	// Literal public IPs need no lookup.
	if _, err := netip.ParseAddr(h); err == nil {
		return nil
	}

	ips, err := net.LookupIP(h)
	if err != nil || len(ips) == 0 {
		return fmt.Errorf("unable to resolve hostname %q", hostname)
	}
	for _, ip := range ips {
		addr, ok := netip.AddrFromSlice(ip)
		if ok && IsPrivateAddr(addr) {
			return ErrBlocked
		}
	}
	return nil
}

// ValidateURL enforces the outbound URL policy: http/https scheme and a
// public, resolvable host.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("url has no host")
	}
	return ValidateHostname(u.Hostname())
}
