// Package ipfilter restricts listeners to an allowlist of client
// addresses. An empty allowlist admits everyone.
package ipfilter

import (
	"fmt"
	"net"
	"strings"
)

// Filter holds the allowed networks. The zero value admits everyone.
type Filter struct {
	nets []*net.IPNet
}

// New parses IPs and CIDR ranges into a filter. A bare IP matches
// exactly. Malformed entries are an error, not a skipped warning.
func New(allowed []string) (*Filter, error) {
	f := &Filter{}
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %q in allowlist: %w", entry, err)
			}
			f.nets = append(f.nets, ipNet)
			continue
		}

		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP %q in allowlist", entry)
		}
		bits := 128
		if ip.To4() != nil {
			bits = 32
		}
		f.nets = append(f.nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return f, nil
}

// Enabled reports whether any networks are configured.
func (f *Filter) Enabled() bool {
	return len(f.nets) > 0
}

// Allows reports whether ip is admitted.
func (f *Filter) Allows(ip net.IP) bool {
	if len(f.nets) == 0 {
		return true
	}
	for _, n := range f.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// AllowsAddr checks a host:port or bare-host address string. An
// unparseable address is rejected when the filter is enabled.
func (f *Filter) AllowsAddr(addr string) bool {
	if len(f.nets) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return f.Allows(ip)
}
