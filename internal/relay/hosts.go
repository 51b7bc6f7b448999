package relay

import (
	"fmt"
	"net"
	"strings"

	"github.com/gluk-w/claworc/sshrelay/internal/logutil"
)

// HostPolicy restricts which upstream hosts clients may connect to. Entries
// are IP addresses, CIDR ranges, exact hostnames, or "*.domain" suffix
// patterns. Hostname targets are matched by name only and IP targets by
// address only; no DNS lookups are made. An empty policy allows every host.
type HostPolicy struct {
	networks []*net.IPNet
	names    map[string]struct{}
	suffixes []string
}

// ParseHostPolicy builds a policy from allow-list entries. Blank entries are
// skipped.
func ParseHostPolicy(entries []string) (*HostPolicy, error) {
	p := &HostPolicy{names: make(map[string]struct{})}
	for _, raw := range entries {
		entry := strings.ToLower(strings.TrimSpace(raw))
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %q: %w", entry, err)
			}
			p.networks = append(p.networks, network)
			continue
		}

		if ip := net.ParseIP(entry); ip != nil {
			var mask net.IPMask
			if ip.To4() != nil {
				mask = net.CIDRMask(32, 32)
			} else {
				mask = net.CIDRMask(128, 128)
			}
			p.networks = append(p.networks, &net.IPNet{IP: ip.Mask(mask), Mask: mask})
			continue
		}

		if strings.HasPrefix(entry, "*.") {
			if len(entry) < 3 {
				return nil, fmt.Errorf("invalid host pattern %q", entry)
			}
			p.suffixes = append(p.suffixes, entry[1:])
			continue
		}
		if strings.ContainsAny(entry, " *:") {
			return nil, fmt.Errorf("invalid host %q", entry)
		}
		p.names[entry] = struct{}{}
	}
	return p, nil
}

// Empty reports whether the policy allows every host.
func (p *HostPolicy) Empty() bool {
	return p == nil || (len(p.networks) == 0 && len(p.names) == 0 && len(p.suffixes) == 0)
}

// Check returns nil if host may be dialed.
func (p *HostPolicy) Check(host string) error {
	if p.Empty() {
		return nil
	}
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range p.networks {
			if network.Contains(ip) {
				return nil
			}
		}
		return fmt.Errorf("host %s is not in the allowed list", logutil.SanitizeForLog(host))
	}

	host = strings.TrimSuffix(host, ".")
	if _, ok := p.names[host]; ok {
		return nil
	}
	for _, suffix := range p.suffixes {
		if strings.HasSuffix(host, suffix) {
			return nil
		}
	}
	return fmt.Errorf("host %s is not in the allowed list", logutil.SanitizeForLog(host))
}
