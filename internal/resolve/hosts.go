package resolve

import (
	"net/url"
	"strings"
	"sync/atomic"
)

// HostPolicy decides which locators may be played. A locator passes when it
// is an absolute http or https URL whose host is on the allowlist. An empty
// allowlist admits every host.
//
// The allowlist can be replaced at runtime with [HostPolicy.Set]; HostPolicy
// is safe for concurrent use.
type HostPolicy struct {
	hosts atomic.Pointer[map[string]struct{}]
}

// NewHostPolicy returns a policy admitting hosts.
func NewHostPolicy(hosts []string) *HostPolicy {
	p := &HostPolicy{}
	p.Set(hosts)
	return p
}

// Set replaces the allowlist. Host names are compared case-insensitively.
func (p *HostPolicy) Set(hosts []string) {
	m := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			m[h] = struct{}{}
		}
	}
	p.hosts.Store(&m)
}

// Hosts returns the current allowlist in no particular order.
func (p *HostPolicy) Hosts() []string {
	m := *p.hosts.Load()
	out := make([]string, 0, len(m))
	for h := range m {
		out = append(out, h)
	}
	return out
}

// Allowed reports whether locator may be played.
func (p *HostPolicy) Allowed(locator string) bool {
	u, err := url.Parse(strings.TrimSpace(locator))
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}

	m := *p.hosts.Load()
	if len(m) == 0 {
		return true
	}
	_, ok := m[host]
	return ok
}
