// Admission guard: a per-IP connection ceiling applied to accepted
// sockets only (dialed connections are outbound and never throttled).
// Always on, per spec: this is resource protection, not a feature to
// toggle — the only knob is setting the ceiling to 0 for unlimited.
//
// Grounded on the teacher's rtmp_server.go AddIP/RemoveIP/isIPExempted
// trio, including its env-var-driven configuration
// (MAX_IP_CONCURRENT_CONNECTIONS, CONCURRENT_LIMIT_WHITELIST), using
// netdata/go.d.plugin's iprange package for the exemption list instead
// of hand-rolled CIDR parsing.

package main

import (
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/netdata/go.d.plugin/pkg/iprange"
)

const defaultMaxConnectionsPerIP = 4

type IPGuard struct {
	maxPerIP  uint32
	exemptAll bool
	exempt    []iprange.Range
	counts    map[string]uint32
}

// NewIPGuard reads its configuration from the environment, exactly as
// the teacher's isIPExempted/ip_limit did, since this is ambient
// resource protection rather than routing configuration.
func NewIPGuard() (*IPGuard, error) {
	maxPerIP := uint32(defaultMaxConnectionsPerIP)
	if raw := os.Getenv("MAX_IP_CONCURRENT_CONNECTIONS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			maxPerIP = uint32(n)
		}
	}

	g := &IPGuard{maxPerIP: maxPerIP, counts: make(map[string]uint32)}

	whitelist := os.Getenv("CONCURRENT_LIMIT_WHITELIST")
	if whitelist == "*" {
		g.exemptAll = true
		return g, nil
	}
	if whitelist == "" {
		return g, nil
	}
	for _, part := range strings.Split(whitelist, ",") {
		r, err := iprange.ParseRange(part)
		if err != nil {
			return nil, newConfigError("invalid CONCURRENT_LIMIT_WHITELIST entry '"+part+"'", err)
		}
		g.exempt = append(g.exempt, r)
	}
	return g, nil
}

func (g *IPGuard) isExempted(ipStr string) bool {
	if g.exemptAll {
		return true
	}
	if len(g.exempt) == 0 {
		return false
	}
	ip := net.ParseIP(ipStr)
	for _, r := range g.exempt {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}

// Admit reports whether a new accepted connection from ip should be
// allowed, and if so, reserves a slot against the per-IP ceiling. A
// ceiling of 0 disables the check entirely.
func (g *IPGuard) Admit(ip string) bool {
	if g.maxPerIP == 0 || g.isExempted(ip) {
		return true
	}
	if g.counts[ip] >= g.maxPerIP {
		return false
	}
	g.counts[ip]++
	return true
}

func (g *IPGuard) Release(ip string) {
	if g.maxPerIP == 0 || g.isExempted(ip) {
		return
	}
	if g.counts[ip] == 0 {
		return
	}
	g.counts[ip]--
	if g.counts[ip] == 0 {
		delete(g.counts, ip)
	}
}
