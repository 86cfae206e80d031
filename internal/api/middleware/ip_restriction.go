package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"keyward/internal/api/handlers"
)

// IPMatcher matches client addresses against exact IPs and CIDR ranges.
type IPMatcher struct {
	ips  []net.IP
	nets []*net.IPNet
}

func NewIPMatcher(entries []string) *IPMatcher {
	m := &IPMatcher{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				slog.Error("Failed to parse CIDR", "cidr", entry, "error", err)
				continue
			}
			m.nets = append(m.nets, network)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			slog.Error("Failed to parse IP", "ip", entry)
			continue
		}
		m.ips = append(m.ips, ip)
	}
	return m
}

func (m *IPMatcher) Empty() bool {
	return len(m.ips) == 0 && len(m.nets) == 0
}

func (m *IPMatcher) Contains(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, candidate := range m.ips {
		if candidate.Equal(ip) {
			return true
		}
	}
	for _, network := range m.nets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// IPRestriction rejects blocked addresses and, when an allow-list is set,
// every address outside it.
func IPRestriction(allowed, blocked []string) gin.HandlerFunc {
	allow := NewIPMatcher(allowed)
	block := NewIPMatcher(blocked)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		if block.Contains(ip) || (!allow.Empty() && !allow.Contains(ip)) {
			slog.Warn("Request rejected", "reason", "ip not allowed", "ip", ip, "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusForbidden, handlers.Envelope(false, "IP address not allowed"))
			return
		}
		c.Next()
	}
}
