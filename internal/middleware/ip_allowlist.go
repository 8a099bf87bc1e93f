package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/alertflow/alertflow/internal/api"
)

// IPAllowList admits requests whose remote address falls in one of its
// networks. Forwarding headers are not consulted.
type IPAllowList struct {
	nets []*net.IPNet
	log  *zap.Logger
}

// NewIPAllowList parses entries as single IPs or CIDRs. An empty list
// admits loopback only.
func NewIPAllowList(entries []string, log *zap.Logger) (*IPAllowList, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if len(entries) == 0 {
		entries = []string{"127.0.0.0/8", "::1/128"}
	}
	l := &IPAllowList{log: log}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			ip := net.ParseIP(e)
			if ip == nil {
				return nil, fmt.Errorf("invalid allow-list address %q", e)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			e = fmt.Sprintf("%s/%d", ip.String(), bits)
		}
		_, n, err := net.ParseCIDR(e)
		if err != nil {
			return nil, fmt.Errorf("invalid allow-list network %q: %w", e, err)
		}
		l.nets = append(l.nets, n)
	}
	return l, nil
}

// Allows reports whether ip is covered by the list
func (l *IPAllowList) Allows(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range l.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Handler rejects requests from addresses outside the list with 403
func (l *IPAllowList) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !l.Allows(net.ParseIP(host)) {
			l.log.Warn("receiver request from address not allow-listed", zap.String("remote_addr", r.RemoteAddr))
			api.RespondError(w, http.StatusForbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}
