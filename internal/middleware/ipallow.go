// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/socialscope/scopeboard/internal/logging"
)

// IPAllowlist restricts a route subtree to source addresses inside the
// given CIDRs. Bare IPs are accepted as /32 (or /128) entries. An empty
// list allows everything, so deployments without network segmentation can
// leave it unset.
func IPAllowlist(cidrs []string) func(http.Handler) http.Handler {
	nets := parseCIDRs(cidrs)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(nets) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			ip := clientIP(r)
			if ip == nil || !allowed(nets, ip) {
				logging.Ctx(r.Context()).Warn().
					Str("remote_addr", r.RemoteAddr).
					Str("path", r.URL.Path).
					Msg("Request blocked by IP allowlist")
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func parseCIDRs(cidrs []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !strings.Contains(c, "/") {
			if ip := net.ParseIP(c); ip != nil {
				if ip.To4() != nil {
					c += "/32"
				} else {
					c += "/128"
				}
			}
		}
		if _, ipnet, err := net.ParseCIDR(c); err == nil {
			nets = append(nets, ipnet)
		} else {
			logging.WithComponent("middleware").Warn().
				Str("cidr", c).Msg("Ignoring unparseable allowlist entry")
		}
	}
	return nets
}

func allowed(nets []*net.IPNet, ip net.IP) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP resolves the request's source address. RemoteAddr is
// authoritative; X-Forwarded-For is deliberately ignored since it is
// client-controlled and this allowlist guards privileged routes.
func clientIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}
