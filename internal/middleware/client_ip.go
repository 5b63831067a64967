package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type ctxKey int

const (
	clientIPKey ctxKey = iota
	callbackClaimsKey
)

// IPResolver picks the caller address, trusting proxy headers only when the
// immediate peer is inside one of the trusted networks.
type IPResolver struct {
	headers []string
	trusted []*net.IPNet
}

func NewIPResolver(headers, trustedCIDRs []string) *IPResolver {
	return &IPResolver{headers: headers, trusted: mustParseCIDRs(trustedCIDRs)}
}

// Middleware stores the resolved address in the request context.
func (res *IPResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := res.Resolve(r).String()
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientIPKey, ip)))
	})
}

func (res *IPResolver) Resolve(r *http.Request) net.IP {
	if res == nil {
		return remoteAddrIP(r.RemoteAddr)
	}
	return clientIP(r, res.headers, res.trusted)
}

// ClientIP returns the address stored by IPResolver, or the peer address.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey).(string); ok && ip != "" {
		return ip
	}
	return remoteAddrIP(r.RemoteAddr).String()
}

func clientIP(r *http.Request, hdrs []string, trusted []*net.IPNet) net.IP {
	remoteIP := remoteAddrIP(r.RemoteAddr)
	if len(hdrs) == 0 || !ipInCIDRs(remoteIP, trusted) {
		return remoteIP
	}
	for _, h := range hdrs {
		v := strings.TrimSpace(r.Header.Get(h))
		if v == "" {
			continue
		}
		if strings.EqualFold(h, "X-Forwarded-For") {
			// left-most entry is the original client
			for _, part := range strings.Split(v, ",") {
				if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
					return ip
				}
			}
			continue
		}
		if ip := net.ParseIP(v); ip != nil {
			return ip
		}
	}
	return remoteIP
}

func remoteAddrIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip
	}
	return net.IPv4zero
}

func ipInCIDRs(ip net.IP, nets []*net.IPNet) bool {
	if ip == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// mustParseCIDRs skips malformed entries. A bare IP is treated as a host network.
func mustParseCIDRs(cidrs []string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if _, n, err := net.ParseCIDR(c); err == nil {
			out = append(out, n)
			continue
		}
		if ip := net.ParseIP(c); ip != nil {
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
		}
	}
	return out
}
