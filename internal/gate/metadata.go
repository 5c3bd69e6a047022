package gate

import (
	"net/http"
	"net/netip"
	"strings"
)

// maxXFFHeaderLength caps the X-Forwarded-For value to prevent header
// injection through oversized values.
const maxXFFHeaderLength = 500

// Metadata resolves the caller's network address (trusted-proxy aware) and
// user agent and stores them in the request context.
//
// When the request carries no usable peer address (certain non-network
// invocation contexts, e.g. handlers driven directly in tests), the client IP
// resolves to "" and every IP-based check downstream is skipped. This is a
// deliberate, documented bypass.
func (p *Pipeline) Metadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := p.resolveClientIP(r)
		ctx := WithClientMetadata(r.Context(), ip, r.Header.Get("User-Agent"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolveClientIP extracts the client IP, honoring X-Forwarded-For only when
// the direct peer is a trusted proxy.
func (p *Pipeline) resolveClientIP(r *http.Request) string {
	remoteIP := parseRemoteAddr(r.RemoteAddr)
	if remoteIP == "" {
		return ""
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" || !p.isTrustedProxy(remoteIP) || len(xff) > maxXFFHeaderLength {
		return remoteIP
	}

	clientIP := xff
	if before, _, ok := strings.Cut(xff, ","); ok {
		clientIP = before
	}
	clientIP = strings.TrimSpace(clientIP)

	if _, err := netip.ParseAddr(clientIP); err != nil {
		return remoteIP
	}
	return clientIP
}

func (p *Pipeline) isTrustedProxy(ip string) bool {
	if len(p.trustedProxies) == 0 {
		return false
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}

	for _, prefix := range p.trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// parseRemoteAddr strips the port from a host:port RemoteAddr. Returns "" for
// values that are not addresses at all.
func parseRemoteAddr(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}

	// net/http sets RemoteAddr to "IP:port"; an IPv6 host is bracketed.
	host := remoteAddr
	if idx := strings.LastIndex(remoteAddr, ":"); idx != -1 {
		maybeHost := remoteAddr[:idx]
		if h := strings.Trim(maybeHost, "[]"); h != "" {
			if _, err := netip.ParseAddr(h); err == nil {
				return h
			}
		}
	}

	host = strings.Trim(host, "[]")
	if _, err := netip.ParseAddr(host); err != nil {
		return ""
	}
	return host
}
