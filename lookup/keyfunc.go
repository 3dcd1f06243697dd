package lookup

import (
	"net/http"
	"net/netip"
	"strings"
)

type KeyFunc func(r *http.Request) string

// DefaultKeyFunc identifica o cliente por header (se configurado), pelo
// primeiro IP válido do X-Forwarded-For (se confiável) ou pelo RemoteAddr.
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
					return addr.Unmap().String()
				}
			}
		}

		remote := strings.TrimSpace(r.RemoteAddr)
		if ap, err := netip.ParseAddrPort(remote); err == nil {
			return ap.Addr().Unmap().String()
		}
		if remote != "" {
			return remote
		}
		return "unknown"
	}
}
