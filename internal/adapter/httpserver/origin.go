package httpserver

import (
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// originPolicy decides which browser origins may call the API and open a
// push channel. ALLOWED_ORIGINS entries are full origins, "*", or a single
// leading host wildcard such as "https://*.club.org".
type originPolicy struct {
	anyOrigin   bool
	configured  bool
	exact       []string
	wildcards   []wildcardOrigin
	development bool
}

type wildcardOrigin struct {
	scheme string
	suffix string // ".club.org"
}

func newOriginPolicy(allowed []string, development bool) *originPolicy {
	p := &originPolicy{development: development}
	for _, raw := range allowed {
		raw = strings.TrimSpace(raw)
		switch {
		case raw == "":
			continue
		case raw == "*":
			p.anyOrigin = true
		case strings.Contains(raw, "://*."):
			scheme, host, _ := strings.Cut(raw, "://*")
			p.wildcards = append(p.wildcards, wildcardOrigin{scheme: scheme, suffix: strings.TrimSuffix(host, "/")})
		default:
			origin := extractOrigin(raw)
			if origin == "" {
				slog.Warn("Ignoring invalid allowed origin", "origin", raw)
				continue
			}
			p.exact = append(p.exact, origin)
		}
		p.configured = true
	}
	return p
}

// allows reports whether origin matches the configured list, or is a
// localhost origin in development.
func (p *originPolicy) allows(origin string) bool {
	if p.anyOrigin || slices.Contains(p.exact, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	for _, w := range p.wildcards {
		if u.Scheme == w.scheme && strings.HasSuffix(u.Host, w.suffix) && len(u.Host) > len(w.suffix) {
			return true
		}
	}
	return p.development && isLocalhost(u.Hostname())
}

// allowsCORS keeps rs/cors' default of any origin while nothing is
// configured. Read routes are public scoreboards.
func (p *originPolicy) allowsCORS(origin string) bool {
	return !p.configured || p.allows(origin)
}

// checkOrigin is the websocket upgrade policy. Non-browser clients send no
// Origin; same-host pages are always accepted.
func (p *originPolicy) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
		return true
	}
	if p.allows(origin) {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
	return false
}

func extractOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func isLocalhost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
