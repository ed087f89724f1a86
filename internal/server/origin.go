package server

import (
	"log"
	"net/http"
	"net/url"
	"strings"
)

// originPolicy is the normalized set of origins allowed to open a WebSocket.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	ordered  []string
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{allowed: make(map[string]struct{}, len(origins))}

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		switch {
		case trimmed == "":
			continue
		case trimmed == "*":
			p.allowAll = true
			continue
		}

		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Printf("Ignoring invalid origin in configuration: %q", origin)
			continue
		}
		if _, dup := p.allowed[normalized]; dup {
			continue
		}
		p.allowed[normalized] = struct{}{}
		p.ordered = append(p.ordered, normalized)
	}
	return p
}

// list returns the configured origins in normalized form, "*" first when set.
func (p originPolicy) list() []string {
	out := make([]string, 0, len(p.ordered)+1)
	if p.allowAll {
		out = append(out, "*")
	}
	return append(out, p.ordered...)
}

func (p originPolicy) allows(origin string) bool {
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	if p.allowAll {
		return true
	}
	_, exists := p.allowed[normalized]
	return exists
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// checkOrigin is the upgrader's origin check. Requests without an Origin
// header are rejected.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	configMu.RLock()
	allowed := origin != "" && origins.allows(origin)
	configMu.RUnlock()

	if !allowed {
		log.Printf("Blocked WebSocket connection from disallowed origin: %q", origin)
	}
	return allowed
}
