// Package server normalizes and validates HTTP origins for WebSocket requests
// to enforce configured access control.
package server

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// originPolicy decides which browser origins may open a connection. Requests
// without an Origin header come from non-browser clients and are admitted.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	log      *zap.Logger
}

func newOriginPolicy(origins []string, log *zap.Logger) originPolicy {
	p := originPolicy{
		allowed: make(map[string]struct{}, len(origins)),
		log:     log,
	}
	for _, entry := range origins {
		switch entry = strings.TrimSpace(entry); entry {
		case "":
		case "*":
			p.allowAll = true
		default:
			if origin, ok := normalizeOrigin(entry); ok {
				p.allowed[origin] = struct{}{}
			} else {
				log.Warn("Ignoring invalid origin in configuration", zap.String("origin", entry))
			}
		}
	}
	return p
}

// normalizeOrigin reduces an origin to its lower-case scheme://host[:port]
// form.
func normalizeOrigin(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), true
}

func (p originPolicy) allows(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" || p.allowAll {
		return true
	}
	origin, ok := normalizeOrigin(header)
	if !ok {
		return false
	}
	_, ok = p.allowed[origin]
	return ok
}

func (p originPolicy) checkOrigin(r *http.Request) bool {
	if p.allows(r) {
		return true
	}

	p.log.Warn("Blocked WebSocket connection from disallowed origin", zap.String("origin", r.Header.Get("Origin")))
	return false
}
