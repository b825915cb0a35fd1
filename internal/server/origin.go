// Package server gates WebSocket upgrades on the Origin header so only
// configured frontends can open lobby or room channels.
package server

import (
	"log"
	"net/http"
	"net/url"
	"strings"
)

// canonicalOrigin reduces an origin to lowercase scheme://host form. The
// comparison deliberately keeps the port: two broker frontends on the same
// host but different ports are different origins.
func canonicalOrigin(raw string) (string, bool) {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// normalizeOrigins canonicalizes the configured allow list. A "*" entry
// switches on allow-all; entries that cannot be parsed are dropped so a typo
// in the configuration narrows access instead of widening it.
func normalizeOrigins(origins []string) ([]string, bool) {
	allowAll := false
	var normalized []string

	for _, entry := range origins {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "":
		case entry == "*":
			allowAll = true
		default:
			canon, ok := canonicalOrigin(entry)
			if !ok {
				log.Printf("Dropping unparseable allowed origin %q", entry)
				continue
			}
			normalized = append(normalized, canon)
		}
	}

	return normalized, allowAll
}

// isOriginAllowed decides whether a request may upgrade. The header is
// required even under allow-all: a missing Origin means a non-browser caller
// that skipped the handshake contract.
func isOriginAllowed(r *http.Request) bool {
	canon, ok := canonicalOrigin(r.Header.Get("Origin"))
	if !ok {
		return false
	}

	configMu.RLock()
	defer configMu.RUnlock()

	if allowAllOrigins {
		return true
	}
	_, listed := allowedOrigins[canon]
	return listed
}

func checkOrigin(r *http.Request) bool {
	if isOriginAllowed(r) {
		return true
	}
	log.Printf("Refusing upgrade for origin %q", r.Header.Get("Origin"))
	return false
}
