package admission

import (
	"net"
	"net/http"
	"strings"
)

// AnonymousIdentifier is the sentinel used when no identity source
// yields anything.
const AnonymousIdentifier = "anonymous"

// Resolver derives a rate-limit identifier from a request. Resolvers
// are tried in order; the first to report true wins. Identifier
// derivation is policy, so new identity sources slot in without
// touching the limiter.
type Resolver func(r *http.Request) (string, bool)

// SubjectResolver yields the authenticated subject's id.
func SubjectResolver(r *http.Request) (string, bool) {
	ac, ok := GetAuthContext(r)
	if !ok {
		return "", false
	}
	return ac.UserID.String(), true
}

// ForwardedForResolver yields the first entry of X-Forwarded-For, the
// original client behind any proxies.
func ForwardedForResolver(r *http.Request) (string, bool) {
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return "", false
	}
	ip := strings.TrimSpace(strings.Split(xff, ",")[0])
	return ip, ip != ""
}

// RemoteAddrResolver yields the peer address host.
func RemoteAddrResolver(r *http.Request) (string, bool) {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host, true
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr, true
	}
	return "", false
}

// AnonymousResolver always yields the anonymous sentinel.
func AnonymousResolver(*http.Request) (string, bool) {
	return AnonymousIdentifier, true
}

// DefaultResolvers is the standard resolution order: authenticated
// subject, forwarded client address, peer address, anonymous.
func DefaultResolvers() []Resolver {
	return []Resolver{
		SubjectResolver,
		ForwardedForResolver,
		RemoteAddrResolver,
		AnonymousResolver,
	}
}

// ResolveIdentifier runs the resolver chain.
func ResolveIdentifier(r *http.Request, resolvers []Resolver) string {
	for _, resolve := range resolvers {
		if id, ok := resolve(r); ok {
			return id
		}
	}
	return AnonymousIdentifier
}
