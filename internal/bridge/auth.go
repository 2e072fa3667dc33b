package bridge

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/coredrift/substrate/internal/runtimecfg"
)

// AuthMode describes how a request to the observability bridge authorized.
type AuthMode string

const (
	AuthLocalhost AuthMode = "localhost"
	AuthAPIKey    AuthMode = "api_key"
)

// AuthInfo is attached to the request context by Middleware.
type AuthInfo struct {
	Mode      AuthMode
	Scope     string
	Localhost bool
}

type authContextKey struct{}

// AuthFromContext retrieves the AuthInfo a request authenticated with.
func AuthFromContext(ctx context.Context) (AuthInfo, bool) {
	v, ok := ctx.Value(authContextKey{}).(AuthInfo)
	return v, ok
}

// Middleware gates the bridge's HTTP surface (GET /api/snapshot, the
// inspection endpoints, and the ws upgrade) behind the Chief-authorization
// keyring, exempting localhost callers when the keyring allows it.
func Middleware(ring *runtimecfg.Keyring) func(http.Handler) http.Handler {
	if ring == nil {
		ring = runtimecfg.NewKeyring(true, nil)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ring.AllowLocalhostWithoutAuth && isLocalRequest(r) {
				info := AuthInfo{Mode: AuthLocalhost, Localhost: true}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authContextKey{}, info)))
				return
			}
			scope, ok := authorize(r, ring)
			if !ok {
				writeUnauthorized(w)
				return
			}
			info := AuthInfo{Mode: AuthAPIKey, Scope: scope}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authContextKey{}, info)))
		})
	}
}

func authorize(r *http.Request, ring *runtimecfg.Keyring) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	key := strings.TrimSpace(parts[1])
	if key == "" {
		return "", false
	}
	return ring.ScopeForKey(key)
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}

func isLocalRequest(r *http.Request) bool {
	if ip := forwardedFor(r.Header.Get("X-Forwarded-For")); ip != "" {
		if parsed := net.ParseIP(ip); parsed != nil {
			return parsed.IsLoopback()
		}
		if strings.EqualFold(ip, "localhost") {
			return true
		}
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	parsed := net.ParseIP(host)
	return parsed != nil && parsed.IsLoopback()
}

func forwardedFor(v string) string {
	if v == "" {
		return ""
	}
	parts := strings.Split(v, ",")
	return strings.TrimSpace(parts[0])
}
