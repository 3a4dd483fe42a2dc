package handler

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"clinic-secops/internal/service"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type identityKey struct{}

func withIdentity(ctx context.Context, id *service.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the authenticated caller stored by Authenticate.
func IdentityFrom(ctx context.Context) (*service.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*service.Identity)
	return id, ok && id != nil
}

// Authenticate resolves the bearer token before any component code runs.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "Missing authorization header")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

		id, err := h.identity.Authenticate(r.Context(), token)
		if err != nil {
			status, code, message := classify(err)
			if code == codeInternal {
				h.logger.Error("Authentication failed", zap.Error(err))
			}
			writeError(w, status, code, message)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// PrincipalLimiter is a token bucket per authenticated principal. Idle buckets are
// dropped so the map tracks only recent callers.
type PrincipalLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	entries   map[string]*limiterEntry
	lastSweep time.Time
}

func NewPrincipalLimiter(perSecond float64, burst int) *PrincipalLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &PrincipalLimiter{limit: limit, burst: burst, entries: make(map[string]*limiterEntry)}
}

func (l *PrincipalLimiter) Allow(principalID string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for id, e := range l.entries {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(l.entries, id)
			}
		}
		l.lastSweep = now
	}

	e, ok := l.entries[principalID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[principalID] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Middleware must run after Authenticate.
func (l *PrincipalLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := IdentityFrom(r.Context()); ok && !l.Allow(id.Principal.ID) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, codeRateLimited, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port that RemoteAddr carries when RealIP found no forwarding header.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
