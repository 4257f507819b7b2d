package api

import (
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/Warden-Labs/warden/pkg/auth"
)

// ActorLimiter provides per-actor token buckets. Actors are identified by
// tenant/principal when authenticated, remote address otherwise.
type ActorLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewActorLimiter creates a limiter allowing rps requests per second with
// the given burst per actor.
func NewActorLimiter(rps float64, burst int) *ActorLimiter {
	return &ActorLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (l *ActorLimiter) limiterFor(actorID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[actorID]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[actorID] = lim
	}
	return lim
}

// Allow reports whether the actor may proceed.
func (l *ActorLimiter) Allow(actorID string) bool {
	return l.limiterFor(actorID).Allow()
}

// RateLimitMiddleware enforces per-actor rate limiting at the HTTP layer.
// On rate limit exceeded, it returns 429 with a Retry-After header.
func RateLimitMiddleware(limiter *ActorLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// fail open if no limiter configured (dev mode)
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			actorID := r.RemoteAddr
			if principal, err := auth.GetPrincipal(r.Context()); err == nil {
				actorID = fmt.Sprintf("%s/%s", principal.GetTenantID(), principal.GetID())
			}

			if !limiter.Allow(actorID) {
				WriteTooManyRequests(w, 1)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
