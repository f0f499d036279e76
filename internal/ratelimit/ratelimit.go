package ratelimit

import (
	ratelib "golang.org/x/time/rate"

	"github.com/fabian4/peaudiosys-gateway/internal/model"
)

// Limiter holds one token bucket per rate-limited service. The set of
// buckets is fixed at construction, so lookups need no locking; each
// rate.Limiter is itself safe for concurrent use.
type Limiter struct {
	limiters map[string]*ratelib.Limiter
}

// New builds buckets for every service that declares a RateLimit.
func New(services map[string]model.Service) *Limiter {
	l := &Limiter{limiters: make(map[string]*ratelib.Limiter)}
	for name, s := range services {
		if s.RateLimit == nil {
			continue
		}
		l.limiters[name] = ratelib.NewLimiter(ratelib.Limit(s.RateLimit.RequestsPerSecond), s.RateLimit.Burst)
	}
	return l
}

// Allow reports whether one more command may be sent to service now.
// Services without a configured limit are always allowed.
func (l *Limiter) Allow(service string) bool {
	if l == nil {
		return true
	}
	lim, ok := l.limiters[service]
	if !ok {
		return true
	}
	return lim.Allow()
}

// Limited reports whether service has a bucket.
func (l *Limiter) Limited(service string) bool {
	if l == nil {
		return false
	}
	_, ok := l.limiters[service]
	return ok
}
