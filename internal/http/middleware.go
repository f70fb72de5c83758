package http

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"PartsSettle/internal/logging"
	"PartsSettle/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// requestLogger stores a request-scoped logger in the context and logs one line per request.
// An incoming span context, when present, adds its trace id to every line.
func requestLogger(base *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			log := base.With(zap.String("request_id", middleware.GetReqID(r.Context())))
			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
				log = log.With(zap.String("trace_id", sc.TraceID().String()))
			}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(logging.WithContext(r.Context(), log)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			elapsed := time.Since(start)
			m.HTTPRequest(r.Method, route, strconv.Itoa(status), elapsed)
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", elapsed),
				zap.String("remote", r.RemoteAddr),
			)
		})
	}
}

type ipLimiter struct {
	limiter *rate.Limiter
	last    time.Time
}

// ipRateLimiter keeps one token bucket per client address. Idle buckets are swept on access.
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rps      rate.Limit
	burst    int
	idle     time.Duration
}

func newIPRateLimiter(rps float64, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		limiters: make(map[string]*ipLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		idle:     10 * time.Minute,
	}
}

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if len(l.limiters) > 1024 {
		for k, v := range l.limiters {
			if now.Sub(v.last) > l.idle {
				delete(l.limiters, k)
			}
		}
	}
	lim, ok := l.limiters[ip]
	if !ok {
		lim = &ipLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[ip] = lim
	}
	lim.last = now
	return lim.limiter.Allow()
}

func (l *ipRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(remoteIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func remoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
