package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cassiomorais/invoicing/internal/infrastructure/observability"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog/log"
)

// RateLimit allows requestsPerMinute per client IP. Rejections are counted
// under name in metrics, which may be nil.
func RateLimit(name string, requestsPerMinute int, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if metrics != nil {
				metrics.HTTPRateLimited.WithLabelValues(name).Inc()
			}
			log.Warn().Str("limiter", name).Str("path", r.URL.Path).Msg("rate limit exceeded")

			w.Header().Set("Retry-After", strconv.Itoa(int(time.Minute.Seconds())))
			writeMiddlewareError(w, http.StatusTooManyRequests, "rate limit exceeded", "rate_limited")
		}),
	)
}
