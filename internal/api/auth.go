package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"time"

	"fleetsync/internal/config"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	apiKeyHeader     = "X-Api-Key"
	requestIDHeader  = "X-Request-Id"
	clientKeyUnknown = "unknown"
)

// HTTPAuth checks the optional API key and applies per-client rate limits.
type HTTPAuth struct {
	apiKey  string
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.ServerConfig) *HTTPAuth {
	return &HTTPAuth{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		limiter: newRateLimiter(cfg.RateLimit),
	}
}

func (a *HTTPAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.apiKey != "" {
			got := strings.TrimSpace(r.Header.Get(apiKeyHeader))
			if got == "" {
				writeError(w, http.StatusUnauthorized, "missing api key")
				return
			}
			if subtle.ConstantTimeCompare([]byte(a.apiKey), []byte(got)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}
		}

		if a.limiter.enabled() && !a.limiter.getLimiter(clientKey(r)).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

// loggingMiddleware tags every request with an id and logs its outcome.
func loggingMiddleware(logger *zerolog.Logger) func(http.Handler) http.Handler {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "http").Logger()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, requestID)

			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			base.Info().
				Str("request_id", requestID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", recorder.status).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
