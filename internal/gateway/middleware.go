package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/juanibianchi/coro/internal/ratelimit"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// Admission headers consumed from inbound requests.
const (
	headerSession = "X-Coro-Session"
	headerDevice  = "X-Coro-Device"
)

// GetRequestID returns the request ID attached by the admission middleware.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Admission gates every request before it may consume upstream resources:
// master-token bypass first, then tier resolution (premium session >
// device > anonymous) and the rate-limit check. A nil limiter fails open.
func Admission(limiter *ratelimit.Limiter, masterToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := uuid.New().String()
			ctx := context.WithValue(r.Context(), requestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)
			r = r.WithContext(ctx)

			// Internal automation with the master API token bypasses limits.
			if masterToken != "" && r.Header.Get("Authorization") == "Bearer "+masterToken {
				next.ServeHTTP(w, r)
				return
			}

			sessionToken := r.Header.Get(headerSession)
			deviceID := r.Header.Get(headerDevice)

			tier := "anonymous"
			if sessionToken != "" && limiter.IsPremium(ctx, sessionToken) {
				tier = "premium"
			} else if deviceID != "" {
				tier = "authenticated"
			}

			identity := resolveIdentity(sessionToken, deviceID, r.RemoteAddr)

			if err := limiter.Check(ctx, identity, tier); err != nil {
				var lee *ratelimit.LimitExceededError
				if errors.As(err, &lee) {
					log.Info().
						Str("tier", tier).
						Str("identity", identity).
						Int("retry_after", lee.RetryAfter).
						Msg("request rejected by rate limiter")
					w.Header().Set("Retry-After", strconv.Itoa(lee.RetryAfter))
					writeError(w, http.StatusTooManyRequests, "Too many requests. Please slow down.", "rate_limited")
					return
				}
				// A broken counter store must not take the gateway down.
				log.Error().Err(err).Msg("rate limit check failed, admitting request")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// resolveIdentity picks the caller identity with the documented precedence:
// session token > device identifier > network address > "anonymous".
func resolveIdentity(sessionToken, deviceID, remoteAddr string) string {
	if sessionToken != "" {
		return sessionToken
	}
	if deviceID != "" {
		return deviceID
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil && host != "" {
		return host
	}
	if remoteAddr != "" {
		return remoteAddr
	}
	return "anonymous"
}
