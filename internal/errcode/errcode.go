// Package errcode defines the standardized error taxonomy surfaced to
// gateway clients in place of raw upstream failure text.
package errcode

import (
	"net/http"
	"strings"
)

type Code string

const (
	// Authentication & authorization
	AuthenticationFailed Code = "authentication_failed"
	APIKeyMissing        Code = "api_key_missing"
	APIKeyInvalid        Code = "api_key_invalid"
	Unauthorized         Code = "unauthorized"

	// Rate limiting & quotas
	RateLimited   Code = "rate_limited"
	QuotaExceeded Code = "quota_exceeded"

	// Request issues
	InvalidRequest    Code = "invalid_request"
	InvalidModel      Code = "invalid_model"
	InvalidParameters Code = "invalid_parameters"

	// Model / service issues
	ModelOverloaded    Code = "model_overloaded"
	ModelUnavailable   Code = "model_unavailable"
	ServiceUnavailable Code = "service_unavailable"

	// Response issues
	Timeout         Code = "timeout"
	ContentFiltered Code = "content_filtered"
	// MaxTokensReached is informational: a truncated response is still a
	// successful response.
	MaxTokensReached Code = "max_tokens_reached"

	// Network issues
	NetworkError    Code = "network_error"
	ConnectionError Code = "connection_error"

	// Generic
	UnknownError  Code = "unknown_error"
	InternalError Code = "internal_error"
)

// FromStatus maps an upstream HTTP status code to a Code. An explicit status
// is always preferred over keyword matching on the failure text.
func FromStatus(status int) Code {
	switch status {
	case http.StatusUnauthorized:
		return AuthenticationFailed
	case http.StatusForbidden:
		return Unauthorized
	case http.StatusTooManyRequests:
		return RateLimited
	case http.StatusBadRequest:
		return InvalidRequest
	case http.StatusNotFound:
		return ModelUnavailable
	case http.StatusServiceUnavailable:
		return ModelOverloaded
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		return ServiceUnavailable
	case http.StatusInternalServerError:
		return InternalError
	default:
		return UnknownError
	}
}

// Classify categorizes a failure by its message content. First match wins;
// the order below is the documented precedence.
func Classify(err error) Code {
	if err == nil {
		return UnknownError
	}
	msg := strings.ToLower(err.Error())

	if containsAny(msg, "api key", "authentication", "401", "unauthorized") {
		return AuthenticationFailed
	}
	if containsAny(msg, "rate limit", "429", "too many requests") {
		return RateLimited
	}
	if containsAny(msg, "quota", "exceeded") {
		return QuotaExceeded
	}
	if containsAny(msg, "overloaded", "503") {
		return ModelOverloaded
	}
	if containsAny(msg, "unavailable", "502", "504") {
		return ServiceUnavailable
	}
	if containsAny(msg, "timeout", "timed out", "deadline exceeded") {
		return Timeout
	}
	if containsAny(msg, "safety", "blocked", "filter", "content policy") {
		return ContentFiltered
	}
	if containsAny(msg, "connection", "network", "dns", "refused", "reset") {
		return NetworkError
	}
	return UnknownError
}

func containsAny(msg string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
