package llm

import (
	"strings"
)

// Provider error reasons, inferred from error content. Providers rarely
// expose structured codes through OpenAI-compatible gateways, so matching
// on the message is the practical route.
const (
	ReasonTimeout          = "timeout"
	ReasonRateLimit        = "rate_limit"
	ReasonAuth             = "auth"
	ReasonBilling          = "billing"
	ReasonModelUnavailable = "model_unavailable"
	ReasonServerError      = "server_error"
	ReasonInvalidRequest   = "invalid_request"
	ReasonUnknown          = "unknown"
)

// ClassifyError determines the provider error reason from the error content.
func ClassifyError(err error) string {
	if err == nil {
		return ReasonUnknown
	}
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "deadline exceeded"),
		strings.Contains(errStr, "context deadline"):
		return ReasonTimeout

	case strings.Contains(errStr, "rate limit"),
		strings.Contains(errStr, "rate_limit"),
		strings.Contains(errStr, "too many requests"),
		strings.Contains(errStr, "429"):
		return ReasonRateLimit

	case strings.Contains(errStr, "unauthorized"),
		strings.Contains(errStr, "invalid api key"),
		strings.Contains(errStr, "authentication"),
		strings.Contains(errStr, "401"),
		strings.Contains(errStr, "403"):
		return ReasonAuth

	case strings.Contains(errStr, "billing"),
		strings.Contains(errStr, "payment"),
		strings.Contains(errStr, "quota"),
		strings.Contains(errStr, "402"):
		return ReasonBilling

	case strings.Contains(errStr, "model not found"),
		strings.Contains(errStr, "does not exist"),
		strings.Contains(errStr, "unavailable"),
		strings.Contains(errStr, "sunset"),
		strings.Contains(errStr, "deprecated"):
		return ReasonModelUnavailable

	case strings.Contains(errStr, "internal server"),
		strings.Contains(errStr, "server error"),
		strings.Contains(errStr, "500"),
		strings.Contains(errStr, "502"),
		strings.Contains(errStr, "503"),
		strings.Contains(errStr, "504"):
		return ReasonServerError

	case strings.Contains(errStr, "invalid"),
		strings.Contains(errStr, "bad request"),
		strings.Contains(errStr, "400"):
		return ReasonInvalidRequest
	}
	return ReasonUnknown
}

// IsRetryable reports whether the call may succeed on retry against the
// same model.
func IsRetryable(err error) bool {
	switch ClassifyError(err) {
	case ReasonTimeout, ReasonRateLimit, ReasonServerError:
		return true
	default:
		return false
	}
}

// IsSunset reports whether the error is an HTTP 404 describing a retired
// model endpoint. Sunset errors trigger model rotation, not retries.
func IsSunset(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	if !strings.Contains(errStr, "404") && !strings.Contains(errStr, "not found") {
		return false
	}
	return strings.Contains(errStr, "sunset") ||
		strings.Contains(errStr, "deprecated") ||
		strings.Contains(errStr, "retired") ||
		strings.Contains(errStr, "no longer")
}
