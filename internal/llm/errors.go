package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType categorizes provider errors for logs and metrics.
type ErrorType string

const (
	ErrorTypeUnknown         ErrorType = "unknown"
	ErrorTypeContextOverflow ErrorType = "context_overflow"
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeOverloaded      ErrorType = "overloaded"
	ErrorTypeAuth            ErrorType = "auth"
	ErrorTypeBilling         ErrorType = "billing"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeFormat          ErrorType = "format"
)

// APIError is a non-2xx response from a provider
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}

// ErrNoProvider is returned when a model's provider client is not configured
var ErrNoProvider = errors.New("llm: provider not configured")

// ClassifyError determines the error type of a provider error.
// Status codes win over message patterns.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if t := classifyStatus(apiErr.StatusCode); t != ErrorTypeUnknown {
			return t
		}
		if t := ClassifyMessage(apiErr.Message); t != ErrorTypeUnknown {
			return t
		}
	}
	return ClassifyMessage(err.Error())
}

func classifyStatus(code int) ErrorType {
	switch code {
	case http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrorTypeAuth
	case http.StatusPaymentRequired:
		return ErrorTypeBilling
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrorTypeTimeout
	case http.StatusServiceUnavailable, 529:
		return ErrorTypeOverloaded
	case http.StatusRequestEntityTooLarge:
		return ErrorTypeContextOverflow
	default:
		return ErrorTypeUnknown
	}
}

// ClassifyMessage determines the error type from an error message.
func ClassifyMessage(msg string) ErrorType {
	if msg == "" {
		return ErrorTypeUnknown
	}
	// Order matters: context overflow before format (both often arrive as 400)
	switch {
	case IsContextOverflowMessage(msg):
		return ErrorTypeContextOverflow
	case IsRateLimitMessage(msg):
		return ErrorTypeRateLimit
	case IsOverloadedMessage(msg):
		return ErrorTypeOverloaded
	case IsBillingMessage(msg):
		return ErrorTypeBilling
	case IsAuthMessage(msg):
		return ErrorTypeAuth
	case IsTimeoutMessage(msg):
		return ErrorTypeTimeout
	case IsFormatMessage(msg):
		return ErrorTypeFormat
	default:
		return ErrorTypeUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// IsContextOverflowMessage checks if a message indicates context overflow.
func IsContextOverflowMessage(msg string) bool {
	lower := strings.ToLower(msg)
	if containsAny(lower,
		"context_length_exceeded",
		"context length exceeded",
		"maximum context length",
		"prompt is too long",
		"request_too_large",
		"exceeds model context window",
		"input token count",
	) {
		return true
	}
	return strings.Contains(lower, "413") && strings.Contains(lower, "too large")
}

// IsRateLimitMessage checks if a message indicates rate limiting.
func IsRateLimitMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return containsAny(lower,
		"429",
		"rate_limit",
		"rate limit",
		"too many requests",
		"exceeded your current quota",
		"quota exceeded",
		"resource_exhausted",
		"resource has been exhausted",
		"requests per minute",
	)
}

// IsOverloadedMessage checks if a message indicates the service is overloaded.
func IsOverloadedMessage(msg string) bool {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "503") && containsAny(lower, "service", "unavailable") {
		return true
	}
	return containsAny(lower,
		"overloaded",
		"server is busy",
		"temporarily unavailable",
		"model is currently experiencing high demand",
	)
}

// IsAuthMessage checks if a message indicates authentication failure.
func IsAuthMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return containsAny(lower,
		"401",
		"403",
		"invalid api key",
		"invalid_api_key",
		"incorrect api key",
		"api key not valid",
		"unauthorized",
		"permission_denied",
		"authentication",
	)
}

// IsBillingMessage checks if a message indicates billing/payment issues.
func IsBillingMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return containsAny(lower,
		"402",
		"payment required",
		"insufficient credits",
		"insufficient balance",
		"credit balance",
		"billing",
		"insufficient_quota",
	)
}

// IsTimeoutMessage checks if a message indicates a timeout.
func IsTimeoutMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return containsAny(lower,
		"408",
		"504",
		"timeout",
		"timed out",
		"deadline exceeded",
		"connection reset",
	)
}

// IsFormatMessage checks if a message indicates an invalid request.
func IsFormatMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return containsAny(lower,
		"invalid_request_error",
		"invalid_argument",
		"roles must alternate",
		"malformed",
		"schema validation",
		"unsupported mime type",
	)
}
