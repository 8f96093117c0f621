package core

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// ErrorType classifies a gateway error.
type ErrorType string

const (
	// ErrorTypeProvider indicates an upstream failure (5xx or transport error)
	ErrorTypeProvider ErrorType = "provider_error"
	// ErrorTypeRateLimit indicates the upstream throttled the call (429)
	ErrorTypeRateLimit ErrorType = "rate_limit_error"
	// ErrorTypeInvalidRequest indicates a client error (4xx)
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAuthentication indicates rejected credentials (401/403)
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeNotFound indicates a missing resource (404)
	ErrorTypeNotFound ErrorType = "not_found_error"
	// ErrorTypeInsufficientCredits indicates the upstream account cannot pay for the call (402)
	ErrorTypeInsufficientCredits ErrorType = "insufficient_credits_error"
)

// GatewayError is the error type returned by providers and rendered by the server.
type GatewayError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	Provider   string    `json:"provider,omitempty"`
	// Upstream is the model host behind the intermediary, when it reported one.
	Upstream string `json:"upstream,omitempty"`
	Err      error  `json:"-"`
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the status code to report to clients.
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeInsufficientCredits:
		return http.StatusPaymentRequired
	case ErrorTypeProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to the OpenAI-style error body.
func (e *GatewayError) ToJSON() map[string]any {
	return map[string]any{
		"error": map[string]any{
			"type":    e.Type,
			"message": e.Message,
		},
	}
}

// NewProviderError creates an upstream failure error.
func NewProviderError(provider string, statusCode int, message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeProvider,
		Message:    message,
		StatusCode: statusCode,
		Provider:   provider,
		Err:        err,
	}
}

// NewRateLimitError creates a rate limit error (429)
func NewRateLimitError(provider string, message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeRateLimit,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
		Provider:   provider,
	}
}

// NewInvalidRequestError creates an invalid request error (400)
func NewInvalidRequestError(message string, err error) *GatewayError {
	return NewInvalidRequestErrorWithStatus(http.StatusBadRequest, message, err)
}

// NewInvalidRequestErrorWithStatus creates an invalid request error with a specific status code
func NewInvalidRequestErrorWithStatus(statusCode int, message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// NewAuthenticationError creates an authentication error (401)
func NewAuthenticationError(provider string, message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Provider:   provider,
	}
}

// NewNotFoundError creates a not found error (404)
func NewNotFoundError(message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// ParseProviderError maps an upstream error response to a GatewayError.
// OpenRouter bodies look like {"error":{"code":402,"message":"...","metadata":{"provider_name":"..."}}};
// anything that does not parse is reported verbatim.
func ParseProviderError(provider string, statusCode int, body []byte, originalErr error) *GatewayError {
	message := string(body)
	if m := gjson.GetBytes(body, "error.message"); m.Type == gjson.String && m.Str != "" {
		message = m.Str
	}
	upstream := gjson.GetBytes(body, "error.metadata.provider_name").String()

	var gwErr *GatewayError
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		gwErr = NewAuthenticationError(provider, message)
	case statusCode == http.StatusPaymentRequired:
		gwErr = &GatewayError{
			Type:       ErrorTypeInsufficientCredits,
			Message:    message,
			StatusCode: http.StatusPaymentRequired,
			Provider:   provider,
		}
	case statusCode == http.StatusTooManyRequests:
		gwErr = NewRateLimitError(provider, message)
	case statusCode >= 400 && statusCode < 500:
		gwErr = NewInvalidRequestErrorWithStatus(statusCode, message, originalErr)
		gwErr.Provider = provider
	default:
		gwErr = NewProviderError(provider, http.StatusBadGateway, message, originalErr)
	}
	gwErr.Upstream = upstream
	return gwErr
}
