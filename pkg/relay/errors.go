package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/modelrelay/modelrelay/pkg/adapter"
	"github.com/modelrelay/modelrelay/pkg/httpclient"
	"github.com/modelrelay/modelrelay/pkg/openai"
	"github.com/modelrelay/modelrelay/pkg/router"
)

// Kind classifies request failures.
type Kind string

const (
	KindInvalidRequest Kind = "invalid_request"
	KindAuthentication Kind = "authentication"
	KindPermission     Kind = "permission"
	KindNotFound       Kind = "not_found"
	KindRateLimit      Kind = "rate_limit"
	KindAPIError       Kind = "api_error"
	KindOverloaded     Kind = "overloaded"
	KindTimeout        Kind = "timeout"
)

// Error is a request failure surfaced to the client in Anthropic format.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Status returns the HTTP status for the kind.
func (e *Error) Status() int {
	switch e.Kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindPermission:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindAPIError:
		return http.StatusBadGateway
	case KindOverloaded:
		return 529
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// WireType is the Anthropic-format error type string.
func (e *Error) WireType() string {
	switch e.Kind {
	case KindAPIError:
		return "api_error"
	default:
		return string(e.Kind) + "_error"
	}
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Classify maps any failure to its client-facing Error.
func Classify(err error) *Error {
	var relayErr *Error
	if errors.As(err, &relayErr) {
		return relayErr
	}

	var unknownProvider *router.UnknownProviderError
	if errors.As(err, &unknownProvider) {
		return newError(KindInvalidRequest, "%s", unknownProvider.Error())
	}

	if errors.Is(err, adapter.ErrInvalidRequest) {
		return newError(KindInvalidRequest, "%s", err.Error())
	}

	if httpclient.IsReadTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, "%s", err.Error())
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(KindTimeout, "%s", err.Error())
	}

	var statusErr *openai.StatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.StatusCode, statusErr.APIError.Message)
	}

	var retryErr *httpclient.RetryableError
	if errors.As(err, &retryErr) && retryErr.StatusCode != 0 {
		return classifyStatus(retryErr.StatusCode, retryErr.Message)
	}

	return newError(KindAPIError, "%s", err.Error())
}

func classifyStatus(status int, message string) *Error {
	if message == "" {
		message = fmt.Sprintf("downstream returned HTTP %d", status)
	}
	switch {
	case status == http.StatusUnauthorized:
		return newError(KindAuthentication, "%s", message)
	case status == http.StatusForbidden:
		return newError(KindPermission, "%s", message)
	case status == http.StatusNotFound:
		return newError(KindNotFound, "%s", message)
	case status == http.StatusTooManyRequests:
		return newError(KindRateLimit, "%s", message)
	case status == 529 || status == http.StatusServiceUnavailable:
		return newError(KindOverloaded, "%s", message)
	case status >= 500:
		return newError(KindAPIError, "%s", message)
	case status >= 400:
		return newError(KindInvalidRequest, "%s", message)
	default:
		return newError(KindAPIError, "%s", message)
	}
}

// errorBody is the Anthropic-format error envelope.
type errorBody struct {
	Type  string      `json:"type"`
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// writeError renders an Error as a JSON response.
func writeError(w http.ResponseWriter, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status())
	_ = json.NewEncoder(w).Encode(errorBody{
		Type: "error",
		Error: errorDetail{
			Type:    e.WireType(),
			Message: e.Message,
		},
	})
}
