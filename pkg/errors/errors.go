// Package errors defines the error taxonomy shared by every component:
// sentinel kinds that describe WHY an operation failed, not which Go
// type raised it.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel kinds. Wrap with fmt.Errorf("...: %w", ErrX) for context;
// callers compare with errors.Is.
var (
	// ErrConfig marks a missing master key, webhook URL, or LLM config.
	// Fatal for the affected job; operator-visible.
	ErrConfig = errors.New("config: missing or invalid")

	// ErrCryptoTamper means a sealed secret failed authentication.
	ErrCryptoTamper = errors.New("crypto: ciphertext failed authentication")

	// ErrCryptoNotReady means SecretBox has no configured master key.
	ErrCryptoNotReady = errors.New("crypto: master key not configured")

	// Provider (WhatsApp gateway) failures.
	ErrAuth       = errors.New("provider: unauthorized")
	ErrPermission = errors.New("provider: forbidden")
	ErrEndpoint   = errors.New("provider: endpoint not found")

	// ErrLLM marks a failed model call (chat surfaces it; classify degrades instead).
	ErrLLM = errors.New("llm: call failed")

	// ErrRoutingMiss is an inbound message whose sender matches no integration.
	ErrRoutingMiss = errors.New("ingress: no integration for sender")

	// ErrDup is a collision on the at-most-once inbound message key.
	ErrDup = errors.New("store: duplicate inbound message")

	// ErrInvariant is any violation of the §3 data-model invariants.
	ErrInvariant = errors.New("store: invariant violation")

	// ErrNotFound is a generic missing-record condition.
	ErrNotFound = errors.New("store: not found")

	// ErrSend marks any WhatsAppGateway send failure not otherwise classified.
	ErrSend = errors.New("provider: send failed")
)

// HTTPError is ErrHTTP(code): any non-2xx provider response not
// otherwise classified as auth/permission/endpoint.
type HTTPError struct {
	Code int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider: unexpected status %d", e.Code)
}

// GenericError is the contract the REST layer understands: any error
// that knows its own category and status code renders as a structured
// body instead of a bare 500.
type GenericError interface {
	error
	ErrCode() string
	StatusCode() int
}

// ValidationError is a caller-input problem surfaced to an operator endpoint.
type ValidationError string

func (e ValidationError) Error() string     { return string(e) }
func (e ValidationError) ErrCode() string   { return "VALIDATION_ERROR" }
func (e ValidationError) StatusCode() int   { return http.StatusBadRequest }

// NotFoundError is a missing-resource problem surfaced to an operator endpoint.
type NotFoundError string

func (e NotFoundError) Error() string   { return string(e) }
func (e NotFoundError) ErrCode() string { return "NOT_FOUND" }
func (e NotFoundError) StatusCode() int { return http.StatusNotFound }

// GatewayError wraps a taxonomy kind with an operator-facing category
// and status, without ever including provider response bodies that
// might carry secrets.
type GatewayError struct {
	Kind    error
	Message string
}

func (e *GatewayError) Error() string { return e.Message }

func (e *GatewayError) ErrCode() string {
	switch {
	case errors.Is(e.Kind, ErrAuth):
		return "PROVIDER_AUTH"
	case errors.Is(e.Kind, ErrPermission):
		return "PROVIDER_PERMISSION"
	case errors.Is(e.Kind, ErrEndpoint):
		return "PROVIDER_ENDPOINT"
	case errors.Is(e.Kind, ErrLLM):
		return "LLM_FAILED"
	default:
		return "GATEWAY_ERROR"
	}
}

func (e *GatewayError) StatusCode() int {
	switch {
	case errors.Is(e.Kind, ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(e.Kind, ErrPermission):
		return http.StatusForbidden
	case errors.Is(e.Kind, ErrEndpoint):
		return http.StatusNotFound
	default:
		var h *HTTPError
		if errors.As(e.Kind, &h) {
			return h.Code
		}
		return http.StatusBadGateway
	}
}

func (e *GatewayError) Unwrap() error { return e.Kind }

// Is lets errors.Is match a GatewayError against its wrapped kind.
func (e *GatewayError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}
