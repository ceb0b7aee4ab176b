package errors

import (
	"errors"
	"fmt"
)

// Connection flow error kinds. These are the machine-readable identifiers
// surfaced to the UI and mapped to HTTP status codes by the API layer.
const (
	KindUnknownProvider     = "unknown_provider"
	KindRateLimited         = "rate_limited"
	KindInvalidState        = "invalid_state"
	KindTokenExchangeFailed = "token_exchange_failed"
	KindTokenCorrupted      = "token_corrupted"
	KindRefreshFailed       = "refresh_failed"
	KindNotConnected        = "not_connected"
)

// FlowError represents a standardized connection flow error.
type FlowError struct {
	Kind        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	// RetryAfterSeconds is set only for rate_limited errors and tells the
	// caller when the window rolls over.
	RetryAfterSeconds int `json:"retry_after,omitempty"`
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

// Common error constructors
func NewUnknownProvider(provider string) *FlowError {
	return &FlowError{
		Kind:        KindUnknownProvider,
		Description: fmt.Sprintf("provider %q is not registered", provider),
	}
}

func NewRateLimited(retryAfterSeconds int) *FlowError {
	return &FlowError{
		Kind:              KindRateLimited,
		Description:       "too many authorization attempts, retry later",
		RetryAfterSeconds: retryAfterSeconds,
	}
}

func NewInvalidState(description string) *FlowError {
	return &FlowError{
		Kind:        KindInvalidState,
		Description: description,
	}
}

func NewTokenExchangeFailed(description string) *FlowError {
	return &FlowError{
		Kind:        KindTokenExchangeFailed,
		Description: description,
	}
}

func NewTokenCorrupted(description string) *FlowError {
	return &FlowError{
		Kind:        KindTokenCorrupted,
		Description: description,
	}
}

func NewRefreshFailed(description string) *FlowError {
	return &FlowError{
		Kind:        KindRefreshFailed,
		Description: description,
	}
}

func NewNotConnected(provider string) *FlowError {
	return &FlowError{
		Kind:        KindNotConnected,
		Description: fmt.Sprintf("no active connection for provider %q", provider),
	}
}

// KindOf extracts the flow error kind from err, unwrapping as needed.
// Returns an empty string when err carries no FlowError.
func KindOf(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err carries a FlowError of the given kind.
func IsKind(err error, kind string) bool {
	return KindOf(err) == kind
}
