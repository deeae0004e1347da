package proxy

import (
	"errors"
	"fmt"

	"github.com/roach88/stablecall/internal/frame"
	"github.com/roach88/stablecall/internal/ir"
	"github.com/roach88/stablecall/internal/module"
)

var (
	// ErrUnauthorized is the cause of every UNAUTHORIZED error.
	ErrUnauthorized = errors.New("caller is not authorized")

	// ErrInvalidModule is the cause of every INVALID_MODULE error.
	ErrInvalidModule = errors.New("module reference does not resolve to deployed code")

	// ErrProxyNotFound is the cause of every PROXY_NOT_FOUND error.
	ErrProxyNotFound = errors.New("no proxy at address")
)

// Error is a failed proxy operation.
//
// Every error returned by Proxy methods is an *Error, except context and
// storage failures that happen outside a call. Err holds the cause; for
// FORWARDING_FAILURE it is the module's own error, unchanged.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Proxy is the address the call was submitted to.
	Proxy ir.Address

	// Entry is the entry point or admin operation that failed.
	Entry string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes proxy errors.
type ErrorCode string

const (
	// ErrCodeUnauthorized indicates the policy rejected the caller.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// ErrCodeAlreadyInitialized indicates a second initialize.
	ErrCodeAlreadyInitialized ErrorCode = "ALREADY_INITIALIZED"

	// ErrCodeInvalidModule indicates an empty or undeployed module reference.
	ErrCodeInvalidModule ErrorCode = "INVALID_MODULE"

	// ErrCodeForwardingFailure wraps an error raised by the active module.
	ErrCodeForwardingFailure ErrorCode = "FORWARDING_FAILURE"

	// ErrCodeIncompatibleLayout indicates an upgrade rejected by the layout check.
	ErrCodeIncompatibleLayout ErrorCode = "INCOMPATIBLE_LAYOUT"

	// ErrCodeInvalidArgument indicates malformed admin operation arguments.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// ErrCodeProxyNotFound indicates no proxy is deployed at the address.
	ErrCodeProxyNotFound ErrorCode = "PROXY_NOT_FOUND"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("%s: %s %s: %v", e.Code, e.Proxy, e.Entry, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Proxy, e.Err)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of a proxy error, or "" if err is not one.
func CodeOf(err error) ErrorCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsUnauthorized reports whether err is an UNAUTHORIZED proxy error.
func IsUnauthorized(err error) bool {
	return CodeOf(err) == ErrCodeUnauthorized
}

// IsAlreadyInitialized reports whether err is an ALREADY_INITIALIZED proxy error.
func IsAlreadyInitialized(err error) bool {
	return CodeOf(err) == ErrCodeAlreadyInitialized
}

// IsInvalidModule reports whether err is an INVALID_MODULE proxy error.
func IsInvalidModule(err error) bool {
	return CodeOf(err) == ErrCodeInvalidModule
}

// IsForwardingFailure reports whether err is a FORWARDING_FAILURE proxy error.
func IsForwardingFailure(err error) bool {
	return CodeOf(err) == ErrCodeForwardingFailure
}

// IsIncompatibleLayout reports whether err is an INCOMPATIBLE_LAYOUT proxy error.
func IsIncompatibleLayout(err error) bool {
	return CodeOf(err) == ErrCodeIncompatibleLayout
}

func (p *Proxy) newError(code ErrorCode, entry string, err error) *Error {
	return &Error{Code: code, Proxy: p.address, Entry: entry, Err: err}
}

// moduleFailure classifies an error raised while the active module ran.
// The guard violation keeps its own code; anything else is forwarded.
func (p *Proxy) moduleFailure(entry string, err error) *Error {
	if errors.Is(err, frame.ErrAlreadyInitialized) {
		return p.newError(ErrCodeAlreadyInitialized, entry, err)
	}
	return p.newError(ErrCodeForwardingFailure, entry, err)
}

// resolveFailure classifies an error from resolving a module reference.
func (p *Proxy) resolveFailure(entry string, err error) error {
	if errors.Is(err, module.ErrInvalidSpec) || isNotFound(err) {
		return p.newError(ErrCodeInvalidModule, entry, fmt.Errorf("%w: %w", ErrInvalidModule, err))
	}
	return err
}
