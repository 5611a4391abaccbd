package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies why a vendor call did not produce a result.
type Kind int

const (
	KindUnconfigured Kind = iota + 1
	KindTimeout
	KindRemoteRejected
	KindMalformedResponse
	KindSafetyBlocked
)

func (k Kind) String() string {
	switch k {
	case KindUnconfigured:
		return "unconfigured"
	case KindTimeout:
		return "timeout"
	case KindRemoteRejected:
		return "remote_rejected"
	case KindMalformedResponse:
		return "malformed_response"
	case KindSafetyBlocked:
		return "safety_blocked"
	default:
		return "unknown"
	}
}

// Kind sentinels, usable with errors.Is against any *Error.
var (
	ErrUnconfigured      = errors.New("provider unconfigured")
	ErrTimeout           = errors.New("provider timeout")
	ErrRemoteRejected    = errors.New("provider rejected request")
	ErrMalformedResponse = errors.New("provider response malformed")
	ErrSafetyBlocked     = errors.New("provider safety filter triggered")
)

func (k Kind) sentinel() error {
	switch k {
	case KindUnconfigured:
		return ErrUnconfigured
	case KindTimeout:
		return ErrTimeout
	case KindRemoteRejected:
		return ErrRemoteRejected
	case KindMalformedResponse:
		return ErrMalformedResponse
	case KindSafetyBlocked:
		return ErrSafetyBlocked
	}
	return nil
}

// Error is the failure returned by every adapter.
type Error struct {
	Vendor Vendor
	Kind   Kind
	// Status is the HTTP status of the vendor response, 0 when none was received.
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Vendor, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func newError(vendor Vendor, kind Kind, status int, err error) *Error {
	return &Error{Vendor: vendor, Kind: kind, Status: status, Err: err}
}

func unconfigured(vendor Vendor) *Error {
	return newError(vendor, KindUnconfigured, 0, errors.New("api key not configured"))
}

func malformed(vendor Vendor, format string, args ...any) *Error {
	return newError(vendor, KindMalformedResponse, 0, fmt.Errorf(format, args...))
}

// KindOf extracts the kind of a provider error, 0 for foreign errors.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

// classify turns a transport or SDK failure into an *Error. status is the HTTP
// status observed on the wire, if any.
func classify(ctx context.Context, vendor Vendor, status int, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newError(vendor, KindTimeout, status, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(vendor, KindTimeout, status, err)
	}
	return newError(vendor, KindRemoteRejected, status, err)
}
