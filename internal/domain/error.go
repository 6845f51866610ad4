package domain

import (
	"context"
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeInvalidArgument  ErrorCode = "INVALID_ARGUMENT"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeUnavailable      ErrorCode = "UNAVAILABLE"
	CodeUnauthenticated  ErrorCode = "UNAUTHENTICATED"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeInternal         ErrorCode = "INTERNAL"
	CodeCanceled         ErrorCode = "CANCELED"
	CodeDeadlineExceeded ErrorCode = "DEADLINE_EXCEEDED"
	CodeBadGateway       ErrorCode = "BAD_GATEWAY"
)

var (
	// ErrNotConnected reports that the target identity has no live connection.
	ErrNotConnected = errors.New("identity not connected")
	// ErrNoProvider reports that no provider matched the selection filter.
	ErrNoProvider = errors.New("no provider available")
	// ErrSendFailed reports a transport write failure after a command was allocated.
	ErrSendFailed = errors.New("send failed")
	// ErrTimeout reports that no reply arrived before the caller's deadline.
	ErrTimeout = errors.New("timed out waiting for reply")
	// ErrCancelled reports that the owning connection went away mid-flight.
	ErrCancelled = errors.New("connection lost")
	// ErrMalformedReply marks an inbound frame that could not be parsed.
	ErrMalformedReply = errors.New("malformed reply")
	// ErrUnknownReply marks a reply whose command id is not pending.
	ErrUnknownReply = errors.New("unknown or late reply")

	ErrInvalidRequest   = errors.New("invalid request")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrIdentityNotFound = errors.New("identity not found")
	ErrIdentityExists   = errors.New("identity already exists")
	ErrVersionRejected  = errors.New("provider version rejected")
	ErrTransportClosed  = errors.New("transport closed")
)

type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
	Meta    map[string]string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op == "" {
		if msg == "" {
			return string(e.Code)
		}
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func E(code ErrorCode, op, msg string, cause error) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Code:    code,
		Op:      op,
		Message: msg,
		Cause:   cause,
	}
}

func Wrap(code ErrorCode, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op != "" || op == "" {
			return existing
		}
		return &Error{
			Code:    existing.Code,
			Op:      op,
			Message: existing.Message,
			Cause:   existing.Cause,
			Meta:    existing.Meta,
		}
	}
	return E(code, op, "", err)
}

// CodeFrom classifies err into an ErrorCode.
func CodeFrom(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Code != "" {
		return domainErr.Code, true
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return CodeBadGateway, true
	}
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidArgument, true
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrNoProvider):
		return CodeUnavailable, true
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeDeadlineExceeded, true
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return CodeCanceled, true
	case errors.Is(err, ErrSendFailed):
		return CodeBadGateway, true
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated, true
	case errors.Is(err, ErrIdentityNotFound):
		return CodeNotFound, true
	case errors.Is(err, ErrVersionRejected):
		return CodePermissionDenied, true
	default:
		return "", false
	}
}
