// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-net.

package api

import (
	"errors"
	"fmt"
	"syscall"
)

// Common errors used across the library.
var (
	ErrStreamEnded       = fmt.Errorf("stream has ended")
	ErrConcurrentRead    = fmt.Errorf("another blocking read is already pending")
	ErrInvalidArgument   = fmt.Errorf("invalid argument")
	ErrInvalidState      = fmt.Errorf("operation not legal in current socket state")
	ErrResourceExhausted = fmt.Errorf("resource exhausted")
	ErrOperationTimeout  = fmt.Errorf("operation timeout")
	ErrNotSupported      = fmt.Errorf("operation not supported")
	ErrAlreadyListening  = fmt.Errorf("listener is already listening")
	ErrNotConnected      = fmt.Errorf("connection is not open")
	ErrTerminated        = fmt.Errorf("socket terminated")
	ErrPoolClosed        = fmt.Errorf("reactor pool is closed")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeResourceExhausted
	ErrCodeTimeout
	ErrCodeNotSupported
	ErrCodeSocket
	ErrCodeResolve
	ErrCodeState
	ErrCodeCallbackPanic
	ErrCodeInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeInvalidArgument:
		return "invalid-argument"
	case ErrCodeResourceExhausted:
		return "resource-exhausted"
	case ErrCodeTimeout:
		return "timeout"
	case ErrCodeNotSupported:
		return "not-supported"
	case ErrCodeSocket:
		return "socket"
	case ErrCodeResolve:
		return "resolve"
	case ErrCodeState:
		return "state"
	case ErrCodeCallbackPanic:
		return "callback-panic"
	default:
		return "internal"
	}
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// SocketError wraps an OS-level socket failure. The errno, when there is one,
// is kept in Context["errno"].
func SocketError(op string, err error) *Error {
	e := NewError(ErrCodeSocket, op).WithCause(err)
	var errno syscall.Errno
	if errors.As(err, &errno) {
		e.WithContext("errno", int(errno))
	}
	return e
}

// CodeOf returns the ErrorCode carried by err, or ErrCodeInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}
