// errors.go: structured error handling for corelock operations.
//
// Error kinds follow go-errors for rich context and standardized
// codes rather than bare fmt.Errorf strings.
//
// Copyright (c) 2026 Synclib Authors
// SPDX-License-Identifier: MIT
package corelock

import (
	goerrors "errors"
	"fmt"

	"github.com/agilira/go-errors"
)

// Error codes for corelock operations.
const (
	ErrCodeInvalidArgument      errors.ErrorCode = "CORELOCK_INVALID_ARGUMENT"
	ErrCodeLockAlreadyHeld      errors.ErrorCode = "CORELOCK_LOCK_ALREADY_HELD"
	ErrCodeInvalidReleaseState  errors.ErrorCode = "CORELOCK_INVALID_RELEASE_STATE"
	ErrCodeBuildFailure         errors.ErrorCode = "CORELOCK_BUILD_FAILURE"
	ErrCodePanicRecovered       errors.ErrorCode = "CORELOCK_PANIC_RECOVERED"
	ErrCodeObjectDisposed       errors.ErrorCode = "CORELOCK_OBJECT_DISPOSED"
	ErrCodeCanceled             errors.ErrorCode = "CORELOCK_CANCELED"
)

const (
	msgInvalidArgument     = "invalid argument"
	msgLockAlreadyHeld     = "taken flag was already set on entry"
	msgInvalidReleaseState = "lock released while not held in the matching mode"
	msgBuildFailure        = "cached build error"
	msgPanicRecovered      = "panic recovered from build function"
	msgObjectDisposed      = "waiter disposed before it was granted"
	msgCanceled            = "waiter canceled before it was granted"
)

// NewErrInvalidArgument reports a precondition violation on a caller-supplied
// value (e.g. a negative minimum lifetime, a non-positive eviction interval,
// a nil build function).
func NewErrInvalidArgument(field string, value interface{}) error {
	return errors.NewWithContext(ErrCodeInvalidArgument, msgInvalidArgument, map[string]interface{}{
		"field": field,
		"value": fmt.Sprintf("%v", value),
	})
}

// NewErrLockAlreadyHeld reports that a TryEnter*/Enter* call was given a
// taken flag that was already true on entry.
func NewErrLockAlreadyHeld(operation string) error {
	return errors.NewWithField(ErrCodeLockAlreadyHeld, msgLockAlreadyHeld, "operation", operation)
}

// NewErrInvalidReleaseState reports an Exit*/Release call when the lock was
// not held in the matching mode. Callers of RWSpinlock must treat this as a
// programming bug; the spinlock's word may be left inconsistent.
func NewErrInvalidReleaseState(operation string) error {
	return errors.NewWithField(ErrCodeInvalidReleaseState, msgInvalidReleaseState, "operation", operation)
}

// NewErrBuildFailure wraps a builder's error so it can be cached and
// re-raised verbatim to every later caller of TtlCache.Get for that key.
func NewErrBuildFailure(key interface{}, cause error) error {
	return errors.Wrap(cause, ErrCodeBuildFailure, msgBuildFailure).
		WithContext("key", fmt.Sprintf("%v", key))
}

// NewErrPanicRecovered reports that a TtlCache build function panicked; the
// panic value is captured and the build is treated as a cached failure.
func NewErrPanicRecovered(key interface{}, panicValue interface{}) error {
	return errors.NewWithContext(ErrCodePanicRecovered, msgPanicRecovered, map[string]interface{}{
		"key":   fmt.Sprintf("%v", key),
		"panic": fmt.Sprintf("%v", panicValue),
	})
}

// NewErrObjectDisposed reports that a pending AsyncLock waiter was torn
// down (its receipt transitioned to Disposed) before being granted.
func NewErrObjectDisposed(operation string) error {
	return errors.NewWithField(ErrCodeObjectDisposed, msgObjectDisposed, "operation", operation)
}

// NewErrCanceled builds a Canceled-coded error for a waiter canceled before
// being granted. AsyncLock itself resolves a canceled Receipt with its
// context's error (ctx.Err()), not with this value.
func NewErrCanceled(operation string) error {
	return errors.NewWithField(ErrCodeCanceled, msgCanceled, "operation", operation)
}

// IsBuildFailure reports whether err is a cached TtlCache build error.
func IsBuildFailure(err error) bool {
	return errors.HasCode(err, ErrCodeBuildFailure)
}

// IsCanceled reports whether err carries ErrCodeCanceled, as errors built by
// NewErrCanceled do. It does not recognize context.Canceled, which is what
// Receipt.Err returns for an AsyncLock request whose context was canceled.
func IsCanceled(err error) bool {
	return errors.HasCode(err, ErrCodeCanceled)
}

// IsObjectDisposed reports whether err resulted from AsyncLock teardown.
func IsObjectDisposed(err error) bool {
	return errors.HasCode(err, ErrCodeObjectDisposed)
}

// IsRetryable reports whether err was marked retryable by go-errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var retryable errors.Retryable
	if goerrors.As(err, &retryable) {
		return retryable.IsRetryable()
	}
	return false
}

// ErrorCode extracts the go-errors ErrorCode from err, or "" if err did not
// originate from this package.
func ErrorCode(err error) errors.ErrorCode {
	if err == nil {
		return ""
	}
	var coder errors.ErrorCoder
	if goerrors.As(err, &coder) {
		return coder.ErrorCode()
	}
	return ""
}
