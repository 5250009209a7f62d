package rowstore

import (
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-object-graph/internal/errcode"
)

const (
	// TextCodeUnavailable marks connectivity failures. They are retryable.
	TextCodeUnavailable = "ROW_STORE_UNAVAILABLE"
	// TextCodeConstraint marks constraint violations. They are not retryable.
	TextCodeConstraint = "CONSTRAINT_VIOLATION"
	// TextCodeUnknownTable marks operations against an unknown table.
	TextCodeUnknownTable = "UNKNOWN_TABLE"
)

// NewConnectivityError wraps a transport level failure as a retryable error.
func NewConnectivityError(source error, message string) error {
	if source == nil {
		return goerrors.NewRetryable(message, goerrors.CategoryExternal).
			WithTextCode(TextCodeUnavailable)
	}
	return goerrors.WrapRetryable(source, goerrors.CategoryExternal, message).
		WithTextCode(TextCodeUnavailable)
}

// NewConstraintError wraps a constraint violation as a non-retryable error.
func NewConstraintError(source error, message string) error {
	if source == nil {
		return goerrors.NewNonRetryable(message, goerrors.CategoryConflict).
			WithTextCode(TextCodeConstraint)
	}
	return goerrors.WrapRetryable(source, goerrors.CategoryConflict, message).
		WithRetryable(false).
		WithTextCode(TextCodeConstraint)
}

// IsRetryable reports whether err, or an error it wraps, may succeed on retry.
func IsRetryable(err error) bool {
	return errcode.Retryable(err)
}

// IsConstraint reports whether err is a constraint violation.
func IsConstraint(err error) bool {
	return errcode.Has(err, TextCodeConstraint)
}

// IsUnavailable reports whether err is a connectivity failure.
func IsUnavailable(err error) bool {
	return errcode.Has(err, TextCodeUnavailable)
}
