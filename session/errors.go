package session

import (
	"fmt"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-object-graph/internal/errcode"
	"github.com/goliatone/go-object-graph/mapping"
	"github.com/goliatone/go-object-graph/oid"
	"github.com/goliatone/go-object-graph/ordering"
	"github.com/goliatone/go-object-graph/rowstore"
)

const (
	TextCodeDuplicateIdentity = "DUPLICATE_IDENTITY"
	TextCodeObjectNotFound    = "OBJECT_NOT_FOUND"
	TextCodeValidationFailed  = "VALIDATION_FAILED"
	TextCodeCommitInProgress  = "COMMIT_IN_PROGRESS"
	TextCodeRowStore          = "ROW_STORE_ERROR"
	TextCodeForeignObject     = "FOREIGN_OBJECT"
	TextCodeInvalidState      = "INVALID_OBJECT_STATE"
	TextCodeSessionClosed     = "SESSION_CLOSED"
	TextCodeInvalidArgument   = "INVALID_ARGUMENT"
)

// Failure lists the violations of one object rejected by validation.
type Failure struct {
	ID         oid.ID
	Violations []mapping.Violation
}

func newDuplicateIdentity(id oid.ID) error {
	return goerrors.New("another object is registered as "+id.String(), goerrors.CategoryConflict).
		WithTextCode(TextCodeDuplicateIdentity).
		WithMetadata(map[string]any{"object": id.String(), "id": id})
}

func newObjectNotFound(id oid.ID) error {
	return goerrors.New("no row found for "+id.String(), goerrors.CategoryNotFound).
		WithTextCode(TextCodeObjectNotFound).
		WithMetadata(map[string]any{"object": id.String(), "id": id})
}

func newCommitInProgress() error {
	return goerrors.New("commit already in progress", goerrors.CategoryConflict).
		WithTextCode(TextCodeCommitInProgress)
}

func newForeignObject(id oid.ID) error {
	return goerrors.New(id.String()+" belongs to another session", goerrors.CategoryBadInput).
		WithTextCode(TextCodeForeignObject).
		WithMetadata(map[string]any{"object": id.String(), "id": id})
}

func newInvalidState(o *Object, action string) error {
	return goerrors.New(fmt.Sprintf("cannot %s %s in state %s", action, o.id, o.state), goerrors.CategoryBadInput).
		WithTextCode(TextCodeInvalidState).
		WithMetadata(map[string]any{"object": o.id.String(), "state": o.state.String()})
}

func newBadInput(msg string, meta map[string]any) error {
	return goerrors.New(msg, goerrors.CategoryBadInput).
		WithTextCode(TextCodeInvalidArgument).
		WithMetadata(meta)
}

func newSessionClosed() error {
	return goerrors.New("session is closed", goerrors.CategoryOperation).
		WithTextCode(TextCodeSessionClosed)
}

func newValidationFailed(failures []Failure) error {
	var fields []goerrors.FieldError
	for _, f := range failures {
		for _, v := range f.Violations {
			field := f.ID.String()
			if v.Field != "" {
				field += "." + v.Field
			}
			fields = append(fields, goerrors.FieldError{Field: field, Message: v.Message})
		}
	}
	return goerrors.NewValidation(fmt.Sprintf("validation failed for %d object(s)", len(failures)), fields...).
		WithTextCode(TextCodeValidationFailed).
		WithMetadata(map[string]any{"failures": failures})
}

// newRowStoreError wraps a row store failure. The source stays in the chain,
// so rowstore.IsConstraint and rowstore.IsUnavailable still see it, and the
// retry classification of the source is kept.
func newRowStoreError(source error, id oid.ID, kind rowstore.OperationKind) error {
	category := goerrors.CategoryExternal
	if rowstore.IsConstraint(source) {
		category = goerrors.CategoryConflict
	}
	err := goerrors.NewRetryable(fmt.Sprintf("%s %s failed", kind, id), category).
		WithRetryable(errcode.Retryable(source)).
		WithTextCode(TextCodeRowStore).
		WithMetadata(map[string]any{
			"object":    id.String(),
			"id":        id,
			"operation": kind.String(),
		})
	err.BaseError.Source = source
	return err
}

// IsDuplicateIdentity reports whether err is a DuplicateIdentity error.
func IsDuplicateIdentity(err error) bool { return errcode.Has(err, TextCodeDuplicateIdentity) }

// IsObjectNotFound reports whether err is an ObjectNotFound error.
func IsObjectNotFound(err error) bool { return errcode.Has(err, TextCodeObjectNotFound) }

// IsValidationFailed reports whether err is a ValidationFailed error.
func IsValidationFailed(err error) bool { return errcode.Has(err, TextCodeValidationFailed) }

// IsCommitInProgress reports whether err is a CommitInProgress error.
func IsCommitInProgress(err error) bool { return errcode.Has(err, TextCodeCommitInProgress) }

// IsRowStoreError reports whether err is a RowStoreError.
func IsRowStoreError(err error) bool { return errcode.Has(err, TextCodeRowStore) }

// IsForeignObject reports whether err was caused by mutating another session's object.
func IsForeignObject(err error) bool { return errcode.Has(err, TextCodeForeignObject) }

// IsInvalidState reports whether err rejected an operation on an object in the wrong state.
func IsInvalidState(err error) bool { return errcode.Has(err, TextCodeInvalidState) }

// IsSessionClosed reports whether err was returned by a closed session.
func IsSessionClosed(err error) bool { return errcode.Has(err, TextCodeSessionClosed) }

// IsUnresolvableDependencyCycle reports whether err is an ordering cycle error.
func IsUnresolvableDependencyCycle(err error) bool { return errcode.Has(err, ordering.TextCodeCycle) }

// IsDeleteDenied reports whether err was raised by a Deny delete rule.
func IsDeleteDenied(err error) bool { return errcode.Has(err, mapping.TextCodeDeleteDenied) }

// ValidationFailures returns the failures carried by a ValidationFailed error.
func ValidationFailures(err error) []Failure {
	if !IsValidationFailed(err) {
		return nil
	}
	failures, _ := errcode.Metadata(err)["failures"].([]Failure)
	return failures
}

// FailedObject returns the id of the object an error is about.
func FailedObject(err error) (oid.ID, bool) {
	id, ok := errcode.Metadata(err)["id"].(oid.ID)
	return id, ok
}
