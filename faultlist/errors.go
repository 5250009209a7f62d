package faultlist

import (
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-object-graph/internal/errcode"
)

const (
	TextCodeIndexOutOfRange = "INDEX_OUT_OF_RANGE"
	TextCodeDetached        = "LIST_DETACHED"
	TextCodeInvalidPageSize = "INVALID_PAGE_SIZE"
	TextCodeInvalidList     = "INVALID_FAULT_LIST"
)

func newIndexOutOfRange(index, size int) error {
	return goerrors.New("fault list index out of range", goerrors.CategoryBadInput).
		WithTextCode(TextCodeIndexOutOfRange).
		WithMetadata(map[string]any{"index": index, "size": size})
}

func newDetached() error {
	return goerrors.New("fault list is not attached to a session", goerrors.CategoryOperation).
		WithTextCode(TextCodeDetached)
}

func newInvalidPageSize(size int) error {
	return goerrors.New("page size must be positive", goerrors.CategoryBadInput).
		WithTextCode(TextCodeInvalidPageSize).
		WithMetadata(map[string]any{"page_size": size})
}

func newInvalidList(msg string, meta map[string]any) error {
	return goerrors.New(msg, goerrors.CategoryBadInput).
		WithTextCode(TextCodeInvalidList).
		WithMetadata(meta)
}

// IsIndexOutOfRange reports whether err was caused by an index outside the list.
func IsIndexOutOfRange(err error) bool { return errcode.Has(err, TextCodeIndexOutOfRange) }

// IsDetached reports whether err was caused by using a decoded list before Attach.
func IsDetached(err error) bool { return errcode.Has(err, TextCodeDetached) }
