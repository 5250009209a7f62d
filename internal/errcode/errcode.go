// Package errcode inspects go-errors text codes across wrapped error chains.
package errcode

import (
	goerrors "github.com/goliatone/go-errors"
)

// Has reports whether any rich error in err's chain carries code.
func Has(err error, code string) bool {
	for err != nil {
		switch e := err.(type) {
		case *goerrors.Error:
			if e.TextCode == code {
				return true
			}
		case *goerrors.RetryableError:
			if e.BaseError != nil && e.BaseError.TextCode == code {
				return true
			}
		}
		err = goerrors.Unwrap(err)
	}
	return false
}

// Retryable reports whether any error in err's chain declares itself retryable.
func Retryable(err error) bool {
	for err != nil {
		if r, ok := err.(interface{ IsRetryable() bool }); ok {
			return r.IsRetryable()
		}
		err = goerrors.Unwrap(err)
	}
	return false
}

// Metadata returns the metadata of the outermost rich error in err's chain.
func Metadata(err error) map[string]any {
	for err != nil {
		switch e := err.(type) {
		case *goerrors.Error:
			return e.Metadata
		case *goerrors.RetryableError:
			if e.BaseError != nil {
				return e.BaseError.Metadata
			}
		}
		err = goerrors.Unwrap(err)
	}
	return nil
}
