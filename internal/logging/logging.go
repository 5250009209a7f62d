// Package logging holds the slog helpers shared by the object graph packages.
package logging

import (
	"context"
	"io"
	"log/slog"

	goerrors "github.com/goliatone/go-errors"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// Discard returns a logger that drops every record.
func Discard() *slog.Logger { return discard }

// OrDiscard returns l, or the discard logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return discard
	}
	return l
}

// Error logs err at a level derived from its category. Rich errors go through
// goerrors.LogBySeverity; anything else is logged at error level.
func Error(ctx context.Context, l *slog.Logger, msg string, err error, attrs ...any) {
	if l == nil || err == nil {
		return
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		goerrors.LogBySeverity(l.With(attrs...), rich)
		return
	}
	l.ErrorContext(ctx, msg, append(attrs, slog.String("error", err.Error()))...)
}
