// Package logger is a thin debug-mode toggle around jettison's logger,
// adapted from the teacher's internal/logger wrapper used by Builder.
package logger

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"
)

// Logger is the minimal surface this module's components need. The real
// implementation just forwards to github.com/luno/jettison/log; tests can
// substitute a recording fake. Errors are expected to already carry their
// j.MKV fields via errors.Wrap at the call site, matching the teacher's
// convention.
type Logger interface {
	Debug(ctx context.Context, msg string, fields j.MKV)
	Info(ctx context.Context, msg string, fields j.MKV)
	Error(ctx context.Context, err error)
}

// New returns a Logger with debugMode initially false, matching the
// teacher's Builder default ("Explicit for readability").
func New() *wrapped {
	return &wrapped{debugMode: false}
}

type wrapped struct {
	debugMode bool
}

// SetDebugMode toggles whether Debug() calls are actually emitted.
func (w *wrapped) SetDebugMode(on bool) { w.debugMode = on }

func (w *wrapped) Debug(ctx context.Context, msg string, fields j.MKV) {
	if !w.debugMode {
		return
	}
	log.Info(ctx, msg, fields)
}

func (w *wrapped) Info(ctx context.Context, msg string, fields j.MKV) {
	log.Info(ctx, msg, fields)
}

func (w *wrapped) Error(ctx context.Context, err error) {
	log.Error(ctx, err)
}

var _ Logger = (*wrapped)(nil)

// Wrap is a convenience re-export so callers don't need a second import for
// the common "wrap with fields, then log" pattern the teacher uses.
func Wrap(err error, msg string, fields j.MKV) error {
	return errors.Wrap(err, msg, fields)
}
