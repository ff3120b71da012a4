// Package engineerrors defines the error taxonomy of the application
// engine (see SPEC_FULL.md §7). Kinds are distinguished with errors.Is,
// never by string comparison; call sites wrap a sentinel with
// github.com/pkg/errors to retain context.
package engineerrors

import "github.com/pkg/errors"

var (
	// ErrUnknownSession means a session id was absent, or the session was
	// not in an active state, when a COMMAND/QUERY/KEEP_ALIVE/UNREGISTER
	// referenced it. Surfaced to the caller; never fatal.
	ErrUnknownSession = errors.New("rsm: unknown session")

	// ErrInconsistentIndex means the dispatcher read an entry whose index
	// disagrees with the index it was asked to apply. This indicates log
	// corruption or a collaborator bug and is fatal.
	ErrInconsistentIndex = errors.New("rsm: inconsistent index")

	// ErrLogClosed means an engine operation was attempted while the
	// underlying Log reports itself closed. Surfaced to the caller.
	ErrLogClosed = errors.New("rsm: log closed")

	// ErrInternal covers a cache miss on a replayed sequence, an unknown
	// entry type, or any other invariant violation. Fatal.
	ErrInternal = errors.New("rsm: internal invariant violation")
)

// Is reports whether err wraps target via errors.Is semantics. Exported so
// callers outside this package do not need to import pkg/errors directly
// just to classify an engine error.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Wrap annotates err with message while preserving its Is-comparable
// identity.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf annotates err with a formatted message while preserving its
// Is-comparable identity.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Fatal reports whether err (or its cause) is one of the structural kinds
// that must halt the engine's single-threaded execution context rather
// than be surfaced to a caller.
func Fatal(err error) bool {
	return errors.Is(err, ErrInconsistentIndex) || errors.Is(err, ErrInternal)
}
