package playback

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by [Orchestrator] is an [*Error] whose
// Kind is one of these, so callers can switch with [errors.Is].
var (
	// ErrInvalidInput reports a bad locator or missing voice context. No
	// state was changed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTransport reports that a voice session could not be established or
	// maintained.
	ErrTransport = errors.New("transport error")

	// ErrResolve reports that a source could not be opened or broke while
	// streaming.
	ErrResolve = errors.New("resolve error")

	// ErrCapacity reports that rendered output had to be truncated.
	ErrCapacity = errors.New("capacity exceeded")

	// ErrClosed is wrapped in ErrTransport errors after [Orchestrator.Close].
	ErrClosed = errors.New("orchestrator closed")
)

// Error is the typed failure returned across the playback boundary.
type Error struct {
	// Kind is one of the sentinel kinds above.
	Kind error

	// GuildID is the guild the operation targeted.
	GuildID string

	// Op is the failing operation, e.g. "enqueue".
	Op string

	// Err is the underlying cause. May be nil.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("playback: %s guild %s: %v", e.Op, e.GuildID, e.Kind)
	}
	return fmt.Sprintf("playback: %s guild %s: %v: %v", e.Op, e.GuildID, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to [errors.Is] and [errors.As].
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, guildID, op string, cause error) *Error {
	return &Error{Kind: kind, GuildID: guildID, Op: op, Err: cause}
}
