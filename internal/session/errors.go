package session

import (
	"errors"
	"fmt"

	"tracksession-go/internal/types"
)

var (
	ErrDeviceUnavailable  = errors.New("tracking device unavailable")
	ErrAlreadyInitialized = errors.New("session already initialized")
	ErrSessionClosed      = errors.New("session closed")
	ErrUnknownStream      = errors.New("unknown stream")

	// ErrNotInitialized is returned by Update before Init. It also matches
	// ErrSessionClosed, since a session that was never opened cannot be polled
	// either.
	ErrNotInitialized error = &notInitializedError{}
)

type notInitializedError struct{}

func (e *notInitializedError) Error() string {
	return "session not initialized"
}

func (e *notInitializedError) Is(target error) bool {
	return target == ErrSessionClosed
}

// CallbackFailed notes a frame that could not be handed to its callback,
// either because the callback returned an error or panicked, or because the
// device delivered a frame the session could not route.
type CallbackFailed struct {
	Kind  types.StreamKind
	Seq   uint64
	Cause error
}

func (f CallbackFailed) Error() string {
	return fmt.Sprintf("%s callback failed (seq %d): %v", f.Kind, f.Seq, f.Cause)
}

func (f CallbackFailed) Unwrap() error {
	return f.Cause
}
