package core

import (
	"errors"
	"fmt"

	"github.com/avolkov/huddle/internal/domain"
)

var (
	// ErrRoomNotFound means the durable room record (or the in-memory
	// registration) is absent. Surfaced to callers, never fatal.
	ErrRoomNotFound = errors.New("room not found")

	// ErrInvalidState means an operation was attempted in the wrong
	// session lifecycle state, e.g. a repeated create-transport for a
	// direction that is already set.
	ErrInvalidState = errors.New("invalid session state")

	// ErrNotAllowed means a permission check failed, e.g. a non-host
	// attempting end-call.
	ErrNotAllowed = errors.New("operation not allowed")

	// ErrTransportNotInitialized means a transport-dependent operation
	// arrived before the transport for that direction was created.
	ErrTransportNotInitialized = errors.New("transport not initialized")

	// ErrConsumerNotFound means a resume referenced an unknown consumer.
	ErrConsumerNotFound = errors.New("consumer not found")

	// ErrSessionClosed means the participant session has been torn down.
	ErrSessionClosed = errors.New("session closed")
)

// PersistenceError wraps a failed durable-store operation. The in-memory
// mutation that depended on the write is not applied when one is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// MediaEngineError wraps a failed call into the external media engine.
// Code is a stable identifier relayed to the client in error messages.
type MediaEngineError struct {
	Code string
	Err  error
}

func (e *MediaEngineError) Error() string {
	return fmt.Sprintf("media engine: %s: %v", e.Code, e.Err)
}

func (e *MediaEngineError) Unwrap() error { return e.Err }

func newRoomNotFound(roomID domain.RoomID) error {
	return fmt.Errorf("room %s: %w", roomID, ErrRoomNotFound)
}
