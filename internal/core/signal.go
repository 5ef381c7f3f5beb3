package core

import (
	"context"
	"encoding/json"

	"github.com/avolkov/huddle/internal/domain"
)

// HandlerFunc processes one inbound message for one identity. The payload
// is the raw envelope payload; handlers decode their own closed variant.
type HandlerFunc func(ctx context.Context, uid domain.UserID, payload json.RawMessage) error

// HandlerID identifies one handler registration so it can be detached
// later (Go functions are not comparable).
type HandlerID uint64

// Signaler is the core-facing surface of the connection hub: handler
// registration plus best-effort unicast and fanout. Sends never fail
// upward; a missing connection is dropped and logged.
type Signaler interface {
	On(uid domain.UserID, msgType string, h HandlerFunc) HandlerID
	Off(uid domain.UserID, msgType string, id HandlerID)
	Send(uid domain.UserID, msgType string, payload any)
	Broadcast(uids []domain.UserID, msgType string, payload any)
}

// ErrorPayload is the wire shape of server-initiated error messages.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
