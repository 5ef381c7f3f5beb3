package core

import (
	"context"
	"encoding/json"
)

// The media engine is an external collaborator. All capability and
// parameter blobs are relayed verbatim between client and engine, so they
// stay opaque json.RawMessage here.

// MediaEngine creates per-room routers and reports its own death.
type MediaEngine interface {
	// CreateRouter allocates a routing context for one room.
	CreateRouter(ctx context.Context) (MediaRouter, error)
	// OnDied registers a callback invoked once if the engine instance
	// becomes unusable. Rooms bound to it must be treated as dead.
	OnDied(fn func())
}

// MediaRouter is a room's media routing context.
type MediaRouter interface {
	ID() string
	RTPCapabilities() json.RawMessage
	CreateTransport(ctx context.Context) (MediaTransport, error)
	// CanConsume reports whether a producer can be consumed given the
	// caller's device capabilities.
	CanConsume(producerID string, rtpCapabilities json.RawMessage) bool
	Close() error
}

// TransportInfo carries the connection parameters the client needs to
// complete transport setup on its side.
type TransportInfo struct {
	ID             string          `json:"id"`
	ICECandidates  json.RawMessage `json:"iceCandidates"`
	ICEParameters  json.RawMessage `json:"iceParameters"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

// MediaTransport is one negotiated channel between a participant and the
// router, per direction.
type MediaTransport interface {
	ID() string
	Info() TransportInfo
	// Connect completes the transport's security handshake.
	Connect(ctx context.Context, dtlsParameters json.RawMessage) error
	Produce(ctx context.Context, kind string, rtpParameters json.RawMessage) (MediaProducer, error)
	// Consume creates a paused consumer; the client resumes it explicitly.
	Consume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage) (MediaConsumer, error)
	Close() error
	// OnClose registers a callback invoked when the engine closes the
	// transport underneath us.
	OnClose(fn func())
}

type MediaProducer interface {
	ID() string
	Kind() string
	Close() error
}

type MediaConsumer interface {
	ID() string
	ProducerID() string
	Kind() string
	RTPParameters() json.RawMessage
	Resume(ctx context.Context) error
	Close() error
}
