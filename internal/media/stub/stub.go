// Package stub is an in-process media engine implementing the full
// control surface of core.MediaEngine without any packet switching. It
// backs tests and the memory-backed development mode; production plugs a
// real SFU bridge behind the same interfaces.
package stub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/avolkov/huddle/internal/core"
)

var (
	ErrEngineDead      = errors.New("engine dead")
	ErrRouterClosed    = errors.New("router closed")
	ErrTransportClosed = errors.New("transport closed")
	ErrUnknownProducer = errors.New("unknown producer")
	ErrCannotConsume   = errors.New("cannot consume producer")
)

var routerRTPCapabilities = json.RawMessage(`{"codecs":[{"kind":"audio","mimeType":"audio/opus","clockRate":48000,"channels":2},{"kind":"video","mimeType":"video/VP8","clockRate":90000}]}`)

type Engine struct {
	mu      sync.Mutex
	dead    bool
	diedFns []func()
}

func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) CreateRouter(_ context.Context) (core.MediaRouter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return nil, &core.MediaEngineError{Code: "ENGINE_DEAD", Err: ErrEngineDead}
	}
	return &Router{
		id:        uuid.NewString(),
		producers: make(map[string]*Producer),
	}, nil
}

func (e *Engine) OnDied(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.diedFns = append(e.diedFns, fn)
}

// Kill simulates the engine worker dying; registered OnDied callbacks run
// once, synchronously.
func (e *Engine) Kill() {
	e.mu.Lock()
	if e.dead {
		e.mu.Unlock()
		return
	}
	e.dead = true
	fns := e.diedFns
	e.diedFns = nil
	e.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type Router struct {
	id string

	mu        sync.Mutex
	closed    bool
	producers map[string]*Producer
}

func (r *Router) ID() string                       { return r.id }
func (r *Router) RTPCapabilities() json.RawMessage { return routerRTPCapabilities }

func (r *Router) CreateTransport(_ context.Context) (core.MediaTransport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, &core.MediaEngineError{Code: "ROUTER_CLOSED", Err: ErrRouterClosed}
	}
	return &Transport{id: uuid.NewString(), router: r}, nil
}

// CanConsume approximates mediasoup's codec matching: the producer must
// exist and the caller must have announced non-empty capabilities.
func (r *Router) CanConsume(producerID string, rtpCapabilities json.RawMessage) bool {
	if len(rtpCapabilities) == 0 || string(rtpCapabilities) == "null" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.producers[producerID]
	return ok
}

func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.producers = make(map[string]*Producer)
	return nil
}

func (r *Router) registerProducer(p *Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[p.id] = p
}

func (r *Router) unregisterProducer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producers, id)
}

type Transport struct {
	id     string
	router *Router

	mu        sync.Mutex
	closed    bool
	connected bool
	onClose   []func()
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Info() core.TransportInfo {
	return core.TransportInfo{
		ID:             t.id,
		ICECandidates:  json.RawMessage(`[{"foundation":"stub","ip":"127.0.0.1","port":40000,"protocol":"udp","type":"host"}]`),
		ICEParameters:  json.RawMessage(`{"usernameFragment":"` + t.id[:8] + `","password":"stub","iceLite":true}`),
		DTLSParameters: json.RawMessage(`{"role":"auto","fingerprints":[]}`),
	}
}

func (t *Transport) Connect(_ context.Context, dtlsParameters json.RawMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return &core.MediaEngineError{Code: "TRANSPORT_CLOSED", Err: ErrTransportClosed}
	}
	if len(dtlsParameters) == 0 {
		return &core.MediaEngineError{Code: "BAD_DTLS_PARAMETERS", Err: errors.New("empty dtls parameters")}
	}
	t.connected = true
	return nil
}

func (t *Transport) Produce(_ context.Context, kind string, rtpParameters json.RawMessage) (core.MediaProducer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, &core.MediaEngineError{Code: "TRANSPORT_CLOSED", Err: ErrTransportClosed}
	}
	if len(rtpParameters) == 0 {
		return nil, &core.MediaEngineError{Code: "BAD_RTP_PARAMETERS", Err: errors.New("empty rtp parameters")}
	}
	p := &Producer{id: uuid.NewString(), kind: kind, router: t.router}
	t.router.registerProducer(p)
	return p, nil
}

func (t *Transport) Consume(_ context.Context, producerID string, rtpCapabilities json.RawMessage) (core.MediaConsumer, error) {
	if !t.router.CanConsume(producerID, rtpCapabilities) {
		return nil, &core.MediaEngineError{Code: "CANNOT_CONSUME", Err: ErrCannotConsume}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, &core.MediaEngineError{Code: "TRANSPORT_CLOSED", Err: ErrTransportClosed}
	}
	t.router.mu.Lock()
	p, ok := t.router.producers[producerID]
	t.router.mu.Unlock()
	if !ok {
		return nil, &core.MediaEngineError{Code: "UNKNOWN_PRODUCER", Err: ErrUnknownProducer}
	}
	return &Consumer{
		id:         uuid.NewString(),
		producerID: producerID,
		kind:       p.kind,
		paused:     true,
	}, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	fns := t.onClose
	t.onClose = nil
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return nil
}

// OnClose registers fn to run when the transport closes. Registering on
// an already-closed transport runs fn immediately, so late subscribers
// still observe the teardown.
func (t *Transport) OnClose(fn func()) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		fn()
		return
	}
	t.onClose = append(t.onClose, fn)
	t.mu.Unlock()
}

// Connected reports whether the security handshake completed; test helper.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

type Producer struct {
	id     string
	kind   string
	router *Router

	mu     sync.Mutex
	closed bool
}

func (p *Producer) ID() string   { return p.id }
func (p *Producer) Kind() string { return p.kind }

func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	p.router.unregisterProducer(p.id)
	return nil
}

type Consumer struct {
	id         string
	producerID string
	kind       string

	mu     sync.Mutex
	paused bool
	closed bool
}

func (c *Consumer) ID() string         { return c.id }
func (c *Consumer) ProducerID() string { return c.producerID }
func (c *Consumer) Kind() string       { return c.kind }

func (c *Consumer) RTPParameters() json.RawMessage {
	return json.RawMessage(`{"codecs":[],"encodings":[]}`)
}

func (c *Consumer) Resume(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return &core.MediaEngineError{Code: "CONSUMER_CLOSED", Err: errors.New("consumer closed")}
	}
	c.paused = false
	return nil
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Paused reports the consumer's pause state; test helper.
func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}
