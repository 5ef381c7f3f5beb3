// Package dispatch owns live connections and the per-identity message
// queues. Messages from one identity are handled strictly in arrival
// order; different identities are processed concurrently.
package dispatch

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/core"
	"github.com/avolkov/huddle/internal/domain"
)

// Socket is the minimal transport endpoint the hub writes to.
// Owned by the adapter; the adapter must Close() it.
type Socket interface {
	WriteMessage(data []byte) error
	Close() error
}

// Envelope frames every message on the wire.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MsgRegistered is the acknowledgement sent on connection registration.
const MsgRegistered = "registered"

type handlerEntry struct {
	id core.HandlerID
	fn core.HandlerFunc
}

// Observer is invoked whenever a handler for a dispatched message fails.
// Failed messages are not redelivered; this hook is how failures become
// visible beyond the log.
type Observer func(uid domain.UserID, msgType string, err error)

type Hub struct {
	jobTimeout time.Duration
	metrics    *Metrics
	observer   Observer
	nextID     atomic.Uint64

	mu       sync.RWMutex
	conns    map[domain.UserID]Socket
	handlers map[domain.UserID]map[string][]handlerEntry
	tails    map[domain.UserID]chan struct{}
}

// NewHub builds a hub whose per-message handler runs are bounded by
// jobTimeout; zero means no deadline.
func NewHub(jobTimeout time.Duration) *Hub {
	return &Hub{
		jobTimeout: jobTimeout,
		conns:      make(map[domain.UserID]Socket),
		handlers:   make(map[domain.UserID]map[string][]handlerEntry),
		tails:      make(map[domain.UserID]chan struct{}),
	}
}

func (h *Hub) SetMetrics(m *Metrics)   { h.metrics = m }
func (h *Hub) SetObserver(fn Observer) { h.observer = fn }

// Register stores the connection, initializes the identity's handler table
// and acknowledges to the client. A previous socket for the same identity
// is replaced and closed.
func (h *Hub) Register(uid domain.UserID, s Socket) {
	h.mu.Lock()
	old := h.conns[uid]
	h.conns[uid] = s
	if _, ok := h.handlers[uid]; !ok {
		h.handlers[uid] = make(map[string][]handlerEntry)
	}
	h.mu.Unlock()

	if old != nil && old != s {
		_ = old.Close()
	}
	if h.metrics != nil {
		h.metrics.Connections.Inc()
	}
	log.Info().Str("module", "dispatch.hub").Str("uid", string(uid)).Msg("connection registered")
	h.Send(uid, MsgRegistered, map[string]string{"message": "connection registered"})
}

// Unregister drops the connection if s is still the live one. Handler
// registrations stay; sessions detach their own handlers on close. Any
// in-flight job keeps running to completion.
func (h *Hub) Unregister(uid domain.UserID, s Socket) {
	h.mu.Lock()
	cur, ok := h.conns[uid]
	if ok && cur == s {
		delete(h.conns, uid)
	} else {
		ok = false
	}
	h.mu.Unlock()

	if ok {
		if h.metrics != nil {
			h.metrics.Connections.Dec()
		}
		log.Info().Str("module", "dispatch.hub").Str("uid", string(uid)).Msg("connection unregistered")
	}
}

// On attaches a handler for (uid, msgType). Multiple handlers per pair are
// allowed; all run and are awaited together per message.
func (h *Hub) On(uid domain.UserID, msgType string, fn core.HandlerFunc) core.HandlerID {
	id := core.HandlerID(h.nextID.Add(1))
	h.mu.Lock()
	defer h.mu.Unlock()
	byType, ok := h.handlers[uid]
	if !ok {
		byType = make(map[string][]handlerEntry)
		h.handlers[uid] = byType
	}
	byType[msgType] = append(byType[msgType], handlerEntry{id: id, fn: fn})
	return id
}

// Off detaches one registration; a miss is a no-op.
func (h *Hub) Off(uid domain.UserID, msgType string, id core.HandlerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	byType, ok := h.handlers[uid]
	if !ok {
		return
	}
	entries := byType[msgType]
	for i, e := range entries {
		if e.id == id {
			byType[msgType] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(byType[msgType]) == 0 {
		delete(byType, msgType)
	}
}

// HandlerCount reports how many handlers are registered for an identity,
// across all message types.
func (h *Hub) HandlerCount(uid domain.UserID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, entries := range h.handlers[uid] {
		n += len(entries)
	}
	return n
}

// Send is best-effort unicast. A missing or dead connection is dropped and
// logged, never returned as an error.
func (h *Hub) Send(uid domain.UserID, msgType string, payload any) {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "dispatch.hub").Str("type", msgType).Msg("marshal outbound")
		return
	}
	h.mu.RLock()
	s, ok := h.conns[uid]
	h.mu.RUnlock()
	if !ok {
		if h.metrics != nil {
			h.metrics.DroppedSends.Inc()
		}
		log.Debug().Str("module", "dispatch.hub").Str("uid", string(uid)).Str("type", msgType).Msg("send dropped: no connection")
		return
	}
	if err := s.WriteMessage(data); err != nil {
		if h.metrics != nil {
			h.metrics.DroppedSends.Inc()
		}
		log.Warn().Err(err).Str("module", "dispatch.hub").Str("uid", string(uid)).Str("type", msgType).Msg("send dropped")
	}
}

// Broadcast fans out Send to each identity; an empty set is a no-op and a
// missing recipient does not affect the others.
func (h *Hub) Broadcast(uids []domain.UserID, msgType string, payload any) {
	if len(uids) == 0 {
		return
	}
	for _, uid := range uids {
		h.Send(uid, msgType, payload)
	}
}

func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

var _ core.Signaler = (*Hub)(nil)
