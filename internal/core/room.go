// Package core implements the session-orchestration layer: rooms, the
// room manager and the participant state machine. It consumes the durable
// store, the media engine facade and the signaling hub as injected
// collaborators and never owns transport sockets.
package core

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/domain"
)

// Room aggregates the participants of one session. The router handle is
// set at construction and never reassigned. Durable reads and writes go
// through the store; membership mutation is concurrent-safe because every
// step tolerates "already removed".
type Room struct {
	id      domain.RoomID
	router  MediaRouter
	store   *RoomStore
	manager *RoomManager

	mu           sync.RWMutex
	participants map[domain.UserID]*Participant
	closed       bool
}

func newRoom(id domain.RoomID, router MediaRouter, store *RoomStore, manager *RoomManager) *Room {
	return &Room{
		id:           id,
		router:       router,
		store:        store,
		manager:      manager,
		participants: make(map[domain.UserID]*Participant),
	}
}

func (r *Room) ID() domain.RoomID   { return r.id }
func (r *Room) Router() MediaRouter { return r.router }

// AddMember stores the participant session and, for guests, persists the
// member record first; the in-memory entry is not created if the write
// fails. The host's record was already written atomically at room
// creation. Adding an existing member is a no-op reported through the
// added flag so the caller can dispose of its freshly built session
// instead of leaking it.
func (r *Room) AddMember(ctx context.Context, member domain.UserDetails, p *Participant, isHost bool) (bool, error) {
	r.mu.Lock()
	_, exists := r.participants[member.UserID]
	r.mu.Unlock()
	if exists {
		log.Warn().Str("module", "core.room").Str("room", string(r.id)).Str("uid", string(member.UserID)).Msg("member already present")
		return false, nil
	}

	if !isHost {
		if err := r.store.AddMember(ctx, r.id, member); err != nil {
			return false, err
		}
	}

	r.mu.Lock()
	if _, exists := r.participants[member.UserID]; exists {
		// Lost the race against a concurrent join of the same identity;
		// the existing session stays, the caller's does not.
		r.mu.Unlock()
		log.Warn().Str("module", "core.room").Str("room", string(r.id)).Str("uid", string(member.UserID)).Msg("member already present")
		return false, nil
	}
	r.participants[member.UserID] = p
	r.mu.Unlock()
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("uid", string(member.UserID)).Bool("host", isHost).Msg("member added")
	return true, nil
}

// RemoveParticipant closes the session's resources, removes the durable
// member record and drops the in-memory entry. Idempotent: an absent
// identity is a no-op. Failures while closing or persisting are logged
// and do not keep the member in the room.
func (r *Room) RemoveParticipant(ctx context.Context, uid domain.UserID) {
	r.mu.Lock()
	p, ok := r.participants[uid]
	delete(r.participants, uid)
	r.mu.Unlock()
	if !ok {
		log.Warn().Str("module", "core.room").Str("room", string(r.id)).Str("uid", string(uid)).Msg("remove of absent participant")
		return
	}

	if err := p.Close(ctx); err != nil {
		log.Error().Err(err).Str("module", "core.room").Str("room", string(r.id)).Str("uid", string(uid)).Msg("participant close")
	}
	if err := r.store.RemoveMember(ctx, r.id, uid); err != nil {
		log.Error().Err(err).Str("module", "core.room").Str("room", string(r.id)).Str("uid", string(uid)).Msg("remove member record")
	}
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("uid", string(uid)).Msg("participant removed")
}

// RemoveAllParticipants removes every current member; order unspecified,
// each removal independent.
func (r *Room) RemoveAllParticipants(ctx context.Context) {
	for _, uid := range r.AllParticipantIDs() {
		r.RemoveParticipant(ctx, uid)
	}
}

// teardown releases everything the room owns in memory. Durable deletion
// already happened in RoomManager.DeleteRoom by the time this runs.
func (r *Room) teardown(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.RemoveAllParticipants(ctx)
	if err := r.router.Close(); err != nil {
		log.Error().Err(err).Str("module", "core.room").Str("room", string(r.id)).Msg("router close")
	}
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Msg("room closed")
}

// Close removes all participants and deletes the room durably via the
// manager. Safe to call more than once.
func (r *Room) Close(ctx context.Context) error {
	return r.manager.DeleteRoom(ctx, r.id)
}

func (r *Room) Participant(uid domain.UserID) (*Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[uid]
	return p, ok
}

func (r *Room) AllParticipantIDs() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.participants))
	for uid := range r.participants {
		out = append(out, uid)
	}
	return out
}

func (r *Room) OtherParticipantIDs(excluding domain.UserID) []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.participants))
	for uid := range r.participants {
		if uid != excluding {
			out = append(out, uid)
		}
	}
	return out
}

func (r *Room) OtherParticipants(excluding domain.UserID) []*Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Participant, 0, len(r.participants))
	for uid, p := range r.participants {
		if uid != excluding {
			out = append(out, p)
		}
	}
	return out
}

// RemoteProducer describes one outbound channel of another participant,
// enough for a new joiner to subscribe to it.
type RemoteProducer struct {
	ProducerID string
	Kind       domain.ProducerKind
	MediaKind  string
	OwnerID    domain.UserID
	OwnerName  string
}

// RemainingProducers flattens every other participant's outbound channels.
// Used when a newly-joined participant must subscribe to everyone already
// producing.
func (r *Room) RemainingProducers(excluding domain.UserID) []RemoteProducer {
	var out []RemoteProducer
	for _, p := range r.OtherParticipants(excluding) {
		out = append(out, p.producersSnapshot()...)
	}
	return out
}

// SaveExternalMedia is a read-modify-write of the durable room record;
// concurrent writers are last-writer-wins (the store has no
// compare-and-swap on room records).
func (r *Room) SaveExternalMedia(ctx context.Context, url string) error {
	details, err := r.store.Details(ctx, r.id)
	if err != nil {
		return err
	}
	details.ExternalMedia = url
	return r.store.SaveDetails(ctx, r.id, details)
}

func (r *Room) ClearExternalMedia(ctx context.Context) error {
	return r.SaveExternalMedia(ctx, "")
}

func (r *Room) Details(ctx context.Context) (domain.RoomDetails, error) {
	return r.store.Details(ctx, r.id)
}

func (r *Room) Members(ctx context.Context) ([]domain.UserDetails, error) {
	return r.store.Members(ctx, r.id)
}

func (r *Room) IsUserHost(ctx context.Context, uid domain.UserID) (bool, error) {
	return r.store.IsHost(ctx, r.id, uid)
}

func (r *Room) IsEmpty(ctx context.Context) (bool, error) {
	n, err := r.store.MemberCount(ctx, r.id)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

func (r *Room) AppendChat(ctx context.Context, msg domain.ChatMessage) error {
	return r.store.AppendChat(ctx, r.id, msg)
}

func (r *Room) ChatHistory(ctx context.Context) ([]domain.ChatMessage, error) {
	return r.store.ChatHistory(ctx, r.id)
}
