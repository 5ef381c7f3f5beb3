package core

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/domain"
)

// RoomManager owns rooms by id and mediates all room-level durable-store
// access. It is constructed once at process start and injected wherever
// rooms are needed; there are no package-level registries.
type RoomManager struct {
	store *RoomStore

	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
}

func NewRoomManager(store *RoomStore) *RoomManager {
	return &RoomManager{
		store: store,
		rooms: make(map[domain.RoomID]*Room),
	}
}

// BindEngine reacts to the media engine dying by closing every room, since
// all of them are bound to routers of that engine instance.
func (m *RoomManager) BindEngine(engine MediaEngine) {
	engine.OnDied(func() {
		log.Error().Str("module", "core.room_manager").Msg("media engine died, closing all rooms")
		m.mu.RLock()
		ids := make([]domain.RoomID, 0, len(m.rooms))
		for id := range m.rooms {
			ids = append(ids, id)
		}
		m.mu.RUnlock()
		for _, id := range ids {
			if err := m.DeleteRoom(context.Background(), id); err != nil {
				log.Error().Err(err).Str("module", "core.room_manager").Str("room", string(id)).Msg("close room after engine death")
			}
		}
	})
}

// CreateRoom atomically persists the room record and the host's member
// record, then registers the in-memory room bound to the router. When the
// durable write fails the in-memory room is not created.
func (m *RoomManager) CreateRoom(ctx context.Context, roomID domain.RoomID, details domain.RoomDetails, host domain.UserDetails, router MediaRouter) (*Room, error) {
	if err := m.store.CreateRoom(ctx, roomID, details, host); err != nil {
		log.Error().Err(err).Str("module", "core.room_manager").Str("room", string(roomID)).Msg("create room")
		return nil, err
	}

	room := newRoom(roomID, router, m.store, m)
	m.mu.Lock()
	m.rooms[roomID] = room
	m.mu.Unlock()

	log.Info().Str("module", "core.room_manager").Str("room", string(roomID)).Str("host", string(host.UserID)).Msg("room created")
	return room, nil
}

// DeleteRoom atomically removes the member set and the room record, then
// tears down the in-memory room. Durable deletion happens first so a
// reader racing the deletion never observes a durable record pointing at a
// closed room. When the durable delete fails, nothing is torn down.
func (m *RoomManager) DeleteRoom(ctx context.Context, roomID domain.RoomID) error {
	m.mu.RLock()
	room, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if !ok {
		return newRoomNotFound(roomID)
	}

	if err := m.store.DeleteRoom(ctx, roomID); err != nil {
		log.Error().Err(err).Str("module", "core.room_manager").Str("room", string(roomID)).Msg("delete room")
		return err
	}

	m.mu.Lock()
	delete(m.rooms, roomID)
	m.mu.Unlock()

	room.teardown(ctx)
	log.Info().Str("module", "core.room_manager").Str("room", string(roomID)).Msg("room deleted")
	return nil
}

// Room returns the registered in-memory room.
func (m *RoomManager) Room(roomID domain.RoomID) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, newRoomNotFound(roomID)
	}
	return room, nil
}

// RoomExists checks the durable room record, not the in-memory registry.
func (m *RoomManager) RoomExists(ctx context.Context, roomID domain.RoomID) (bool, error) {
	return m.store.RoomExists(ctx, roomID)
}

// EnsureRoomExists guards per-room durable reads and writes.
func (m *RoomManager) EnsureRoomExists(ctx context.Context, roomID domain.RoomID) error {
	return m.store.EnsureExists(ctx, roomID)
}

func (m *RoomManager) IsUserHost(ctx context.Context, roomID domain.RoomID, uid domain.UserID) (bool, error) {
	return m.store.IsHost(ctx, roomID, uid)
}

func (m *RoomManager) Members(ctx context.Context, roomID domain.RoomID) ([]domain.UserDetails, error) {
	return m.store.Members(ctx, roomID)
}

// Store exposes the typed store layer for collaborators that need member
// records outside a room's lifecycle (the REST join flow).
func (m *RoomManager) Store() *RoomStore { return m.store }
