package core

import (
	"context"
	"encoding/json"

	"github.com/avolkov/huddle/internal/domain"
)

// KV is the durable-store contract: hash-shaped collections plus an
// append-only log per key, with an atomic multi-operation write. Both the
// redis-backed and the in-memory implementations live in internal/store.
type KV interface {
	Exists(ctx context.Context, key string) (bool, error)
	GetField(ctx context.Context, key, field string) (string, bool, error)
	SetField(ctx context.Context, key, field, value string) error
	DeleteField(ctx context.Context, key, field string) error
	ListFields(ctx context.Context, key string) (map[string]string, error)
	FieldCount(ctx context.Context, key string) (int64, error)
	Delete(ctx context.Context, key string) error
	AppendLog(ctx context.Context, key, entry string) error
	LogRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// Atomic applies every operation queued by fn as a single
	// transaction; either all of them become visible or none.
	Atomic(ctx context.Context, fn func(tx Tx)) error
}

// Tx queues writes inside KV.Atomic.
type Tx interface {
	SetField(key, field, value string)
	DeleteField(key, field string)
	Delete(key string)
}

const roomsKey = "rooms"

func membersKey(roomID domain.RoomID) string { return "members:" + string(roomID) }
func chatKey(roomID domain.RoomID) string    { return "chat:" + string(roomID) }

// RoomStore is the typed layer over KV for room, member and chat records.
type RoomStore struct {
	kv KV
}

func NewRoomStore(kv KV) *RoomStore {
	return &RoomStore{kv: kv}
}

// CreateRoom persists the room record and the host's member record as a
// single atomic write. The host's membership is never visible without the
// room, nor the other way around.
func (s *RoomStore) CreateRoom(ctx context.Context, roomID domain.RoomID, details domain.RoomDetails, host domain.UserDetails) error {
	roomJSON, err := json.Marshal(details)
	if err != nil {
		return &PersistenceError{Op: "create room", Err: err}
	}
	hostJSON, err := json.Marshal(host)
	if err != nil {
		return &PersistenceError{Op: "create room", Err: err}
	}
	err = s.kv.Atomic(ctx, func(tx Tx) {
		tx.SetField(roomsKey, string(roomID), string(roomJSON))
		tx.SetField(membersKey(roomID), string(host.UserID), string(hostJSON))
	})
	if err != nil {
		return &PersistenceError{Op: "create room", Err: err}
	}
	return nil
}

// DeleteRoom removes the member set, the chat log and the room record in
// one transaction.
func (s *RoomStore) DeleteRoom(ctx context.Context, roomID domain.RoomID) error {
	err := s.kv.Atomic(ctx, func(tx Tx) {
		tx.Delete(membersKey(roomID))
		tx.Delete(chatKey(roomID))
		tx.DeleteField(roomsKey, string(roomID))
	})
	if err != nil {
		return &PersistenceError{Op: "delete room", Err: err}
	}
	return nil
}

func (s *RoomStore) RoomExists(ctx context.Context, roomID domain.RoomID) (bool, error) {
	_, ok, err := s.kv.GetField(ctx, roomsKey, string(roomID))
	if err != nil {
		return false, &PersistenceError{Op: "room exists", Err: err}
	}
	return ok, nil
}

// EnsureExists guards any per-room durable read or write.
func (s *RoomStore) EnsureExists(ctx context.Context, roomID domain.RoomID) error {
	ok, err := s.RoomExists(ctx, roomID)
	if err != nil {
		return err
	}
	if !ok {
		return newRoomNotFound(roomID)
	}
	return nil
}

func (s *RoomStore) Details(ctx context.Context, roomID domain.RoomID) (domain.RoomDetails, error) {
	raw, ok, err := s.kv.GetField(ctx, roomsKey, string(roomID))
	if err != nil {
		return domain.RoomDetails{}, &PersistenceError{Op: "get room details", Err: err}
	}
	if !ok {
		return domain.RoomDetails{}, newRoomNotFound(roomID)
	}
	var details domain.RoomDetails
	if err := json.Unmarshal([]byte(raw), &details); err != nil {
		return domain.RoomDetails{}, &PersistenceError{Op: "decode room details", Err: err}
	}
	return details, nil
}

func (s *RoomStore) SaveDetails(ctx context.Context, roomID domain.RoomID, details domain.RoomDetails) error {
	if err := s.EnsureExists(ctx, roomID); err != nil {
		return err
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return &PersistenceError{Op: "save room details", Err: err}
	}
	if err := s.kv.SetField(ctx, roomsKey, string(roomID), string(raw)); err != nil {
		return &PersistenceError{Op: "save room details", Err: err}
	}
	return nil
}

func (s *RoomStore) AddMember(ctx context.Context, roomID domain.RoomID, member domain.UserDetails) error {
	if err := s.EnsureExists(ctx, roomID); err != nil {
		return err
	}
	raw, err := json.Marshal(member)
	if err != nil {
		return &PersistenceError{Op: "add member", Err: err}
	}
	if err := s.kv.SetField(ctx, membersKey(roomID), string(member.UserID), string(raw)); err != nil {
		return &PersistenceError{Op: "add member", Err: err}
	}
	return nil
}

func (s *RoomStore) RemoveMember(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	if err := s.kv.DeleteField(ctx, membersKey(roomID), string(userID)); err != nil {
		return &PersistenceError{Op: "remove member", Err: err}
	}
	return nil
}

func (s *RoomStore) Member(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (domain.UserDetails, bool, error) {
	raw, ok, err := s.kv.GetField(ctx, membersKey(roomID), string(userID))
	if err != nil {
		return domain.UserDetails{}, false, &PersistenceError{Op: "get member", Err: err}
	}
	if !ok {
		return domain.UserDetails{}, false, nil
	}
	var member domain.UserDetails
	if err := json.Unmarshal([]byte(raw), &member); err != nil {
		return domain.UserDetails{}, false, &PersistenceError{Op: "decode member", Err: err}
	}
	return member, true, nil
}

func (s *RoomStore) Members(ctx context.Context, roomID domain.RoomID) ([]domain.UserDetails, error) {
	if err := s.EnsureExists(ctx, roomID); err != nil {
		return nil, err
	}
	fields, err := s.kv.ListFields(ctx, membersKey(roomID))
	if err != nil {
		return nil, &PersistenceError{Op: "list members", Err: err}
	}
	out := make([]domain.UserDetails, 0, len(fields))
	for _, raw := range fields {
		var member domain.UserDetails
		if err := json.Unmarshal([]byte(raw), &member); err != nil {
			return nil, &PersistenceError{Op: "decode member", Err: err}
		}
		out = append(out, member)
	}
	return out, nil
}

func (s *RoomStore) MemberCount(ctx context.Context, roomID domain.RoomID) (int64, error) {
	n, err := s.kv.FieldCount(ctx, membersKey(roomID))
	if err != nil {
		return 0, &PersistenceError{Op: "member count", Err: err}
	}
	return n, nil
}

// IsHost reports false for unknown members rather than failing, matching
// the join flow that probes host status before writing a member record.
func (s *RoomStore) IsHost(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (bool, error) {
	member, ok, err := s.Member(ctx, roomID, userID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return member.IsHost, nil
}

func (s *RoomStore) AppendChat(ctx context.Context, roomID domain.RoomID, msg domain.ChatMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return &PersistenceError{Op: "append chat", Err: err}
	}
	if err := s.kv.AppendLog(ctx, chatKey(roomID), string(raw)); err != nil {
		return &PersistenceError{Op: "append chat", Err: err}
	}
	return nil
}

// ChatHistory returns the full log in append order.
func (s *RoomStore) ChatHistory(ctx context.Context, roomID domain.RoomID) ([]domain.ChatMessage, error) {
	entries, err := s.kv.LogRange(ctx, chatKey(roomID), 0, -1)
	if err != nil {
		return nil, &PersistenceError{Op: "chat history", Err: err}
	}
	out := make([]domain.ChatMessage, 0, len(entries))
	for _, raw := range entries {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, &PersistenceError{Op: "decode chat message", Err: err}
		}
		out = append(out, msg)
	}
	return out, nil
}
