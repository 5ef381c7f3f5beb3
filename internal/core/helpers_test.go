package core_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avolkov/huddle/internal/core"
	"github.com/avolkov/huddle/internal/dispatch"
	"github.com/avolkov/huddle/internal/domain"
	"github.com/avolkov/huddle/internal/media/stub"
	"github.com/avolkov/huddle/internal/store"
)

// recSocket records every outbound envelope so tests can assert on what a
// client would have received.
type recSocket struct {
	mu     sync.Mutex
	frames []dispatch.Envelope
}

func (s *recSocket) WriteMessage(data []byte) error {
	var env dispatch.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, env)
	return nil
}

func (s *recSocket) Close() error { return nil }

func (s *recSocket) count(msgType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.frames {
		if f.Type == msgType {
			n++
		}
	}
	return n
}

func (s *recSocket) last(msgType string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i].Type == msgType {
			return s.frames[i].Payload, true
		}
	}
	return nil, false
}

type testEnv struct {
	mem     *store.Memory
	manager *core.RoomManager
	engine  *stub.Engine
	hub     *dispatch.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mem := store.NewMemory()
	return &testEnv{
		mem:     mem,
		manager: core.NewRoomManager(core.NewRoomStore(mem)),
		engine:  stub.NewEngine(),
		hub:     dispatch.NewHub(0),
	}
}

func (e *testEnv) createRoom(t *testing.T, roomID domain.RoomID, hostID domain.UserID, hostName string) *core.Room {
	t.Helper()
	host, err := domain.NewUserDetails(hostID, hostName, true)
	require.NoError(t, err)
	details, err := domain.NewRoomDetails(hostID, "room "+string(roomID), domain.RoomSettings{}, domain.RoomFeatures{Chat: true})
	require.NoError(t, err)
	router, err := e.engine.CreateRouter(context.Background())
	require.NoError(t, err)
	room, err := e.manager.CreateRoom(context.Background(), roomID, details, host, router)
	require.NoError(t, err)
	return room
}

// join wires up a connection and a participant session the way the HTTP
// join flow does.
func (e *testEnv) join(t *testing.T, room *core.Room, uid domain.UserID, name string, isHost bool) (*core.Participant, *recSocket) {
	t.Helper()
	sock := &recSocket{}
	e.hub.Register(uid, sock)
	p := core.NewParticipant(uid, name, isHost, room, e.hub)
	member, err := domain.NewUserDetails(uid, name, isHost)
	require.NoError(t, err)
	added, err := room.AddMember(context.Background(), member, p, isHost)
	require.NoError(t, err)
	require.True(t, added)
	return p, sock
}

func (e *testEnv) send(t *testing.T, uid domain.UserID, msgType string, payload string) {
	t.Helper()
	env := dispatch.Envelope{Type: msgType}
	if payload != "" {
		env.Payload = json.RawMessage(payload)
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	e.hub.Dispatch(uid, raw)
}

// waitFor blocks until the socket has received at least n frames of the
// given type and returns the latest payload.
func waitFor(t *testing.T, sock *recSocket, msgType string, n int) json.RawMessage {
	t.Helper()
	require.Eventually(t, func() bool {
		return sock.count(msgType) >= n
	}, 2*time.Second, 5*time.Millisecond, "never received %q x%d", msgType, n)
	payload, _ := sock.last(msgType)
	return payload
}

// settle waits for the identity's queue to drain by pushing a probe message
// through it.
func (e *testEnv) settle(t *testing.T, uid domain.UserID, sock *recSocket) {
	t.Helper()
	id := e.hub.On(uid, "probe", func(context.Context, domain.UserID, json.RawMessage) error {
		e.hub.Send(uid, "probed", nil)
		return nil
	})
	defer e.hub.Off(uid, "probe", id)
	before := sock.count("probed")
	e.send(t, uid, "probe", "")
	waitFor(t, sock, "probed", before+1)
}
