package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUserDetails(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		userID   UserID
		username string
		wantErr  error
	}{
		{name: "valid", userID: "u1", username: "alice"},
		{name: "empty id", userID: "", username: "alice", wantErr: ErrUserIDEmpty},
		{name: "empty username", userID: "u1", username: "", wantErr: ErrUsernameEmpty},
		{name: "long username", userID: "u1", username: strings.Repeat("a", MaxUsernameLen+1), wantErr: ErrUsernameTooLong},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewUserDetails(tc.userID, tc.username, false)
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestHostGetsFullPermissions(t *testing.T) {
	t.Parallel()

	host, err := NewUserDetails("u1", "alice", true)
	require.NoError(t, err)
	assert.True(t, host.Permissions.CanShareVideo)
	assert.True(t, host.Permissions.CanMuteOthers)
	assert.True(t, host.Permissions.CanKick)

	guest, err := NewUserDetails("u2", "bob", false)
	require.NoError(t, err)
	assert.False(t, guest.Permissions.CanShareVideo)
	assert.False(t, guest.Permissions.CanKick)
	assert.True(t, guest.Permissions.CanChat)
}

func TestNewRoomDetails(t *testing.T) {
	t.Parallel()

	details, err := NewRoomDetails("host-1", "standup", RoomSettings{}, RoomFeatures{Chat: true})
	require.NoError(t, err)
	assert.True(t, details.Active)
	assert.NotZero(t, details.DateCreated)
	assert.True(t, details.DefaultPermissions.CanChat)

	_, err = NewRoomDetails("", "standup", RoomSettings{}, RoomFeatures{})
	assert.ErrorIs(t, err, ErrUserIDEmpty)

	_, err = NewRoomDetails("host-1", strings.Repeat("x", MaxRoomNameLen+1), RoomSettings{}, RoomFeatures{})
	assert.ErrorIs(t, err, ErrRoomNameTooLong)
}

func TestProducerKindValid(t *testing.T) {
	t.Parallel()

	for _, k := range []ProducerKind{KindCamera, KindMicrophone, KindScreen, KindScreenAudio} {
		assert.True(t, k.Valid(), string(k))
	}
	assert.False(t, ProducerKind("hologram").Valid())
	assert.False(t, ProducerKind("").Valid())
}
