// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"
	"time"
)

const (
	MaxUserIDLen   = 36
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUserIDEmpty     = errors.New("user id empty")
)

type UserID string

// MemberPermissions is stored per member record. Host-only capabilities
// default to true for the host and false for everyone else.
type MemberPermissions struct {
	CanShareVideo  bool `json:"canShareVideo"`
	CanShareScreen bool `json:"canShareScreen"`
	CanChat        bool `json:"canChat"`
	CanMuteOthers  bool `json:"canMuteOthers"`
	CanKick        bool `json:"canKick"`
	CanPausePlay   bool `json:"canPausePlay"`
}

// UserDetails is the durable member record. One exists in the store iff
// the user is currently a member of the room.
type UserDetails struct {
	UserID      UserID            `json:"userId"`
	Username    string            `json:"userName"`
	IsHost      bool              `json:"isHost"`
	JoinedAt    int64             `json:"joinedAt"`
	Permissions MemberPermissions `json:"permissions"`
}

// NewUserDetails avoids raw literals in adapters and keeps construction obvious.
func NewUserDetails(userID UserID, username string, isHost bool) (UserDetails, error) {
	if userID == "" {
		return UserDetails{}, ErrUserIDEmpty
	}
	if len(username) == 0 {
		return UserDetails{}, ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return UserDetails{}, ErrUsernameTooLong
	}
	return UserDetails{
		UserID:   userID,
		Username: username,
		IsHost:   isHost,
		JoinedAt: time.Now().UnixMilli(),
		Permissions: MemberPermissions{
			CanShareVideo:  isHost,
			CanShareScreen: isHost,
			CanChat:        true,
			CanMuteOthers:  isHost,
			CanKick:        isHost,
			CanPausePlay:   isHost,
		},
	}, nil
}
