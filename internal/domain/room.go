package domain

import (
	"errors"
	"time"
)

const MaxRoomNameLen = 64

var ErrRoomNameTooLong = errors.New("room name too long")

type RoomID string

// ProducerKind is the logical kind of an outbound media channel.
// A participant holds at most one producer per kind.
type ProducerKind string

const (
	KindCamera      ProducerKind = "camera"
	KindMicrophone  ProducerKind = "microphone"
	KindScreen      ProducerKind = "screen"
	KindScreenAudio ProducerKind = "screen-audio"
)

func (k ProducerKind) Valid() bool {
	switch k {
	case KindCamera, KindMicrophone, KindScreen, KindScreenAudio:
		return true
	}
	return false
}

type AllowedMedia struct {
	Video  bool `json:"video"`
	Audio  bool `json:"audio"`
	Screen bool `json:"screen"`
}

type RoomSettings struct {
	MaxParticipants int          `json:"maxParticipants"`
	AllowedMedia    AllowedMedia `json:"allowedMedia"`
	DefaultMuted    bool         `json:"defaultMuted"`
	Quality         string       `json:"quality"`
}

type RoomFeatures struct {
	Chat      bool `json:"chat"`
	Reactions bool `json:"reactions"`
}

type DefaultPermissions struct {
	CanShareVideo  bool `json:"canShareVideo"`
	CanShareScreen bool `json:"canShareScreen"`
	CanChat        bool `json:"canChat"`
	CanReact       bool `json:"canReact"`
}

// RoomDetails is the durable room record.
type RoomDetails struct {
	HostID             UserID             `json:"hostId"`
	Name               string             `json:"name"`
	DateCreated        int64              `json:"dateCreated"`
	Active             bool               `json:"active"`
	Settings           RoomSettings       `json:"settings"`
	Features           RoomFeatures       `json:"features"`
	DefaultPermissions DefaultPermissions `json:"defaultPermissions"`
	ParticipantCount   int                `json:"participantCount"`
	StartedAt          int64              `json:"startedAt,omitempty"`
	EndedAt            int64              `json:"endedAt,omitempty"`
	ExternalMedia      string             `json:"externalMedia,omitempty"`
}

func NewRoomDetails(hostID UserID, name string, settings RoomSettings, features RoomFeatures) (RoomDetails, error) {
	if hostID == "" {
		return RoomDetails{}, ErrUserIDEmpty
	}
	if len(name) > MaxRoomNameLen {
		return RoomDetails{}, ErrRoomNameTooLong
	}
	now := time.Now().UnixMilli()
	return RoomDetails{
		HostID:      hostID,
		Name:        name,
		DateCreated: now,
		Active:      true,
		Settings:    settings,
		Features:    features,
		DefaultPermissions: DefaultPermissions{
			CanShareVideo:  true,
			CanShareScreen: true,
			CanChat:        true,
			CanReact:       true,
		},
		StartedAt: now,
	}, nil
}
