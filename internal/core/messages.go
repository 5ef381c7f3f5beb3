package core

import (
	"encoding/json"

	"github.com/avolkov/huddle/internal/domain"
)

// Wire message types. C-suffixed comments mark client-initiated types; the
// rest are server-initiated.
const (
	MsgClientLoaded = "client-loaded"

	MsgGetRoomDetails = "get-roomDetails" // C
	MsgRoomDetails    = "roomDetails"

	MsgSendRTPCapabilities   = "send-rtpCapabilities"   // C
	MsgDeviceRTPCapabilities = "device-rtpCapabilities" // C
	MsgRTPCapabilities       = "rtpCapabilities"

	MsgCreateTransport    = "create-transport" // C
	MsgTransportCreated   = "transport-created"
	MsgConnectTransport   = "connect-transport" // C
	MsgTransportConnected = "transport-connected"

	MsgCreateProducer       = "create-producer" // C
	MsgProducerCreated      = "producer-created"
	MsgNewProducerAvailable = "new-producer-available"
	MsgRemoveProducer       = "remove-producer" // C
	MsgRemoveConsumer       = "remove-consumer"

	MsgCreateConsumer  = "create-consumer" // C
	MsgNewConsumer     = "new-consumer"
	MsgResumeConsumer  = "resume-consumer" // C
	MsgConsumerResumed = "consumer-resumed"
	MsgSendStreams     = "send-streams" // C

	MsgExitRoom        = "exit-room" // C
	MsgRoomExited      = "room-exited"
	MsgUserExitedRoom  = "user-exited-room"
	MsgEndCall         = "end-call" // C
	MsgCallEnded       = "call-ended"
	MsgNewParticipant  = "new-participant"
	MsgRemovedFromRoom = "removed-from-room"

	MsgExternalMedia       = "external-media" // C
	MsgLoadExternalMedia   = "load-external-media"
	MsgRemoveExternalMedia = "remove-external-media" // C
	MsgUnloadExternalMedia = "unload-external-media"

	MsgChatSaveMessage  = "livechat-save-message" // C
	MsgChatNewMessage   = "livechat-new-message"
	MsgChatGetMessages  = "livechat-get-messages" // C
	MsgChatLoadMessages = "livechat-load-messages"

	MsgError = "error"
)

// Transport directions.
const (
	DirectionSend = "send"
	DirectionRecv = "recv"
)

// Closed payload variants, validated at the dispatch boundary before any
// handler logic touches them.

type deviceCapsPayload struct {
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

type rtpCapabilitiesPayload struct {
	RouterRTPCapabilities json.RawMessage `json:"routerRtpCapabilities"`
}

type createTransportPayload struct {
	Direction string `json:"direction"`
}

type transportCreatedPayload struct {
	Direction     string        `json:"direction"`
	TransportInfo TransportInfo `json:"transportInfo"`
}

type connectTransportPayload struct {
	Direction      string          `json:"direction"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

type transportConnectedPayload struct {
	TransportID string `json:"transportId"`
	Direction   string `json:"direction"`
}

type producerData struct {
	Type domain.ProducerKind `json:"type"`
}

type createProducerPayload struct {
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
	ProducerData  producerData    `json:"producerData"`
}

type producerCreatedPayload struct {
	ProducerID string `json:"producerId"`
}

type newProducerAvailablePayload struct {
	ProducerID       string              `json:"producerId"`
	ProducerUserID   domain.UserID       `json:"producerUserId"`
	Kind             string              `json:"kind"`
	ProducerType     domain.ProducerKind `json:"producerType"`
	ProducerUsername string              `json:"producerUsername"`
}

type createConsumerPayload struct {
	ProducerID       string              `json:"producerId"`
	RTPCapabilities  json.RawMessage     `json:"rtpCapabilities"`
	ProducerType     domain.ProducerKind `json:"producerType"`
	ProducerUserID   domain.UserID       `json:"producerUserId"`
	ProducerUsername string              `json:"producerUsername"`
}

type consumerAppData struct {
	Type             domain.ProducerKind `json:"type"`
	ProducerUserID   domain.UserID       `json:"producerUserId"`
	ProducerUsername string              `json:"producerUsername"`
}

type consumerOptions struct {
	ID            string          `json:"id"`
	ProducerID    string          `json:"producerId"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
	AppData       consumerAppData `json:"appData"`
}

type newConsumerPayload struct {
	ConsumerOptions consumerOptions `json:"consumerOptions"`
}

type resumeConsumerPayload struct {
	ConsumerID string `json:"consumerId"`
}

type consumerResumedPayload struct {
	ConsumerID string `json:"consumerId"`
}

type removeProducerPayload struct {
	ProducerID string              `json:"producerId"`
	Type       domain.ProducerKind `json:"type"`
}

type removeConsumerPayload struct {
	ProducerID     string              `json:"producerId,omitempty"`
	ProducerUserID domain.UserID       `json:"producerUserId,omitempty"`
	Type           domain.ProducerKind `json:"type,omitempty"`
}

type sendStreamsPayload struct {
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

type userExitedRoomPayload struct {
	ExitedUserID domain.UserID `json:"exitedUserId"`
}

type messagePayload struct {
	Message string `json:"message"`
}

type roomDetailsPayload struct {
	RoomDetails domain.RoomDetails `json:"roomDetails"`
}

type externalMediaPayload struct {
	URL string `json:"url"`
}

type chatSavePayload struct {
	Text string `json:"text"`
}

type chatMessagePayload struct {
	Message domain.ChatMessage `json:"message"`
}

type chatHistoryPayload struct {
	Messages []domain.ChatMessage `json:"messages"`
}

// NewParticipantPayload announces a fresh member to the rest of the room.
// Exported because the REST join flow broadcasts it.
type NewParticipantPayload struct {
	UserDetails domain.UserDetails `json:"userDetails"`
}
