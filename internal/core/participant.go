package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/domain"
)

// Participant is the server-side state and resource set for one joined
// connection. Its handlers run on the owner identity's serialized queue;
// the room-level removal path may close it concurrently, so every
// mutation tolerates "already removed" and Close is idempotent.
type Participant struct {
	userID   domain.UserID
	username string
	isHost   bool
	room     *Room
	signal   Signaler

	mu            sync.Mutex
	closed        bool
	deviceCaps    json.RawMessage
	sendTransport MediaTransport
	recvTransport MediaTransport
	producers     map[domain.ProducerKind]MediaProducer
	consumers     map[string]MediaConsumer
	subs          []subRef
}

type subRef struct {
	msgType string
	id      HandlerID
}

// NewParticipant builds the session, attaches its handlers to the hub and
// tells the client it is ready.
func NewParticipant(uid domain.UserID, username string, isHost bool, room *Room, signal Signaler) *Participant {
	p := &Participant{
		userID:    uid,
		username:  username,
		isHost:    isHost,
		room:      room,
		signal:    signal,
		producers: make(map[domain.ProducerKind]MediaProducer),
		consumers: make(map[string]MediaConsumer),
	}
	p.attachHandlers()
	log.Debug().Str("module", "core.participant").Str("uid", string(uid)).Str("username", username).Bool("host", isHost).Msg("participant created")
	p.signal.Send(p.userID, MsgClientLoaded, nil)
	return p
}

func (p *Participant) UserID() domain.UserID { return p.userID }
func (p *Participant) Username() string      { return p.username }
func (p *Participant) IsHost() bool          { return p.isHost }

func (p *Participant) attachHandlers() {
	p.on(MsgGetRoomDetails, p.handleGetRoomDetails)
	p.on(MsgSendRTPCapabilities, p.handleGetRTPCapabilities)
	p.on(MsgDeviceRTPCapabilities, p.handleDeviceRTPCapabilities)
	p.on(MsgCreateTransport, p.handleCreateTransport)
	p.on(MsgConnectTransport, p.handleConnectTransport)
	p.on(MsgCreateProducer, p.handleCreateProducer)
	p.on(MsgCreateConsumer, p.handleCreateConsumer)
	p.on(MsgSendStreams, p.handleSendStreams)
	p.on(MsgResumeConsumer, p.handleResumeConsumer)
	p.on(MsgRemoveProducer, p.handleRemoveProducer)
	p.on(MsgExitRoom, p.handleExitRoom)
	p.on(MsgEndCall, p.handleEndCall)
	p.on(MsgExternalMedia, p.handleLoadExternalMedia)
	p.on(MsgRemoveExternalMedia, p.handleRemoveExternalMedia)
	p.on(MsgChatSaveMessage, p.handleNewChatMessage)
	p.on(MsgChatGetMessages, p.handleGetChatMessages)
}

func (p *Participant) on(msgType string, fn HandlerFunc) {
	id := p.signal.On(p.userID, msgType, fn)
	p.subs = append(p.subs, subRef{msgType: msgType, id: id})
}

func (p *Participant) sendError(code, message string) {
	p.signal.Send(p.userID, MsgError, ErrorPayload{Code: code, Message: message})
}

func (p *Participant) handleGetRoomDetails(ctx context.Context, _ domain.UserID, _ json.RawMessage) error {
	details, err := p.room.Details(ctx)
	if err != nil {
		p.sendError("ROOM_DETAILS_FAILED", "could not load room details")
		return err
	}
	p.signal.Send(p.userID, MsgRoomDetails, roomDetailsPayload{RoomDetails: details})
	return nil
}

func (p *Participant) handleGetRTPCapabilities(_ context.Context, _ domain.UserID, _ json.RawMessage) error {
	p.signal.Send(p.userID, MsgRTPCapabilities, rtpCapabilitiesPayload{
		RouterRTPCapabilities: p.room.Router().RTPCapabilities(),
	})
	return nil
}

// handleDeviceRTPCapabilities caches the client's negotiated capabilities;
// an overwrite is fine, the latest announcement wins.
func (p *Participant) handleDeviceRTPCapabilities(_ context.Context, _ domain.UserID, raw json.RawMessage) error {
	var pl deviceCapsPayload
	if err := json.Unmarshal(raw, &pl); err != nil {
		p.sendError("BAD_PAYLOAD", "malformed device capabilities")
		return fmt.Errorf("device capabilities payload: %w", err)
	}
	if len(pl.RTPCapabilities) == 0 {
		log.Warn().Str("module", "core.participant").Str("uid", string(p.userID)).Msg("empty device capabilities")
		return nil
	}
	p.mu.Lock()
	p.deviceCaps = pl.RTPCapabilities
	p.mu.Unlock()
	return nil
}

func (p *Participant) handleCreateTransport(ctx context.Context, _ domain.UserID, raw json.RawMessage) error {
	var pl createTransportPayload
	if err := json.Unmarshal(raw, &pl); err != nil {
		p.sendError("BAD_PAYLOAD", "malformed create-transport payload")
		return fmt.Errorf("create-transport payload: %w", err)
	}
	if pl.Direction != DirectionSend && pl.Direction != DirectionRecv {
		p.sendError("INVALID_DIRECTION", "transport direction must be send or recv")
		return fmt.Errorf("direction %q: %w", pl.Direction, ErrInvalidState)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrSessionClosed
	}
	if p.transportLocked(pl.Direction) != nil {
		p.mu.Unlock()
		p.sendError(errCode(pl.Direction, "TRANSPORT_ALREADY_CREATED"), "transport for this direction already exists")
		return fmt.Errorf("%s transport already created: %w", pl.Direction, ErrInvalidState)
	}
	p.mu.Unlock()

	transport, err := p.room.Router().CreateTransport(ctx)
	if err != nil {
		p.sendError(errCode(pl.Direction, "TRANSPORT_CREATE_FAILED"), "error while creating the "+pl.Direction+" transport")
		return fmt.Errorf("create %s transport: %w", pl.Direction, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = transport.Close()
		return ErrSessionClosed
	}
	if pl.Direction == DirectionRecv {
		p.recvTransport = transport
	} else {
		p.sendTransport = transport
	}
	p.mu.Unlock()

	p.signal.Send(p.userID, MsgTransportCreated, transportCreatedPayload{
		Direction:     pl.Direction,
		TransportInfo: transport.Info(),
	})
	log.Info().Str("module", "core.participant").Str("uid", string(p.userID)).Str("direction", pl.Direction).Str("transport", transport.ID()).Msg("transport created")
	return nil
}

func (p *Participant) handleConnectTransport(ctx context.Context, _ domain.UserID, raw json.RawMessage) error {
	var pl connectTransportPayload
	if err := json.Unmarshal(raw, &pl); err != nil {
		p.sendError("BAD_PAYLOAD", "malformed connect-transport payload")
		return fmt.Errorf("connect-transport payload: %w", err)
	}

	p.mu.Lock()
	transport := p.transportLocked(pl.Direction)
	p.mu.Unlock()
	if transport == nil {
		p.sendError(errCode(pl.Direction, "TRANSPORT_CONNECT_FAILED"), "transport for this direction is not initialized")
		return fmt.Errorf("%s transport: %w", pl.Direction, ErrTransportNotInitialized)
	}

	if err := transport.Connect(ctx, pl.DTLSParameters); err != nil {
		p.sendError(errCode(pl.Direction, "TRANSPORT_CONNECT_FAILED"), "error while connecting the "+pl.Direction+" transport")
		return fmt.Errorf("connect %s transport: %w", pl.Direction, err)
	}

	p.signal.Send(p.userID, MsgTransportConnected, transportConnectedPayload{
		TransportID: transport.ID(),
		Direction:   pl.Direction,
	})
	log.Info().Str("module", "core.participant").Str("uid", string(p.userID)).Str("direction", pl.Direction).Msg("transport connected")
	return nil
}

// transportLocked returns the slot for a direction; caller holds p.mu.
func (p *Participant) transportLocked(direction string) MediaTransport {
	if direction == DirectionRecv {
		return p.recvTransport
	}
	return p.sendTransport
}

func errCode(direction, suffix string) string {
	return strings.ToUpper(direction) + "_" + suffix
}

func (p *Participant) handleExitRoom(ctx context.Context, _ domain.UserID, _ json.RawMessage) error {
	log.Info().Str("module", "core.participant").Str("uid", string(p.userID)).Str("room", string(p.room.ID())).Msg("exiting room")

	p.signal.Broadcast(p.room.OtherParticipantIDs(p.userID), MsgUserExitedRoom, userExitedRoomPayload{
		ExitedUserID: p.userID,
	})
	p.signal.Send(p.userID, MsgRoomExited, messagePayload{Message: "room exited successfully"})

	p.room.RemoveParticipant(ctx, p.userID)
	return nil
}

// handleEndCall is host-only: notify every participant, then close the
// whole room (cascading teardown plus durable deletion).
func (p *Participant) handleEndCall(ctx context.Context, _ domain.UserID, _ json.RawMessage) error {
	if !p.isHost {
		p.sendError("NOT_ALLOWED", "you don't have permission to execute that operation")
		return fmt.Errorf("end-call by non-host %s: %w", p.userID, ErrNotAllowed)
	}

	log.Info().Str("module", "core.participant").Str("uid", string(p.userID)).Str("room", string(p.room.ID())).Msg("host ending call")
	p.signal.Broadcast(p.room.AllParticipantIDs(), MsgCallEnded, messagePayload{Message: "call has been ended by host"})

	if err := p.room.Close(ctx); err != nil && !errors.Is(err, ErrRoomNotFound) {
		return fmt.Errorf("end call: %w", err)
	}
	return nil
}

// Close releases every resource this session owns and detaches its
// handlers from the hub. Idempotent; later calls return nil.
func (p *Participant) Close(_ context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	producers := p.producers
	consumers := p.consumers
	sendTransport := p.sendTransport
	recvTransport := p.recvTransport
	subs := p.subs
	p.producers = make(map[domain.ProducerKind]MediaProducer)
	p.consumers = make(map[string]MediaConsumer)
	p.sendTransport = nil
	p.recvTransport = nil
	p.subs = nil
	p.mu.Unlock()

	others := p.room.OtherParticipantIDs(p.userID)
	var errs []error
	for kind, producer := range producers {
		if err := producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close producer %s: %w", producer.ID(), err))
		}
		p.signal.Broadcast(others, MsgRemoveConsumer, removeConsumerPayload{
			ProducerID:     producer.ID(),
			ProducerUserID: p.userID,
			Type:           kind,
		})
	}
	for _, consumer := range consumers {
		if err := consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close consumer %s: %w", consumer.ID(), err))
		}
	}
	if sendTransport != nil {
		if err := sendTransport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close send transport: %w", err))
		}
	}
	if recvTransport != nil {
		if err := recvTransport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close recv transport: %w", err))
		}
	}
	for _, sub := range subs {
		p.signal.Off(p.userID, sub.msgType, sub.id)
	}

	log.Info().Str("module", "core.participant").Str("uid", string(p.userID)).Msg("participant closed")
	return errors.Join(errs...)
}
