package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/domain"
)

// handleLoadExternalMedia shares a media URL with the rest of the room and
// records it on the durable room record so late joiners see it too.
func (p *Participant) handleLoadExternalMedia(ctx context.Context, _ domain.UserID, raw json.RawMessage) error {
	var pl externalMediaPayload
	if err := json.Unmarshal(raw, &pl); err != nil {
		p.sendError("BAD_PAYLOAD", "malformed external-media payload")
		return fmt.Errorf("external-media payload: %w", err)
	}
	if pl.URL == "" {
		p.sendError("EXTERNAL_MEDIA_FAILED", "external media url is empty")
		return fmt.Errorf("external media url: %w", ErrInvalidState)
	}

	p.signal.Broadcast(p.room.OtherParticipantIDs(p.userID), MsgLoadExternalMedia, externalMediaPayload{URL: pl.URL})

	if err := p.room.SaveExternalMedia(ctx, pl.URL); err != nil {
		p.sendError("EXTERNAL_MEDIA_FAILED", "could not save external media")
		return fmt.Errorf("save external media: %w", err)
	}
	log.Info().Str("module", "core.participant").Str("uid", string(p.userID)).Str("room", string(p.room.ID())).Msg("external media loaded")
	return nil
}

func (p *Participant) handleRemoveExternalMedia(ctx context.Context, _ domain.UserID, _ json.RawMessage) error {
	p.signal.Broadcast(p.room.OtherParticipantIDs(p.userID), MsgUnloadExternalMedia, nil)

	if err := p.room.ClearExternalMedia(ctx); err != nil {
		p.sendError("EXTERNAL_MEDIA_FAILED", "could not clear external media")
		return fmt.Errorf("clear external media: %w", err)
	}
	log.Info().Str("module", "core.participant").Str("uid", string(p.userID)).Str("room", string(p.room.ID())).Msg("external media removed")
	return nil
}

// handleNewChatMessage appends the message to the durable log, then fans it
// out to the rest of the room. Identity and timestamp come from the server,
// never from the payload.
func (p *Participant) handleNewChatMessage(ctx context.Context, _ domain.UserID, raw json.RawMessage) error {
	var pl chatSavePayload
	if err := json.Unmarshal(raw, &pl); err != nil {
		p.sendError("BAD_PAYLOAD", "malformed chat payload")
		return fmt.Errorf("chat payload: %w", err)
	}
	if pl.Text == "" {
		return nil
	}

	msg := domain.ChatMessage{
		UserID:   p.userID,
		Username: p.username,
		Text:     pl.Text,
		SentAt:   time.Now().UnixMilli(),
	}
	if err := p.room.AppendChat(ctx, msg); err != nil {
		p.sendError("CHAT_SAVE_FAILED", "could not save chat message")
		return fmt.Errorf("append chat: %w", err)
	}

	p.signal.Broadcast(p.room.OtherParticipantIDs(p.userID), MsgChatNewMessage, chatMessagePayload{Message: msg})
	return nil
}

func (p *Participant) handleGetChatMessages(ctx context.Context, _ domain.UserID, _ json.RawMessage) error {
	history, err := p.room.ChatHistory(ctx)
	if err != nil {
		p.sendError("CHAT_LOAD_FAILED", "could not load chat history")
		return fmt.Errorf("chat history: %w", err)
	}
	p.signal.Send(p.userID, MsgChatLoadMessages, chatHistoryPayload{Messages: history})
	return nil
}
