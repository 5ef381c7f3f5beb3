package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/domain"
)

// handleCreateProducer opens an outbound media channel. At most one
// producer exists per logical kind; a repeat create for the same kind
// replaces the previous channel. Other participants are told a new
// producer is available.
func (p *Participant) handleCreateProducer(ctx context.Context, _ domain.UserID, raw json.RawMessage) error {
	var pl createProducerPayload
	if err := json.Unmarshal(raw, &pl); err != nil {
		p.sendError("BAD_PAYLOAD", "malformed create-producer payload")
		return fmt.Errorf("create-producer payload: %w", err)
	}
	if !pl.ProducerData.Type.Valid() {
		p.sendError("PRODUCE_MEDIA_ERROR", "unknown producer type")
		return fmt.Errorf("producer type %q: %w", pl.ProducerData.Type, ErrInvalidState)
	}

	p.mu.Lock()
	transport := p.sendTransport
	p.mu.Unlock()
	if transport == nil {
		p.sendError("PRODUCE_MEDIA_ERROR", "send transport is not initialized")
		return fmt.Errorf("create producer: %w", ErrTransportNotInitialized)
	}

	producer, err := transport.Produce(ctx, pl.Kind, pl.RTPParameters)
	if err != nil {
		p.sendError("PRODUCE_MEDIA_ERROR", "couldn't produce the media")
		return fmt.Errorf("produce %s: %w", pl.ProducerData.Type, err)
	}

	kind := pl.ProducerData.Type
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = producer.Close()
		return ErrSessionClosed
	}
	stale := p.producers[kind]
	p.producers[kind] = producer
	p.mu.Unlock()
	if stale != nil {
		// Replaced channel of the same kind; the old reference is gone.
		_ = stale.Close()
	}

	// When the engine closes the transport underneath us, drop the channel
	// and tell the others to drop their matching consumers.
	transport.OnClose(func() {
		p.dropProducer(kind, producer.ID())
	})

	p.signal.Send(p.userID, MsgProducerCreated, producerCreatedPayload{ProducerID: producer.ID()})
	p.signal.Broadcast(p.room.OtherParticipantIDs(p.userID), MsgNewProducerAvailable, newProducerAvailablePayload{
		ProducerID:       producer.ID(),
		ProducerUserID:   p.userID,
		Kind:             producer.Kind(),
		ProducerType:     kind,
		ProducerUsername: p.username,
	})
	log.Info().Str("module", "core.participant").Str("uid", string(p.userID)).Str("kind", string(kind)).Str("producer", producer.ID()).Msg("producer created")
	return nil
}

// dropProducer removes the channel if it is still the one created under
// this kind; stale callbacks for replaced producers are no-ops.
func (p *Participant) dropProducer(kind domain.ProducerKind, producerID string) {
	p.mu.Lock()
	producer, ok := p.producers[kind]
	if !ok || producer.ID() != producerID {
		p.mu.Unlock()
		return
	}
	delete(p.producers, kind)
	p.mu.Unlock()

	p.signal.Broadcast(p.room.OtherParticipantIDs(p.userID), MsgRemoveConsumer, removeConsumerPayload{
		ProducerID:     producerID,
		ProducerUserID: p.userID,
		Type:           kind,
	})
	log.Info().Str("module", "core.participant").Str("uid", string(p.userID)).Str("kind", string(kind)).Str("producer", producerID).Msg("producer dropped")
}

func (p *Participant) handleRemoveProducer(_ context.Context, _ domain.UserID, raw json.RawMessage) error {
	var pl removeProducerPayload
	if err := json.Unmarshal(raw, &pl); err != nil {
		p.sendError("BAD_PAYLOAD", "malformed remove-producer payload")
		return fmt.Errorf("remove-producer payload: %w", err)
	}

	p.mu.Lock()
	producer, ok := p.producers[pl.Type]
	if ok && pl.ProducerID != "" && producer.ID() != pl.ProducerID {
		// Stale request naming an already-replaced channel.
		ok = false
	}
	if ok {
		delete(p.producers, pl.Type)
	}
	p.mu.Unlock()

	if ok {
		_ = producer.Close()
	}
	p.signal.Broadcast(p.room.OtherParticipantIDs(p.userID), MsgRemoveConsumer, removeConsumerPayload{
		ProducerUserID: p.userID,
		Type:           pl.Type,
	})
	log.Info().Str("module", "core.participant").Str("uid", string(p.userID)).Str("kind", string(pl.Type)).Msg("producer removed")
	return nil
}

func (p *Participant) handleCreateConsumer(ctx context.Context, _ domain.UserID, raw json.RawMessage) error {
	var pl createConsumerPayload
	if err := json.Unmarshal(raw, &pl); err != nil {
		p.sendError("BAD_PAYLOAD", "malformed create-consumer payload")
		return fmt.Errorf("create-consumer payload: %w", err)
	}
	return p.consume(ctx, pl)
}

// consume opens an inbound channel for one remote producer. Consumers are
// created paused; the client resumes them once its side is wired up.
func (p *Participant) consume(ctx context.Context, pl createConsumerPayload) error {
	p.mu.Lock()
	transport := p.recvTransport
	caps := pl.RTPCapabilities
	if len(caps) == 0 {
		caps = p.deviceCaps
	}
	p.mu.Unlock()
	if transport == nil {
		p.sendError("CREATE_CONSUMER_FAILED", "recv transport is not initialized")
		return fmt.Errorf("create consumer: %w", ErrTransportNotInitialized)
	}

	if !p.room.Router().CanConsume(pl.ProducerID, caps) {
		p.sendError("CREATE_CONSUMER_FAILED", "client cannot consume this producer")
		return fmt.Errorf("producer %s not consumable for %s: %w", pl.ProducerID, p.userID,
			&MediaEngineError{Code: "CANNOT_CONSUME", Err: ErrInvalidState})
	}

	consumer, err := transport.Consume(ctx, pl.ProducerID, caps)
	if err != nil {
		p.sendError("CREATE_CONSUMER_FAILED", "error while creating the consumer")
		return fmt.Errorf("consume producer %s: %w", pl.ProducerID, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = consumer.Close()
		return ErrSessionClosed
	}
	p.consumers[consumer.ID()] = consumer
	p.mu.Unlock()

	p.signal.Send(p.userID, MsgNewConsumer, newConsumerPayload{
		ConsumerOptions: consumerOptions{
			ID:            consumer.ID(),
			ProducerID:    consumer.ProducerID(),
			Kind:          consumer.Kind(),
			RTPParameters: consumer.RTPParameters(),
			AppData: consumerAppData{
				Type:             pl.ProducerType,
				ProducerUserID:   pl.ProducerUserID,
				ProducerUsername: pl.ProducerUsername,
			},
		},
	})
	log.Info().Str("module", "core.participant").Str("uid", string(p.userID)).Str("consumer", consumer.ID()).Str("producer", pl.ProducerID).Msg("consumer created")
	return nil
}

func (p *Participant) handleResumeConsumer(ctx context.Context, _ domain.UserID, raw json.RawMessage) error {
	var pl resumeConsumerPayload
	if err := json.Unmarshal(raw, &pl); err != nil {
		p.sendError("BAD_PAYLOAD", "malformed resume-consumer payload")
		return fmt.Errorf("resume-consumer payload: %w", err)
	}

	p.mu.Lock()
	consumer, ok := p.consumers[pl.ConsumerID]
	p.mu.Unlock()
	if !ok {
		p.sendError("CONSUMER_NOT_FOUND", "consumer not found")
		return fmt.Errorf("consumer %s: %w", pl.ConsumerID, ErrConsumerNotFound)
	}

	if err := consumer.Resume(ctx); err != nil {
		p.sendError("RESUME_CONSUMER_FAILED", "failed to resume consumer")
		return fmt.Errorf("resume consumer %s: %w", pl.ConsumerID, err)
	}

	p.signal.Send(p.userID, MsgConsumerResumed, consumerResumedPayload{ConsumerID: consumer.ID()})
	return nil
}

// handleSendStreams subscribes this participant to every outbound channel
// the rest of the room is already producing, one consumer at a time.
func (p *Participant) handleSendStreams(ctx context.Context, _ domain.UserID, raw json.RawMessage) error {
	var pl sendStreamsPayload
	if err := json.Unmarshal(raw, &pl); err != nil {
		p.sendError("BAD_PAYLOAD", "malformed send-streams payload")
		return fmt.Errorf("send-streams payload: %w", err)
	}

	remaining := p.room.RemainingProducers(p.userID)
	if len(remaining) == 0 {
		log.Debug().Str("module", "core.participant").Str("uid", string(p.userID)).Msg("no remote producers to subscribe to")
		return nil
	}

	for _, remote := range remaining {
		err := p.consume(ctx, createConsumerPayload{
			ProducerID:       remote.ProducerID,
			RTPCapabilities:  pl.RTPCapabilities,
			ProducerType:     remote.Kind,
			ProducerUserID:   remote.OwnerID,
			ProducerUsername: remote.OwnerName,
		})
		if err != nil {
			return fmt.Errorf("subscribe to producer %s: %w", remote.ProducerID, err)
		}
	}
	return nil
}

// producersSnapshot lists this session's outbound channels for room-level
// queries.
func (p *Participant) producersSnapshot() []RemoteProducer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]RemoteProducer, 0, len(p.producers))
	for kind, producer := range p.producers {
		out = append(out, RemoteProducer{
			ProducerID: producer.ID(),
			Kind:       kind,
			MediaKind:  producer.Kind(),
			OwnerID:    p.userID,
			OwnerName:  p.username,
		})
	}
	return out
}
