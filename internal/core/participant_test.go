package core_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/huddle/internal/core"
	"github.com/avolkov/huddle/internal/domain"
)

const (
	testRTPParameters   = `{"codecs":[{"mimeType":"video/VP8"}]}`
	testRTPCapabilities = `{"codecs":[{"kind":"video","mimeType":"video/VP8"}]}`
	testDTLSParameters  = `{"role":"client","fingerprints":[{"algorithm":"sha-256"}]}`
)

func setupSendTransport(t *testing.T, env *testEnv, uid domain.UserID, sock *recSocket) {
	t.Helper()
	n := sock.count(core.MsgTransportCreated)
	env.send(t, uid, core.MsgCreateTransport, `{"direction":"send"}`)
	waitFor(t, sock, core.MsgTransportCreated, n+1)
	m := sock.count(core.MsgTransportConnected)
	env.send(t, uid, core.MsgConnectTransport, `{"direction":"send","dtlsParameters":`+testDTLSParameters+`}`)
	waitFor(t, sock, core.MsgTransportConnected, m+1)
}

func setupRecvTransport(t *testing.T, env *testEnv, uid domain.UserID, sock *recSocket) {
	t.Helper()
	n := sock.count(core.MsgTransportCreated)
	env.send(t, uid, core.MsgCreateTransport, `{"direction":"recv"}`)
	waitFor(t, sock, core.MsgTransportCreated, n+1)
	m := sock.count(core.MsgTransportConnected)
	env.send(t, uid, core.MsgConnectTransport, `{"direction":"recv","dtlsParameters":`+testDTLSParameters+`}`)
	waitFor(t, sock, core.MsgTransportConnected, m+1)
}

func produceCamera(t *testing.T, env *testEnv, uid domain.UserID, sock *recSocket) string {
	t.Helper()
	n := sock.count(core.MsgProducerCreated)
	env.send(t, uid, core.MsgCreateProducer,
		`{"kind":"video","rtpParameters":`+testRTPParameters+`,"producerData":{"type":"camera"}}`)
	payload := waitFor(t, sock, core.MsgProducerCreated, n+1)
	var created struct {
		ProducerID string `json:"producerId"`
	}
	require.NoError(t, json.Unmarshal(payload, &created))
	require.NotEmpty(t, created.ProducerID)
	return created.ProducerID
}

func TestParticipantReceivesClientLoaded(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	room := env.createRoom(t, "r1", "alice", "alice")
	_, sock := env.join(t, room, "alice", "alice", true)

	assert.Equal(t, 1, sock.count(core.MsgClientLoaded))
}

func TestGetRoomDetails(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	room := env.createRoom(t, "r1", "alice", "alice")
	_, sock := env.join(t, room, "alice", "alice", true)

	env.send(t, "alice", core.MsgGetRoomDetails, "")
	payload := waitFor(t, sock, core.MsgRoomDetails, 1)

	var resp struct {
		RoomDetails domain.RoomDetails `json:"roomDetails"`
	}
	require.NoError(t, json.Unmarshal(payload, &resp))
	assert.Equal(t, "room r1", resp.RoomDetails.Name)
	assert.Equal(t, domain.UserID("alice"), resp.RoomDetails.HostID)
}

func TestRouterCapabilitiesRelayed(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	room := env.createRoom(t, "r1", "alice", "alice")
	_, sock := env.join(t, room, "alice", "alice", true)

	env.send(t, "alice", core.MsgSendRTPCapabilities, "")
	payload := waitFor(t, sock, core.MsgRTPCapabilities, 1)

	var resp struct {
		RouterRTPCapabilities json.RawMessage `json:"routerRtpCapabilities"`
	}
	require.NoError(t, json.Unmarshal(payload, &resp))
	assert.Contains(t, string(resp.RouterRTPCapabilities), "audio/opus")
}

func TestMediaNegotiationFlow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	room := env.createRoom(t, "r1", "alice", "alice")
	_, aliceSock := env.join(t, room, "alice", "alice", true)
	_, bobSock := env.join(t, room, "bob", "bob", false)

	setupSendTransport(t, env, "alice", aliceSock)
	producerID := produceCamera(t, env, "alice", aliceSock)

	// Everyone else learns about the new producer.
	payload := waitFor(t, bobSock, core.MsgNewProducerAvailable, 1)
	var avail struct {
		ProducerID     string              `json:"producerId"`
		ProducerUserID domain.UserID       `json:"producerUserId"`
		ProducerType   domain.ProducerKind `json:"producerType"`
	}
	require.NoError(t, json.Unmarshal(payload, &avail))
	assert.Equal(t, producerID, avail.ProducerID)
	assert.Equal(t, domain.UserID("alice"), avail.ProducerUserID)
	assert.Equal(t, domain.KindCamera, avail.ProducerType)

	// Bob subscribes to everything already playing.
	setupRecvTransport(t, env, "bob", bobSock)
	env.send(t, "bob", core.MsgSendStreams, `{"rtpCapabilities":`+testRTPCapabilities+`}`)
	payload = waitFor(t, bobSock, core.MsgNewConsumer, 1)

	var consumer struct {
		ConsumerOptions struct {
			ID         string `json:"id"`
			ProducerID string `json:"producerId"`
			Kind       string `json:"kind"`
			AppData    struct {
				Type           domain.ProducerKind `json:"type"`
				ProducerUserID domain.UserID       `json:"producerUserId"`
			} `json:"appData"`
		} `json:"consumerOptions"`
	}
	require.NoError(t, json.Unmarshal(payload, &consumer))
	assert.Equal(t, producerID, consumer.ConsumerOptions.ProducerID)
	assert.Equal(t, "video", consumer.ConsumerOptions.Kind)
	assert.Equal(t, domain.KindCamera, consumer.ConsumerOptions.AppData.Type)
	assert.Equal(t, domain.UserID("alice"), consumer.ConsumerOptions.AppData.ProducerUserID)

	env.send(t, "bob", core.MsgResumeConsumer, `{"consumerId":"`+consumer.ConsumerOptions.ID+`"}`)
	payload = waitFor(t, bobSock, core.MsgConsumerResumed, 1)
	var resumed struct {
		ConsumerID string `json:"consumerId"`
	}
	require.NoError(t, json.Unmarshal(payload, &resumed))
	assert.Equal(t, consumer.ConsumerOptions.ID, resumed.ConsumerID)
}

func TestCreateTransportTwiceRejected(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	room := env.createRoom(t, "r1", "alice", "alice")
	_, sock := env.join(t, room, "alice", "alice", true)

	env.send(t, "alice", core.MsgCreateTransport, `{"direction":"send"}`)
	waitFor(t, sock, core.MsgTransportCreated, 1)

	env.send(t, "alice", core.MsgCreateTransport, `{"direction":"send"}`)
	payload := waitFor(t, sock, core.MsgError, 1)

	var errPayload core.ErrorPayload
	require.NoError(t, json.Unmarshal(payload, &errPayload))
	assert.Equal(t, "SEND_TRANSPORT_ALREADY_CREATED", errPayload.Code)
	assert.Equal(t, 1, sock.count(core.MsgTransportCreated))
}

func TestInvalidTransportDirectionRejected(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	room := env.createRoom(t, "r1", "alice", "alice")
	_, sock := env.join(t, room, "alice", "alice", true)

	env.send(t, "alice", core.MsgCreateTransport, `{"direction":"sideways"}`)
	payload := waitFor(t, sock, core.MsgError, 1)

	var errPayload core.ErrorPayload
	require.NoError(t, json.Unmarshal(payload, &errPayload))
	assert.Equal(t, "INVALID_DIRECTION", errPayload.Code)
}

func TestCreateConsumerWithoutRecvTransport(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	room := env.createRoom(t, "r1", "alice", "alice")
	_, aliceSock := env.join(t, room, "alice", "alice", true)
	_, bobSock := env.join(t, room, "bob", "bob", false)

	setupSendTransport(t, env, "alice", aliceSock)
	producerID := produceCamera(t, env, "alice", aliceSock)

	env.send(t, "bob", core.MsgCreateConsumer,
		`{"producerId":"`+producerID+`","rtpCapabilities":`+testRTPCapabilities+`}`)
	payload := waitFor(t, bobSock, core.MsgError, 1)

	var errPayload core.ErrorPayload
	require.NoError(t, json.Unmarshal(payload, &errPayload))
	assert.Equal(t, "CREATE_CONSUMER_FAILED", errPayload.Code)
	assert.Zero(t, bobSock.count(core.MsgNewConsumer))
}

func TestCreateConsumerCapabilityMismatch(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	room := env.createRoom(t, "r1", "alice", "alice")
	_, aliceSock := env.join(t, room, "alice", "alice", true)
	_, bobSock := env.join(t, room, "bob", "bob", false)

	setupSendTransport(t, env, "alice", aliceSock)
	producerID := produceCamera(t, env, "alice", aliceSock)
	setupRecvTransport(t, env, "bob", bobSock)

	// Bob never announced device capabilities and sends none here, so the
	// router reports the producer as not consumable.
	env.send(t, "bob", core.MsgCreateConsumer, `{"producerId":"`+producerID+`"}`)
	payload := waitFor(t, bobSock, core.MsgError, 1)

	var errPayload core.ErrorPayload
	require.NoError(t, json.Unmarshal(payload, &errPayload))
	assert.Equal(t, "CREATE_CONSUMER_FAILED", errPayload.Code)
	assert.Zero(t, bobSock.count(core.MsgNewConsumer))
}

func TestCreateConsumerUsesCachedDeviceCapabilities(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	room := env.createRoom(t, "r1", "alice", "alice")
	_, aliceSock := env.join(t, room, "alice", "alice", true)
	_, bobSock := env.join(t, room, "bob", "bob", false)

	setupSendTransport(t, env, "alice", aliceSock)
	producerID := produceCamera(t, env, "alice", aliceSock)
	setupRecvTransport(t, env, "bob", bobSock)

	env.send(t, "bob", core.MsgDeviceRTPCapabilities, `{"rtpCapabilities":`+testRTPCapabilities+`}`)
	env.send(t, "bob", core.MsgCreateConsumer, `{"producerId":"`+producerID+`","producerType":"camera","producerUserId":"alice"}`)

	payload := waitFor(t, bobSock, core.MsgNewConsumer, 1)
	var consumer struct {
		ConsumerOptions struct {
			ProducerID string `json:"producerId"`
		} `json:"consumerOptions"`
	}
	require.NoError(t, json.Unmarshal(payload, &consumer))
	assert.Equal(t, producerID, consumer.ConsumerOptions.ProducerID)
}

func TestCameraProducerReplaced(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	room := env.createRoom(t, "r1", "alice", "alice")
	_, sock := env.join(t, room, "alice", "alice", true)

	setupSendTransport(t, env, "alice", sock)
	first := produceCamera(t, env, "alice", sock)
	second := produceCamera(t, env, "alice", sock)
	require.NotEqual(t, first, second)

	remaining := room.RemainingProducers("someone-else")
	require.Len(t, remaining, 1)
	assert.Equal(t, second, remaining[0].ProducerID)
	assert.Equal(t, domain.KindCamera, remaining[0].Kind)
}

func TestRemoveProducerNotifiesOthers(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	room := env.createRoom(t, "r1", "alice", "alice")
	_, aliceSock := env.join(t, room, "alice", "alice", true)
	_, bobSock := env.join(t, room, "bob", "bob", false)

	setupSendTransport(t, env, "alice", aliceSock)
	produceCamera(t, env, "alice", aliceSock)
	waitFor(t, bobSock, core.MsgNewProducerAvailable, 1)

	env.send(t, "alice", core.MsgRemoveProducer, `{"type":"camera"}`)
	payload := waitFor(t, bobSock, core.MsgRemoveConsumer, 1)

	var removed struct {
		ProducerUserID domain.UserID       `json:"producerUserId"`
		Type           domain.ProducerKind `json:"type"`
	}
	require.NoError(t, json.Unmarshal(payload, &removed))
	assert.Equal(t, domain.UserID("alice"), removed.ProducerUserID)
	assert.Equal(t, domain.KindCamera, removed.Type)

	assert.Empty(t, room.RemainingProducers("bob"))
}

func TestExitRoom(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	room := env.createRoom(t, "r1", "alice", "alice")
	_, aliceSock := env.join(t, room, "alice", "alice", true)
	_, bobSock := env.join(t, room, "bob", "bob", false)

	// Bob is producing so his exit must also clean up remote consumers.
	setupSendTransport(t, env, "bob", bobSock)
	produceCamera(t, env, "bob", bobSock)
	waitFor(t, aliceSock, core.MsgNewProducerAvailable, 1)

	env.send(t, "bob", core.MsgExitRoom, "")
	waitFor(t, bobSock, core.MsgRoomExited, 1)

	payload := waitFor(t, aliceSock, core.MsgUserExitedRoom, 1)
	var exited struct {
		ExitedUserID domain.UserID `json:"exitedUserId"`
	}
	require.NoError(t, json.Unmarshal(payload, &exited))
	assert.Equal(t, domain.UserID("bob"), exited.ExitedUserID)

	waitFor(t, aliceSock, core.MsgRemoveConsumer, 1)

	assert.Eventually(t, func() bool {
		_, present := room.Participant("bob")
		return !present && env.hub.HandlerCount("bob") == 0
	}, 2*time.Second, 5*time.Millisecond)

	_, found, err := env.manager.Store().Member(context.Background(), "r1", "bob")
	require.NoError(t, err)
	assert.False(t, found)

	// The room itself survives a guest leaving.
	exists, err := env.manager.RoomExists(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestEndCallByGuestRejected(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	room := env.createRoom(t, "r1", "alice", "alice")
	env.join(t, room, "alice", "alice", true)
	_, bobSock := env.join(t, room, "bob", "bob", false)

	env.send(t, "bob", core.MsgEndCall, "")
	payload := waitFor(t, bobSock, core.MsgError, 1)

	var errPayload core.ErrorPayload
	require.NoError(t, json.Unmarshal(payload, &errPayload))
	assert.Equal(t, "NOT_ALLOWED", errPayload.Code)

	_, err := env.manager.Room("r1")
	assert.NoError(t, err)
}

func TestEndCallByHost(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	room := env.createRoom(t, "r1", "alice", "alice")
	_, aliceSock := env.join(t, room, "alice", "alice", true)
	_, bobSock := env.join(t, room, "bob", "bob", false)

	env.send(t, "alice", core.MsgEndCall, "")

	// Host included: everyone gets the notification.
	waitFor(t, bobSock, core.MsgCallEnded, 1)
	waitFor(t, aliceSock, core.MsgCallEnded, 1)

	assert.Eventually(t, func() bool {
		_, err := env.manager.Room("r1")
		return err != nil
	}, 2*time.Second, 5*time.Millisecond)

	exists, err := env.manager.RoomExists(context.Background(), "r1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestChatFlow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	room := env.createRoom(t, "r1", "alice", "alice")
	_, aliceSock := env.join(t, room, "alice", "alice", true)
	_, bobSock := env.join(t, room, "bob", "bob", false)

	env.send(t, "bob", core.MsgChatSaveMessage, `{"text":"hello room"}`)
	payload := waitFor(t, aliceSock, core.MsgChatNewMessage, 1)

	var fanout struct {
		Message domain.ChatMessage `json:"message"`
	}
	require.NoError(t, json.Unmarshal(payload, &fanout))
	assert.Equal(t, domain.UserID("bob"), fanout.Message.UserID)
	assert.Equal(t, "hello room", fanout.Message.Text)

	// The sender does not get its own message echoed back.
	assert.Zero(t, bobSock.count(core.MsgChatNewMessage))

	env.send(t, "bob", core.MsgChatGetMessages, "")
	payload = waitFor(t, bobSock, core.MsgChatLoadMessages, 1)

	var history struct {
		Messages []domain.ChatMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(payload, &history))
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "hello room", history.Messages[0].Text)
}

func TestEmptyChatMessageDropped(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	room := env.createRoom(t, "r1", "alice", "alice")
	_, aliceSock := env.join(t, room, "alice", "alice", true)
	_, bobSock := env.join(t, room, "bob", "bob", false)

	env.send(t, "bob", core.MsgChatSaveMessage, `{"text":""}`)
	env.settle(t, "bob", bobSock)

	assert.Zero(t, aliceSock.count(core.MsgChatNewMessage))
	history, err := room.ChatHistory(context.Background())
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestExternalMediaFlow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	room := env.createRoom(t, "r1", "alice", "alice")
	_, aliceSock := env.join(t, room, "alice", "alice", true)
	_, bobSock := env.join(t, room, "bob", "bob", false)

	env.send(t, "alice", core.MsgExternalMedia, `{"url":"https://example.com/v"}`)
	payload := waitFor(t, bobSock, core.MsgLoadExternalMedia, 1)

	var media struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(payload, &media))
	assert.Equal(t, "https://example.com/v", media.URL)

	env.settle(t, "alice", aliceSock)
	details, err := room.Details(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/v", details.ExternalMedia)

	env.send(t, "alice", core.MsgRemoveExternalMedia, "")
	waitFor(t, bobSock, core.MsgUnloadExternalMedia, 1)

	env.settle(t, "alice", aliceSock)
	details, err = room.Details(context.Background())
	require.NoError(t, err)
	assert.Empty(t, details.ExternalMedia)
}

func TestParticipantCloseDetachesHandlers(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	room := env.createRoom(t, "r1", "alice", "alice")
	p, _ := env.join(t, room, "alice", "alice", true)

	require.Positive(t, env.hub.HandlerCount("alice"))
	require.NoError(t, p.Close(context.Background()))
	assert.Zero(t, env.hub.HandlerCount("alice"))

	// Close is idempotent.
	require.NoError(t, p.Close(context.Background()))
}
