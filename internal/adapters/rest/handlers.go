package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/auth"
	"github.com/avolkov/huddle/internal/config"
	"github.com/avolkov/huddle/internal/core"
	"github.com/avolkov/huddle/internal/dispatch"
	"github.com/avolkov/huddle/internal/domain"
)

type Handlers struct {
	cfg     *config.Config
	manager *core.RoomManager
	engine  core.MediaEngine
	hub     *dispatch.Hub
	tokens  *auth.Tokens
}

type createRoomRequest struct {
	UserID   string              `json:"userId" binding:"required"`
	Username string              `json:"userName" binding:"required"`
	RoomName string              `json:"roomName"`
	Settings domain.RoomSettings `json:"settings"`
	Features domain.RoomFeatures `json:"features"`
}

type joinRoomRequest struct {
	UserID   string `json:"userId" binding:"required"`
	Username string `json:"userName" binding:"required"`
}

type leaveRoomRequest struct {
	UserID string `json:"userId" binding:"required"`
}

type endCallRequest struct {
	UserID string `json:"userId" binding:"required"`
}

type removeUserRequest struct {
	RoomID      string `json:"roomId" binding:"required"`
	UserID      string `json:"userId" binding:"required"`
	RequesterID string `json:"requesterId" binding:"required"`
}

// CreateRoom persists the room with its host member record in one durable
// step and binds a fresh media router to it. The host still joins over
// join-room like everyone else.
func (h *Handlers) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	host, err := domain.NewUserDetails(domain.UserID(req.UserID), req.Username, true)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	details, err := domain.NewRoomDetails(host.UserID, req.RoomName, req.Settings, req.Features)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roomID := domain.RoomID(uuid.NewString())
	router, err := h.engine.CreateRouter(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.rest").Msg("create router")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not allocate media resources"})
		return
	}

	if _, err := h.manager.CreateRoom(c.Request.Context(), roomID, details, host, router); err != nil {
		_ = router.Close()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create room"})
		return
	}

	resp := gin.H{"roomId": roomID, "roomDetails": details}
	if h.cfg.Auth.Enabled {
		token, err := h.tokens.Mint(host.UserID, roomID, true)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.rest").Msg("mint host token")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
			return
		}
		resp["token"] = token
	}
	c.JSON(http.StatusCreated, resp)
}

// JoinRoom attaches an identity to an existing room: the participant
// session is created, its handlers go live on the hub and the rest of the
// room learns about the new member.
func (h *Handlers) JoinRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("roomId"))
	var req joinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.manager.Room(roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	uid := domain.UserID(req.UserID)
	isHost, err := h.manager.IsUserHost(c.Request.Context(), roomID, uid)
	if err != nil && !errors.Is(err, core.ErrRoomNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read room"})
		return
	}

	// A retried join must not build a second session; the existing one
	// keeps its handlers and the response just restates the membership.
	if _, present := room.Participant(uid); present {
		h.respondJoined(c, room, uid, isHost)
		return
	}

	member, err := domain.NewUserDetails(uid, req.Username, isHost)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p := core.NewParticipant(uid, req.Username, isHost, room, h.hub)
	added, err := room.AddMember(c.Request.Context(), member, p, isHost)
	if err != nil {
		_ = p.Close(c.Request.Context())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not join room"})
		return
	}
	if !added {
		// Lost a race with a concurrent join of the same identity.
		_ = p.Close(c.Request.Context())
		h.respondJoined(c, room, uid, isHost)
		return
	}

	h.hub.Broadcast(room.OtherParticipantIDs(uid), core.MsgNewParticipant, core.NewParticipantPayload{UserDetails: member})

	h.respondJoined(c, room, uid, isHost)
}

func (h *Handlers) respondJoined(c *gin.Context, room *core.Room, uid domain.UserID, isHost bool) {
	roomID := room.ID()
	members, err := room.Members(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.rest").Str("room", string(roomID)).Msg("list members")
		members = nil
	}

	resp := gin.H{"roomId": roomID, "isHost": isHost, "members": members}
	if h.cfg.Auth.Enabled {
		token, err := h.tokens.Mint(uid, roomID, isHost)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.rest").Msg("mint token")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
			return
		}
		resp["token"] = token
	}
	c.JSON(http.StatusOK, resp)
}

// LeaveRoom is the HTTP fallback for clients whose socket is already gone.
func (h *Handlers) LeaveRoom(c *gin.Context) {
	roomID := domain.RoomID(c.Param("roomId"))
	var req leaveRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.manager.Room(roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	uid := domain.UserID(req.UserID)
	h.hub.Broadcast(room.OtherParticipantIDs(uid), core.MsgUserExitedRoom, gin.H{"exitedUserId": uid})
	room.RemoveParticipant(c.Request.Context(), uid)
	c.JSON(http.StatusOK, gin.H{"message": "room left successfully"})
}

// RemoveUserFromRoom is host-only. The target is told it was removed
// before its session is torn down so the notification can still reach a
// live connection.
func (h *Handlers) RemoveUserFromRoom(c *gin.Context) {
	var req removeUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roomID := domain.RoomID(req.RoomID)
	room, err := h.manager.Room(roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	isHost, err := h.manager.IsUserHost(c.Request.Context(), roomID, domain.UserID(req.RequesterID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read room"})
		return
	}
	if !isHost {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the host can remove users"})
		return
	}

	target := domain.UserID(req.UserID)
	h.hub.Send(target, core.MsgRemovedFromRoom, gin.H{"message": "you have been removed from the room"})
	h.hub.Broadcast(room.OtherParticipantIDs(target), core.MsgUserExitedRoom, gin.H{"exitedUserId": target})
	room.RemoveParticipant(c.Request.Context(), target)
	c.JSON(http.StatusOK, gin.H{"message": "user removed"})
}

// EndCall is the HTTP twin of the end-call signal: host-only, notifies
// everyone, then deletes the room durably and in memory.
func (h *Handlers) EndCall(c *gin.Context) {
	roomID := domain.RoomID(c.Param("roomId"))
	var req endCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	uid := domain.UserID(req.UserID)

	room, err := h.manager.Room(roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	isHost, err := h.manager.IsUserHost(c.Request.Context(), roomID, uid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read room"})
		return
	}
	if !isHost {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the host can end the call"})
		return
	}

	h.hub.Broadcast(room.AllParticipantIDs(), core.MsgCallEnded, gin.H{"message": "call has been ended by host"})
	if err := h.manager.DeleteRoom(c.Request.Context(), roomID); err != nil && !errors.Is(err, core.ErrRoomNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not end call"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "call ended"})
}
