package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/roomline/roomline/internal/backend"
	"github.com/roomline/roomline/internal/reconcile"
	"github.com/roomline/roomline/internal/session"
	logger "github.com/roomline/roomline/middleware/log"
)

// RoomHandler exposes rooms and their reconciled message lists over
// HTTP.
type RoomHandler struct {
	querier backend.Querier
	manager *session.Manager
	log     *logger.Logger
}

func NewRoomHandler(querier backend.Querier, manager *session.Manager, log *logger.Logger) *RoomHandler {
	return &RoomHandler{
		querier: querier,
		manager: manager,
		log:     log,
	}
}

// ListRooms returns the joinable rooms.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.querier.Rooms(c.Request.Context())
	if err != nil {
		h.log.ErrorContext(c.Request.Context(), "list rooms failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to list rooms",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "success",
		"data":    rooms,
	})
}

// GetMessages returns the room's current message list, establishing
// the session on first access.
func (h *RoomHandler) GetMessages(c *gin.Context) {
	roomID := c.Param("id")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "missing room id",
		})
		return
	}

	rec, err := h.manager.Open(c.Request.Context(), roomID)
	if err != nil {
		h.log.ErrorContext(c.Request.Context(), "open room failed",
			zap.String("room_id", roomID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "failed to load room",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "success",
		"data":    rec.Messages(),
	})
}

// SendMessageRequest is the POST body for SendMessage.
type SendMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// SendMessage publishes and persists a message in the room.
//
// On a durable-write failure the original text is echoed back so the
// client can restore the user's input.
func (h *RoomHandler) SendMessage(c *gin.Context) {
	roomID := c.Param("id")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "missing room id",
		})
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	rec, err := h.manager.Open(c.Request.Context(), roomID)
	if err != nil {
		h.log.ErrorContext(c.Request.Context(), "open room failed",
			zap.String("room_id", roomID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "failed to load room",
		})
		return
	}

	if err := rec.Send(c.Request.Context(), roomID, req.Message); err != nil {
		if errors.Is(err, reconcile.ErrEmptyBody) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "message body must not be blank",
			})
			return
		}

		var sendErr *reconcile.SendError
		if errors.As(err, &sendErr) {
			h.log.ErrorContext(c.Request.Context(), "durable write failed",
				zap.String("room_id", roomID), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "message could not be saved",
				"message": sendErr.Body,
			})
			return
		}

		h.log.ErrorContext(c.Request.Context(), "send failed",
			zap.String("room_id", roomID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "success",
	})
}

// CloseRoom tears down the room session.
func (h *RoomHandler) CloseRoom(c *gin.Context) {
	roomID := c.Param("id")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "missing room id",
		})
		return
	}

	h.manager.CloseRoom(roomID)

	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "success",
	})
}
