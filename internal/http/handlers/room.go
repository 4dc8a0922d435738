package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/paperplanet/paperplanet-backend/internal/http/middleware"
	"github.com/paperplanet/paperplanet-backend/internal/http/response"
	"github.com/paperplanet/paperplanet-backend/internal/realtime"
)

type RoomHandler struct {
	hub *realtime.Hub
}

func NewRoomHandler(hub *realtime.Hub) *RoomHandler {
	return &RoomHandler{hub: hub}
}

// Stream joins the document's room and holds the SSE connection open until
// the client disconnects.
func (rh *RoomHandler) Stream(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	documentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	room := rh.hub.Room(documentID)
	client := room.Join(userID)
	defer room.Leave(client)

	rh.hub.ServeSSE(c.Writer, c.Request, client)
}

// Post submits a message to the room. A reply mentioning the bot also
// triggers an assistant answer, delivered on the stream.
func (rh *RoomHandler) Post(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	documentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	room := rh.hub.Room(documentID)
	if err := room.Post(c.Request.Context(), userID, req.Text); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}
