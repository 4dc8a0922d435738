package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/paperplanet/paperplanet-backend/internal/http/middleware"
	"github.com/paperplanet/paperplanet-backend/internal/http/response"
	"github.com/paperplanet/paperplanet-backend/internal/services"
)

type CollabHandler struct {
	collabService *services.CollabService
}

func NewCollabHandler(collabService *services.CollabService) *CollabHandler {
	return &CollabHandler{collabService: collabService}
}

func (ch *CollabHandler) Request(c *gin.Context) {
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
	req, err := ch.collabService.Request(c.Request.Context(), documentID, userID)
	if err != nil {
		status, code := statusFor(err)
		response.RespondError(c, status, code, err)
		return
	}
	response.RespondCreated(c, gin.H{"request": req})
}

func (ch *CollabHandler) Respond(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	var body struct {
		Accept bool `json:"accept"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	req, err := ch.collabService.Respond(c.Request.Context(), requestID, userID, body.Accept)
	if err != nil {
		status, code := statusFor(err)
		response.RespondError(c, status, code, err)
		return
	}
	response.RespondOK(c, gin.H{"request": req})
}

func (ch *CollabHandler) Inbox(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	reqs, err := ch.collabService.Inbox(c.Request.Context(), userID)
	if err != nil {
		status, code := statusFor(err)
		response.RespondError(c, status, code, err)
		return
	}
	response.RespondOK(c, gin.H{"requests": reqs})
}
