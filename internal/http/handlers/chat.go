package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/paperplanet/paperplanet-backend/internal/http/response"
	"github.com/paperplanet/paperplanet-backend/internal/services"
)

type ChatHandler struct {
	answerService *services.AnswerService
}

func NewChatHandler(answerService *services.AnswerService) *ChatHandler {
	return &ChatHandler{answerService: answerService}
}

// Ask answers one question about the document synchronously.
func (ch *ChatHandler) Ask(c *gin.Context) {
	documentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	var req struct {
		Question string `json:"question"`
		TopK     int    `json:"top_k"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := ch.answerService.Answer(c.Request.Context(), documentID, req.Question, req.TopK)
	if err != nil {
		status, code := statusFor(err)
		response.RespondError(c, status, code, err)
		return
	}
	response.RespondOK(c, gin.H{
		"answer":  res.Text,
		"sources": res.Sources,
	})
}
