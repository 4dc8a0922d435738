package realtime

import (
	"github.com/google/uuid"

	"github.com/paperplanet/paperplanet-backend/internal/domain"
)

// Event kinds carried on a room stream. Messages are persisted before they
// are broadcast; notices are transient.
const (
	EventMessage = "message"
	EventNotice  = "notice"
)

type Event struct {
	Type       string              `json:"type"`
	DocumentID uuid.UUID           `json:"document_id"`
	Message    *domain.ChatMessage `json:"message,omitempty"`
	Text       string              `json:"text,omitempty"`
}
