package app

import (
	"context"

	"github.com/google/uuid"

	"github.com/paperplanet/paperplanet-backend/internal/domain"
	"github.com/paperplanet/paperplanet-backend/internal/pkg/dbctx"
	"github.com/paperplanet/paperplanet-backend/internal/repos"
	"github.com/paperplanet/paperplanet-backend/internal/services"
)

// messageStore lets the room hub persist transcript lines without knowing
// about the repository layer.
type messageStore struct {
	repo repos.ChatMessageRepo
}

func (s messageStore) Append(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error) {
	return s.repo.Create(dbctx.New(ctx), msg)
}

// botAnswerer narrows AnswerService to the text the room bot needs.
type botAnswerer struct {
	svc *services.AnswerService
}

func (a botAnswerer) Answer(ctx context.Context, documentID uuid.UUID, question string, k int) (string, error) {
	res, err := a.svc.Answer(ctx, documentID, question, k)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}
