package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/paperplanet/paperplanet-backend/internal/domain"
	"github.com/paperplanet/paperplanet-backend/internal/pkg/dbctx"
	apperrors "github.com/paperplanet/paperplanet-backend/internal/pkg/errors"
	"github.com/paperplanet/paperplanet-backend/internal/platform/logger"
	"github.com/paperplanet/paperplanet-backend/internal/repos"
)

// CollabService handles collaboration requests between a document's owner
// and other users.
type CollabService struct {
	log        *logger.Logger
	collabRepo repos.CollabRequestRepo
	docRepo    repos.DocumentRepo
}

func NewCollabService(log *logger.Logger, collabRepo repos.CollabRequestRepo, docRepo repos.DocumentRepo) *CollabService {
	return &CollabService{
		log:        log.With("service", "CollabService"),
		collabRepo: collabRepo,
		docRepo:    docRepo,
	}
}

// Request records a pending collaboration request from senderID to the
// document's owner. Duplicate pending requests are rejected.
func (s *CollabService) Request(ctx context.Context, documentID, senderID uuid.UUID) (*domain.CollabRequest, error) {
	dbc := dbctx.New(ctx)
	doc, err := s.docRepo.GetByID(dbc, documentID)
	if err != nil {
		return nil, err
	}
	if doc.UserID == senderID {
		return nil, fmt.Errorf("%w: cannot request collaboration on your own document", apperrors.ErrInvalidArgument)
	}
	pending, err := s.collabRepo.HasPending(dbc, documentID, senderID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, fmt.Errorf("%w: request already pending", apperrors.ErrConflict)
	}
	req, err := s.collabRepo.Create(dbc, &domain.CollabRequest{
		ID:         uuid.New(),
		DocumentID: documentID,
		SenderID:   senderID,
		ReceiverID: doc.UserID,
		Status:     domain.CollabPending,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Collab request created", "document_id", documentID.String(), "sender_id", senderID.String())
	return req, nil
}

// Respond lets the receiver accept or reject a pending request.
func (s *CollabService) Respond(ctx context.Context, requestID, userID uuid.UUID, accept bool) (*domain.CollabRequest, error) {
	dbc := dbctx.New(ctx)
	req, err := s.collabRepo.GetByID(dbc, requestID)
	if err != nil {
		return nil, err
	}
	if req.ReceiverID != userID {
		return nil, apperrors.ErrUnauthorized
	}
	if req.Status != domain.CollabPending {
		return nil, fmt.Errorf("%w: request already %s", apperrors.ErrConflict, req.Status)
	}
	status := domain.CollabRejected
	if accept {
		status = domain.CollabAccepted
	}
	if err := s.collabRepo.UpdateStatus(dbc, requestID, status); err != nil {
		return nil, err
	}
	req.Status = status
	return req, nil
}

// Inbox lists requests addressed to userID.
func (s *CollabService) Inbox(ctx context.Context, userID uuid.UUID) ([]*domain.CollabRequest, error) {
	return s.collabRepo.ListForReceiver(dbctx.New(ctx), userID)
}
