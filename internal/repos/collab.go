package repos

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/paperplanet/paperplanet-backend/internal/domain"
	"github.com/paperplanet/paperplanet-backend/internal/pkg/dbctx"
	apperrors "github.com/paperplanet/paperplanet-backend/internal/pkg/errors"
	"github.com/paperplanet/paperplanet-backend/internal/platform/logger"
)

type CollabRequestRepo interface {
	Create(dbc dbctx.Context, req *domain.CollabRequest) (*domain.CollabRequest, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.CollabRequest, error)
	UpdateStatus(dbc dbctx.Context, id uuid.UUID, status string) error
	ListForReceiver(dbc dbctx.Context, receiverID uuid.UUID) ([]*domain.CollabRequest, error)
	HasPending(dbc dbctx.Context, documentID, senderID uuid.UUID) (bool, error)
}

type collabRequestRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCollabRequestRepo(db *gorm.DB, baseLog *logger.Logger) CollabRequestRepo {
	return &collabRequestRepo{db: db, log: baseLog.With("repo", "CollabRequestRepo")}
}

func (r *collabRequestRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *collabRequestRepo) Create(dbc dbctx.Context, req *domain.CollabRequest) (*domain.CollabRequest, error) {
	if req == nil {
		return nil, errors.New("request required")
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(req).Error; err != nil {
		return nil, err
	}
	return req, nil
}

func (r *collabRequestRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.CollabRequest, error) {
	var req domain.CollabRequest
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("collab request %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *collabRequestRepo) UpdateStatus(dbc dbctx.Context, id uuid.UUID, status string) error {
	if id == uuid.Nil {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&domain.CollabRequest{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
}

func (r *collabRequestRepo) ListForReceiver(dbc dbctx.Context, receiverID uuid.UUID) ([]*domain.CollabRequest, error) {
	var out []*domain.CollabRequest
	if receiverID == uuid.Nil {
		return out, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("receiver_id = ?", receiverID).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *collabRequestRepo) HasPending(dbc dbctx.Context, documentID, senderID uuid.UUID) (bool, error) {
	if documentID == uuid.Nil || senderID == uuid.Nil {
		return false, nil
	}
	var count int64
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&domain.CollabRequest{}).
		Where("document_id = ? AND sender_id = ? AND status = ?", documentID, senderID, domain.CollabPending).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
