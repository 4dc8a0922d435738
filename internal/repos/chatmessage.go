package repos

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/paperplanet/paperplanet-backend/internal/domain"
	"github.com/paperplanet/paperplanet-backend/internal/pkg/dbctx"
	"github.com/paperplanet/paperplanet-backend/internal/platform/logger"
)

type ChatMessageRepo interface {
	Create(dbc dbctx.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error)
	ListByDocument(dbc dbctx.Context, documentID uuid.UUID, limit int) ([]*domain.ChatMessage, error)
}

type chatMessageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatMessageRepo(db *gorm.DB, baseLog *logger.Logger) ChatMessageRepo {
	return &chatMessageRepo{db: db, log: baseLog.With("repo", "ChatMessageRepo")}
}

func (r *chatMessageRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *chatMessageRepo) Create(dbc dbctx.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error) {
	if msg == nil {
		return nil, errors.New("message required")
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(msg).Error; err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *chatMessageRepo) ListByDocument(dbc dbctx.Context, documentID uuid.UUID, limit int) ([]*domain.ChatMessage, error) {
	var out []*domain.ChatMessage
	if documentID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("document_id = ?", documentID).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
