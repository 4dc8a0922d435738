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

type DocumentRepo interface {
	Create(dbc dbctx.Context, doc *domain.Document) (*domain.Document, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Document, error)
	ListFeed(dbc dbctx.Context, limit, offset int) ([]*domain.Document, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*domain.Document, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	IncrementViews(dbc dbctx.Context, id uuid.UUID) error
	GetRawData(dbc dbctx.Context, id uuid.UUID) ([]byte, error)
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return &documentRepo{db: db, log: baseLog.With("repo", "DocumentRepo")}
}

func (r *documentRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *documentRepo) Create(dbc dbctx.Context, doc *domain.Document) (*domain.Document, error) {
	if doc == nil {
		return nil, errors.New("document required")
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(doc).Error; err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *documentRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Document, error) {
	var doc domain.Document
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Omit("raw_data").
		Where("id = ?", id).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("document %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepo) ListFeed(dbc dbctx.Context, limit, offset int) ([]*domain.Document, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	var out []*domain.Document
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Omit("raw_data").
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *documentRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*domain.Document, error) {
	var out []*domain.Document
	if userID == uuid.Nil {
		return out, nil
	}
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Omit("raw_data").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *documentRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&domain.Document{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *documentRepo) IncrementViews(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&domain.Document{}).
		Where("id = ?", id).
		UpdateColumn("views", gorm.Expr("views + 1")).Error
}

func (r *documentRepo) GetRawData(dbc dbctx.Context, id uuid.UUID) ([]byte, error) {
	var doc domain.Document
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Select("id", "raw_data").
		Where("id = ?", id).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("document %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return doc.RawData, nil
}
