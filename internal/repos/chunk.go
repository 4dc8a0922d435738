package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/paperplanet/paperplanet-backend/internal/domain"
	"github.com/paperplanet/paperplanet-backend/internal/pkg/dbctx"
	"github.com/paperplanet/paperplanet-backend/internal/platform/logger"
)

type ChunkRepo interface {
	Create(dbc dbctx.Context, chunks []*domain.Chunk) ([]*domain.Chunk, error)
	GetByDocumentID(dbc dbctx.Context, documentID uuid.UUID) ([]*domain.Chunk, error)
	DeleteByDocumentID(dbc dbctx.Context, documentID uuid.UUID) error
	// ReplaceForDocument swaps a document's entire chunk set inside one
	// transaction so a failed run never leaves a partial mix of old and
	// new chunks behind.
	ReplaceForDocument(dbc dbctx.Context, documentID uuid.UUID, chunks []*domain.Chunk) error
	ListDocumentIDs(dbc dbctx.Context) ([]uuid.UUID, error)
}

type chunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChunkRepo(db *gorm.DB, baseLog *logger.Logger) ChunkRepo {
	return &chunkRepo{db: db, log: baseLog.With("repo", "ChunkRepo")}
}

func (r *chunkRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *chunkRepo) Create(dbc dbctx.Context, chunks []*domain.Chunk) ([]*domain.Chunk, error) {
	if len(chunks) == 0 {
		return []*domain.Chunk{}, nil
	}

	// Keep batches small because Text is large.
	const batchSize = 100

	if err := r.handle(dbc).WithContext(dbc.Ctx).CreateInBatches(chunks, batchSize).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *chunkRepo) GetByDocumentID(dbc dbctx.Context, documentID uuid.UUID) ([]*domain.Chunk, error) {
	var out []*domain.Chunk
	if documentID == uuid.Nil {
		return out, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("document_id = ?", documentID).
		// index is a reserved word, let the dialect quote it.
		Order(clause.OrderByColumn{Column: clause.Column{Name: "index"}}).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chunkRepo) DeleteByDocumentID(dbc dbctx.Context, documentID uuid.UUID) error {
	if documentID == uuid.Nil {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Where("document_id = ?", documentID).
		Delete(&domain.Chunk{}).Error
}

func (r *chunkRepo) ReplaceForDocument(dbc dbctx.Context, documentID uuid.UUID, chunks []*domain.Chunk) error {
	if documentID == uuid.Nil {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.WithTx(dbc.Ctx, tx)
		if err := r.DeleteByDocumentID(txc, documentID); err != nil {
			return err
		}
		_, err := r.Create(txc, chunks)
		return err
	})
}

func (r *chunkRepo) ListDocumentIDs(dbc dbctx.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&domain.Chunk{}).
		Distinct("document_id").
		Pluck("document_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
