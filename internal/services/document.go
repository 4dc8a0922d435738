package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/paperplanet/paperplanet-backend/internal/domain"
	"github.com/paperplanet/paperplanet-backend/internal/pkg/dbctx"
	apperrors "github.com/paperplanet/paperplanet-backend/internal/pkg/errors"
	"github.com/paperplanet/paperplanet-backend/internal/platform/logger"
	"github.com/paperplanet/paperplanet-backend/internal/repos"
)

const maxUploadBytes = 32 << 20

// UploadInput carries one uploaded file plus its metadata.
type UploadInput struct {
	UserID       uuid.UUID
	Title        string
	OriginalName string
	MimeType     string
	Data         []byte
}

// DocumentService covers the document lifecycle outside the ingestion
// pipeline itself: upload and enqueue, feed listing, detail reads and the
// persisted room transcript.
type DocumentService struct {
	db       *gorm.DB
	log      *logger.Logger
	docRepo  repos.DocumentRepo
	msgRepo  repos.ChatMessageRepo
	jobRepo  repos.JobRunRepo
	blobs    BlobStore
}

func NewDocumentService(
	db *gorm.DB,
	log *logger.Logger,
	docRepo repos.DocumentRepo,
	msgRepo repos.ChatMessageRepo,
	jobRepo repos.JobRunRepo,
	blobs BlobStore,
) *DocumentService {
	return &DocumentService{
		db:      db,
		log:     log.With("service", "DocumentService"),
		docRepo: docRepo,
		msgRepo: msgRepo,
		jobRepo: jobRepo,
		blobs:   blobs,
	}
}

// Upload stores the raw file, creates the document row in state
// unprocessed and enqueues exactly one ingestion job for it.
func (s *DocumentService) Upload(ctx context.Context, in UploadInput) (*domain.Document, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = strings.TrimSpace(in.OriginalName)
	}
	if title == "" {
		return nil, fmt.Errorf("%w: missing title", apperrors.ErrInvalidArgument)
	}
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: empty file", apperrors.ErrInvalidArgument)
	}
	if len(in.Data) > maxUploadBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", apperrors.ErrInvalidArgument, maxUploadBytes)
	}

	dbc := dbctx.New(ctx)
	doc, err := s.docRepo.Create(dbc, &domain.Document{
		ID:           uuid.New(),
		UserID:       in.UserID,
		Title:        title,
		OriginalName: in.OriginalName,
		MimeType:     in.MimeType,
		SizeBytes:    int64(len(in.Data)),
		Status:       domain.DocumentUnprocessed,
	})
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	key, err := s.blobs.Put(ctx, doc.ID, in.Data, in.MimeType)
	if err != nil {
		return nil, fmt.Errorf("store raw file: %w", err)
	}
	if err := s.docRepo.UpdateFields(dbc, doc.ID, map[string]interface{}{
		"storage_key": key,
	}); err != nil {
		return nil, fmt.Errorf("record storage key: %w", err)
	}
	doc.StorageKey = key

	if _, err := s.jobRepo.Enqueue(dbc, domain.JobTypeDocumentIngest, doc.ID, nil); err != nil {
		return nil, fmt.Errorf("enqueue ingestion: %w", err)
	}

	s.log.Info("Document uploaded", "document_id", doc.ID.String(), "size_bytes", doc.SizeBytes)
	return doc, nil
}

// Reprocess enqueues a fresh ingestion job for an existing document.
// The pipeline replaces prior chunks, so this is safe to call repeatedly.
func (s *DocumentService) Reprocess(ctx context.Context, documentID uuid.UUID) (*domain.JobRun, error) {
	dbc := dbctx.New(ctx)
	if _, err := s.docRepo.GetByID(dbc, documentID); err != nil {
		return nil, err
	}
	return s.jobRepo.Enqueue(dbc, domain.JobTypeDocumentIngest, documentID, nil)
}

func (s *DocumentService) Feed(ctx context.Context, limit, offset int) ([]*domain.Document, error) {
	return s.docRepo.ListFeed(dbctx.New(ctx), limit, offset)
}

func (s *DocumentService) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Document, error) {
	return s.docRepo.ListByUser(dbctx.New(ctx), userID)
}

// Get returns the document and bumps its view counter. The counter write
// is best effort and never fails the read.
func (s *DocumentService) Get(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	dbc := dbctx.New(ctx)
	doc, err := s.docRepo.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if err := s.docRepo.IncrementViews(dbc, id); err != nil {
		s.log.Warn("Failed to increment views", "document_id", id.String(), "error", err)
	} else {
		doc.Views++
	}
	return doc, nil
}

func (s *DocumentService) Messages(ctx context.Context, documentID uuid.UUID, limit int) ([]*domain.ChatMessage, error) {
	dbc := dbctx.New(ctx)
	if _, err := s.docRepo.GetByID(dbc, documentID); err != nil {
		return nil, err
	}
	return s.msgRepo.ListByDocument(dbc, documentID, limit)
}
