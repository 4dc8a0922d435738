package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"

	"github.com/paperplanet/paperplanet-backend/internal/pkg/dbctx"
	"github.com/paperplanet/paperplanet-backend/internal/platform/gcp"
	"github.com/paperplanet/paperplanet-backend/internal/platform/logger"
	"github.com/paperplanet/paperplanet-backend/internal/repos"
)

// BlobStore holds the raw uploaded bytes of a document. The ingestion
// pipeline reads them back when a document is (re)processed.
type BlobStore interface {
	Put(ctx context.Context, documentID uuid.UUID, data []byte, contentType string) (key string, err error)
	Get(ctx context.Context, documentID uuid.UUID) ([]byte, error)
	Delete(ctx context.Context, documentID uuid.UUID) error
}

// ---- GCS-backed store ----

type gcsBlobStore struct {
	log        *logger.Logger
	client     *storage.Client
	bucketName string
}

func NewGCSBlobStore(log *logger.Logger) (BlobStore, error) {
	serviceLog := log.With("service", "GCSBlobStore")
	bucket := os.Getenv("GCS_BUCKET_NAME")
	if bucket == "" {
		return nil, fmt.Errorf("missing env var GCS_BUCKET_NAME")
	}
	client, err := storage.NewClient(context.Background(), gcp.ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	serviceLog.Info("GCS blob store initialized", "bucket", bucket)
	return &gcsBlobStore{log: serviceLog, client: client, bucketName: bucket}, nil
}

func blobKey(documentID uuid.UUID) string {
	return "papers/" + documentID.String()
}

func (bs *gcsBlobStore) Put(ctx context.Context, documentID uuid.UUID, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	key := blobKey(documentID)
	w := bs.client.Bucket(bs.bucketName).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write object %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer for %q: %w", key, err)
	}
	return key, nil
}

func (bs *gcsBlobStore) Get(ctx context.Context, documentID uuid.UUID) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	key := blobKey(documentID)
	r, err := bs.client.Bucket(bs.bucketName).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open object %q: %w", key, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %q: %w", key, err)
	}
	return data, nil
}

func (bs *gcsBlobStore) Delete(ctx context.Context, documentID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	key := blobKey(documentID)
	if err := bs.client.Bucket(bs.bucketName).Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete object %q: %w", key, err)
	}
	return nil
}

// ---- Database-backed store ----

// dbBlobStore keeps raw bytes in the document row. Used when no bucket is
// configured, which keeps single-node deployments dependency-free.
type dbBlobStore struct {
	log     *logger.Logger
	docRepo repos.DocumentRepo
}

func NewDBBlobStore(log *logger.Logger, docRepo repos.DocumentRepo) BlobStore {
	return &dbBlobStore{log: log.With("service", "DBBlobStore"), docRepo: docRepo}
}

func (bs *dbBlobStore) Put(ctx context.Context, documentID uuid.UUID, data []byte, contentType string) (string, error) {
	err := bs.docRepo.UpdateFields(dbctx.New(ctx), documentID, map[string]interface{}{
		"raw_data": data,
	})
	if err != nil {
		return "", err
	}
	return blobKey(documentID), nil
}

func (bs *dbBlobStore) Get(ctx context.Context, documentID uuid.UUID) ([]byte, error) {
	return bs.docRepo.GetRawData(dbctx.New(ctx), documentID)
}

func (bs *dbBlobStore) Delete(ctx context.Context, documentID uuid.UUID) error {
	return bs.docRepo.UpdateFields(dbctx.New(ctx), documentID, map[string]interface{}{
		"raw_data": nil,
	})
}
