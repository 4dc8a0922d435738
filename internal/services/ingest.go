package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/paperplanet/paperplanet-backend/internal/domain"
	"github.com/paperplanet/paperplanet-backend/internal/ingestion/chunker"
	"github.com/paperplanet/paperplanet-backend/internal/ingestion/extractor"
	"github.com/paperplanet/paperplanet-backend/internal/pkg/dbctx"
	"github.com/paperplanet/paperplanet-backend/internal/platform/logger"
	"github.com/paperplanet/paperplanet-backend/internal/platform/openai"
	"github.com/paperplanet/paperplanet-backend/internal/repos"
	"github.com/paperplanet/paperplanet-backend/internal/vectorindex"
)

const (
	summaryPages    = 5
	summaryMaxChars = 5000
	embedBatchSize  = 64
	embedWorkers    = 4

	summaryPrompt = "Summarize this research paper in 3 sentences: "
	topicsPrompt  = "Extract 5 main technical keywords from this text as a comma-separated list: "
)

// Embedder is the slice of the model client the pipeline needs.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Generator produces free text from a prompt.
type Generator interface {
	GenerateText(ctx context.Context, system string, user string) (string, error)
}

// IngestService runs the extract-chunk-summarize-embed-persist pipeline
// for one document at a time. A re-run replaces the document's chunk set;
// it never appends to it.
type IngestService struct {
	db        *gorm.DB
	log       *logger.Logger
	docRepo   repos.DocumentRepo
	chunkRepo repos.ChunkRepo
	blobs     BlobStore
	embedder  Embedder
	generator Generator
	index     vectorindex.Index

	nativeExtractor extractor.Text
	pdfExtractor    extractor.Text
}

func NewIngestService(
	db *gorm.DB,
	log *logger.Logger,
	docRepo repos.DocumentRepo,
	chunkRepo repos.ChunkRepo,
	blobs BlobStore,
	client openai.Client,
	index vectorindex.Index,
	nativeExtractor extractor.Text,
	pdfExtractor extractor.Text,
) *IngestService {
	return &IngestService{
		db:              db,
		log:             log.With("service", "IngestService"),
		docRepo:         docRepo,
		chunkRepo:       chunkRepo,
		blobs:           blobs,
		embedder:        client,
		generator:       client,
		index:           index,
		nativeExtractor: nativeExtractor,
		pdfExtractor:    pdfExtractor,
	}
}

// HandleJob is the worker entrypoint for document_ingest jobs.
func (s *IngestService) HandleJob(ctx context.Context, job *domain.JobRun) error {
	if job == nil || job.DocumentID == nil {
		return fmt.Errorf("ingest job missing document id")
	}
	documentID := *job.DocumentID
	log := s.log.With("document_id", documentID.String(), "job_id", job.ID.String())

	if err := s.Process(ctx, documentID); err != nil {
		log.Error("Document ingestion failed", "error", err)
		// Leave the document marked failed; the job layer decides on retry.
		if uErr := s.docRepo.UpdateFields(dbctx.New(ctx), documentID, map[string]interface{}{
			"status": domain.DocumentFailed,
		}); uErr != nil {
			log.Error("Failed to mark document failed", "error", uErr)
		}
		return err
	}
	log.Info("Document ingestion complete")
	return nil
}

// Process runs the whole pipeline for one document.
func (s *IngestService) Process(ctx context.Context, documentID uuid.UUID) error {
	dbc := dbctx.New(ctx)

	doc, err := s.docRepo.GetByID(dbc, documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	if err := s.docRepo.UpdateFields(dbc, documentID, map[string]interface{}{
		"status": domain.DocumentProcessing,
	}); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	raw, err := s.blobs.Get(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch raw bytes: %w", err)
	}

	pages, err := s.extractPages(ctx, doc, raw)
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}
	if len(pages) == 0 {
		return fmt.Errorf("document produced no text")
	}

	summary, topics, err := s.describe(ctx, pages)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	chunks := s.chunkPages(documentID, pages)
	if err := s.embedChunks(ctx, chunks); err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}

	topicsJSON, err := json.Marshal(topics)
	if err != nil {
		return fmt.Errorf("encode topics: %w", err)
	}

	// One transaction: old chunks out, new chunks in, document flipped to
	// processed. A crash before commit leaves the previous complete set.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.WithTx(ctx, tx)
		if err := s.chunkRepo.ReplaceForDocument(txc, documentID, chunks); err != nil {
			return fmt.Errorf("replace chunks: %w", err)
		}
		return s.docRepo.UpdateFields(txc, documentID, map[string]interface{}{
			"status":  domain.DocumentProcessed,
			"summary": summary,
			"topics":  datatypes.JSON(topicsJSON),
		})
	})
	if err != nil {
		return err
	}

	return s.reindex(ctx, documentID, chunks)
}

func (s *IngestService) extractPages(ctx context.Context, doc *domain.Document, raw []byte) ([]extractor.Page, error) {
	peek := raw
	if len(peek) > 512 {
		peek = peek[:512]
	}
	kind := extractor.ClassifyKind(doc.OriginalName, doc.MimeType, peek)

	ext := s.nativeExtractor
	if kind == "pdf" {
		if s.pdfExtractor == nil {
			return nil, fmt.Errorf("pdf extraction not configured: %w", extractor.ErrUnsupportedFormat)
		}
		ext = s.pdfExtractor
	}

	pages, err := ext.ExtractPages(ctx, doc.OriginalName, doc.MimeType, raw)
	if err != nil {
		return nil, err
	}
	out := make([]extractor.Page, 0, len(pages))
	for _, p := range pages {
		p.Text = extractor.CleanText(p.Text)
		if p.Text == "" {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// describe produces the document summary and topic keywords from the
// leading pages.
func (s *IngestService) describe(ctx context.Context, pages []extractor.Page) (string, []string, error) {
	n := len(pages)
	if n > summaryPages {
		n = summaryPages
	}
	parts := make([]string, 0, n)
	for _, p := range pages[:n] {
		parts = append(parts, p.Text)
	}
	input := strings.Join(parts, "\n\n")
	if r := []rune(input); len(r) > summaryMaxChars {
		input = string(r[:summaryMaxChars])
	}

	summary, err := s.generator.GenerateText(ctx, "", summaryPrompt+input)
	if err != nil {
		return "", nil, fmt.Errorf("generate summary: %w", err)
	}

	rawTopics, err := s.generator.GenerateText(ctx, "", topicsPrompt+input)
	if err != nil {
		return "", nil, fmt.Errorf("generate topics: %w", err)
	}

	return summary, parseTopics(rawTopics), nil
}

func parseTopics(raw string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, 5)
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}

func (s *IngestService) chunkPages(documentID uuid.UUID, pages []extractor.Page) []*domain.Chunk {
	var chunks []*domain.Chunk
	idx := 0
	for _, p := range pages {
		pageNum := p.Number
		for _, text := range chunker.Split(p.Text, chunker.DefaultSize, chunker.DefaultOverlap) {
			chunks = append(chunks, &domain.Chunk{
				ID:         uuid.New(),
				DocumentID: documentID,
				Index:      idx,
				Text:       text,
				Page:       &pageNum,
			})
			idx++
		}
	}
	return chunks
}

func (s *IngestService) embedChunks(ctx context.Context, chunks []*domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedWorkers)

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Text
			}
			vectors, err := s.embedder.Embed(gctx, texts)
			if err != nil {
				return err
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("embedding count mismatch: want=%d got=%d", len(batch), len(vectors))
			}
			for i, vec := range vectors {
				encoded, err := json.Marshal(vec)
				if err != nil {
					return fmt.Errorf("encode embedding: %w", err)
				}
				batch[i].Embedding = datatypes.JSON(encoded)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *IngestService) reindex(ctx context.Context, documentID uuid.UUID, chunks []*domain.Chunk) error {
	entries := make([]vectorindex.Entry, 0, len(chunks))
	for _, c := range chunks {
		vec, err := decodeEmbedding(c.Embedding)
		if err != nil {
			return fmt.Errorf("decode embedding for chunk %s: %w", c.ID, err)
		}
		entries = append(entries, vectorindex.Entry{ID: c.ID, Text: c.Text, Vector: vec})
	}
	if err := s.index.Replace(ctx, documentID, entries); err != nil {
		return fmt.Errorf("index replace: %w", err)
	}
	return nil
}

func decodeEmbedding(raw datatypes.JSON) ([]float32, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty embedding")
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// RebuildIndex reloads every persisted chunk set into the vector index.
// Called at startup when the in-process index backend is selected.
func (s *IngestService) RebuildIndex(ctx context.Context) error {
	dbc := dbctx.New(ctx)
	ids, err := s.chunkRepo.ListDocumentIDs(dbc)
	if err != nil {
		return fmt.Errorf("list indexed documents: %w", err)
	}
	for _, documentID := range ids {
		chunks, err := s.chunkRepo.GetByDocumentID(dbc, documentID)
		if err != nil {
			return fmt.Errorf("load chunks for %s: %w", documentID, err)
		}
		if err := s.reindex(ctx, documentID, chunks); err != nil {
			return err
		}
	}
	s.log.Info("Vector index rebuilt", "documents", len(ids))
	return nil
}
