package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/paperplanet/paperplanet-backend/internal/ingestion/extractor"
	"github.com/paperplanet/paperplanet-backend/internal/platform/logger"
	"github.com/paperplanet/paperplanet-backend/internal/platform/openai"
	"github.com/paperplanet/paperplanet-backend/internal/repos"
	"github.com/paperplanet/paperplanet-backend/internal/services"
	"github.com/paperplanet/paperplanet-backend/internal/vectorindex"
)

func resolveVectorIndex(log *logger.Logger, cfg Config, client openai.Client) (vectorindex.Index, error) {
	switch cfg.Vector.Backend {
	case "", "memory":
		return vectorindex.NewMemory(log, client.EmbedDim()), nil
	case "qdrant":
		qcfg, err := vectorindex.ResolveQdrantConfigFromEnv(client.EmbedDim())
		if err != nil {
			return nil, fmt.Errorf("qdrant config: %w", err)
		}
		return vectorindex.NewQdrant(log, qcfg)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Vector.Backend)
	}
}

func resolveBlobStore(log *logger.Logger, cfg Config, docRepo repos.DocumentRepo) (services.BlobStore, error) {
	switch cfg.Blob.Backend {
	case "gcs":
		return services.NewGCSBlobStore(log)
	case "", "db":
		return services.NewDBBlobStore(log, docRepo), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Blob.Backend)
	}
}

// resolvePDFExtractor wires Document AI when a processor is configured.
// Without one, PDF uploads are rejected at ingestion time.
func resolvePDFExtractor(log *logger.Logger) (extractor.Text, error) {
	if strings.TrimSpace(os.Getenv("DOCUMENTAI_PROJECT_ID")) == "" {
		log.Warn("DOCUMENTAI_PROJECT_ID not set; PDF extraction disabled")
		return nil, nil
	}
	return extractor.NewDocAI(log)
}
