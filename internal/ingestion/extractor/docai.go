package extractor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"github.com/paperplanet/paperplanet-backend/internal/platform/gcp"
	"github.com/paperplanet/paperplanet-backend/internal/platform/logger"
)

// DocAI extracts per-page text from PDFs through Google Document AI.
type DocAI struct {
	log    *logger.Logger
	client *documentai.DocumentProcessorClient

	projectID        string
	location         string
	processorID      string
	processorVersion string
}

func NewDocAI(log *logger.Logger) (*DocAI, error) {
	slog := log.With("extractor", "docai")

	projectID := strings.TrimSpace(os.Getenv("DOCUMENTAI_PROJECT_ID"))
	processorID := strings.TrimSpace(os.Getenv("DOCUMENTAI_PROCESSOR_ID"))
	if projectID == "" || processorID == "" {
		return nil, fmt.Errorf("missing DOCUMENTAI_PROJECT_ID or DOCUMENTAI_PROCESSOR_ID")
	}
	location := strings.TrimSpace(os.Getenv("DOCUMENTAI_LOCATION"))
	if location == "" {
		location = "us"
	}
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)

	opts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, gcp.ClientOptionsFromEnv()...)
	client, err := documentai.NewDocumentProcessorClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}

	slog.Info("Document AI initialized", "endpoint", endpoint)

	return &DocAI{
		log:              slog,
		client:           client,
		projectID:        projectID,
		location:         location,
		processorID:      processorID,
		processorVersion: strings.TrimSpace(os.Getenv("DOCUMENTAI_PROCESSOR_VERSION")),
	}, nil
}

func (d *DocAI) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}

func (d *DocAI) ExtractPages(ctx context.Context, name, mime string, data []byte) ([]Page, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: no data", ErrCorruptInput)
	}
	if mime == "" {
		mime = "application/pdf"
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	req := &documentaipb.ProcessRequest{
		Name: d.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  data,
				MimeType: mime,
			},
		},
	}

	resp, err := d.client.ProcessDocument(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("documentai ProcessDocument: %w", err)
	}
	if resp == nil || resp.Document == nil {
		return nil, fmt.Errorf("%w: empty documentai response", ErrCorruptInput)
	}

	return pagesFromDocument(resp.Document), nil
}

func (d *DocAI) processorName() string {
	if d.processorVersion != "" {
		return fmt.Sprintf("projects/%s/locations/%s/processors/%s/processorVersions/%s",
			d.projectID, d.location, d.processorID, d.processorVersion)
	}
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		d.projectID, d.location, d.processorID)
}

func pagesFromDocument(doc *documentaipb.Document) []Page {
	if doc == nil {
		return nil
	}

	out := make([]Page, 0, len(doc.Pages))
	for _, p := range doc.Pages {
		if p == nil {
			continue
		}
		var pageText strings.Builder
		for _, para := range p.Paragraphs {
			if para == nil || para.Layout == nil || para.Layout.TextAnchor == nil {
				continue
			}
			t := strings.TrimSpace(textFromAnchor(doc.Text, para.Layout.TextAnchor))
			if t == "" {
				continue
			}
			pageText.WriteString(t)
			pageText.WriteString("\n")
		}
		pt := CleanText(pageText.String())
		if pt == "" {
			continue
		}
		out = append(out, Page{Number: int(p.PageNumber), Text: pt})
	}

	// Some processors populate doc.Text but omit structured paragraphs;
	// fall back so callers still get usable text.
	if len(out) == 0 {
		if t := CleanText(doc.Text); t != "" {
			out = append(out, Page{Number: 1, Text: t})
		}
	}
	return out
}

func textFromAnchor(full string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil || len(anchor.TextSegments) == 0 || full == "" {
		return ""
	}
	var b strings.Builder
	for _, seg := range anchor.TextSegments {
		if seg == nil {
			continue
		}
		start := int(seg.StartIndex)
		end := int(seg.EndIndex)
		if start < 0 {
			start = 0
		}
		if end > len(full) {
			end = len(full)
		}
		if start >= end {
			continue
		}
		b.WriteString(full[start:end])
	}
	return b.String()
}
