package extractor

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/paperplanet/paperplanet-backend/internal/platform/logger"
)

var htmlTagRE = regexp.MustCompile(`(?s)<[^>]*>`)

// Native handles formats that are already text: plain text, markdown,
// HTML, JSON and the like. Anything binary is rejected so the caller can
// route it to a real document processor.
type Native struct {
	log *logger.Logger
}

func NewNative(log *logger.Logger) *Native {
	return &Native{log: log.With("extractor", "native")}
}

func (n *Native) ExtractPages(ctx context.Context, name, mime string, data []byte) ([]Page, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: no data", ErrCorruptInput)
	}

	m := strings.ToLower(strings.TrimSpace(mime))
	ext := strings.ToLower(filepath.Ext(name))

	if strings.HasPrefix(m, "text/") || m == "application/json" || m == "application/xml" ||
		ext == ".txt" || ext == ".md" || ext == ".csv" || ext == ".log" || ext == ".json" ||
		ext == ".yaml" || ext == ".yml" || ext == ".xml" || ext == ".html" || ext == ".htm" {

		s := string(data)
		if m == "text/html" || ext == ".html" || ext == ".htm" {
			s = htmlTagRE.ReplaceAllString(s, " ")
		}
		return singlePage(s), nil
	}

	// heuristic: if it "looks like text", accept it rather than erroring
	printable := 0
	total := 0
	for _, r := range string(data) {
		total++
		if r == '\n' || r == '\r' || r == '\t' || r == ' ' {
			printable++
			continue
		}
		if r >= 32 && r != 127 {
			printable++
		}
	}
	if total > 0 && float64(printable)/float64(total) > 0.90 {
		return singlePage(string(data)), nil
	}

	return nil, fmt.Errorf("%w: mime=%q ext=%q", ErrUnsupportedFormat, mime, ext)
}

func singlePage(s string) []Page {
	s = CleanText(s)
	if s == "" {
		return nil
	}
	return []Page{{Number: 1, Text: s}}
}
