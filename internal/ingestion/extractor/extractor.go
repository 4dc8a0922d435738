package extractor

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Page is one unit of extracted text. Non-paginated formats produce a
// single page numbered 1.
type Page struct {
	Number int
	Text   string
}

// Text turns raw uploaded bytes into per-page text.
type Text interface {
	ExtractPages(ctx context.Context, name, mime string, data []byte) ([]Page, error)
}

var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrCorruptInput      = errors.New("corrupt document input")
)

// CleanText strips NUL bytes and other control characters that upset
// Postgres text columns, repairs invalid UTF-8 and trims the result.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	s = sanitizeUTF8(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == 0 {
			continue
		}
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	// Replace invalid byte sequences with a space (keeps words separated)
	return strings.ToValidUTF8(s, " ")
}

// ClassifyKind guesses the document kind from name, declared mime and a
// peek at the leading bytes.
func ClassifyKind(name, mime string, smallBytes []byte) string {
	m := strings.ToLower(strings.TrimSpace(mime))
	ext := strings.ToLower(filepath.Ext(name))

	if m == "application/pdf" || ext == ".pdf" || isPDFHeader(smallBytes) {
		return "pdf"
	}
	if strings.HasPrefix(m, "text/") || m == "application/json" || m == "application/xml" ||
		ext == ".txt" || ext == ".md" || ext == ".csv" || ext == ".json" ||
		ext == ".html" || ext == ".htm" || ext == ".xml" {
		return "text"
	}
	return "unknown"
}

func isPDFHeader(b []byte) bool {
	if len(b) < 5 {
		return false
	}
	return string(b[:5]) == "%PDF-"
}
