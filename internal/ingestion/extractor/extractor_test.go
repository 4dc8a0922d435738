package extractor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/paperplanet/paperplanet-backend/internal/platform/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestCleanText(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"  plain text  ", "plain text"},
		{"nul\x00byte", "nulbyte"},
		{"bell\x07and\x1bescape", "bellandescape"},
		{"keep\nnewlines\tand tabs", "keep\nnewlines\tand tabs"},
	}
	for _, tc := range cases {
		if got := CleanText(tc.in); got != tc.want {
			t.Errorf("CleanText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCleanTextInvalidUTF8(t *testing.T) {
	got := CleanText("good" + string([]byte{0xff, 0xfe}) + "bytes")
	if !strings.Contains(got, "good") || !strings.Contains(got, "bytes") {
		t.Errorf("invalid UTF-8 should be repaired, got %q", got)
	}
}

func TestClassifyKind(t *testing.T) {
	if k := ClassifyKind("paper.pdf", "", nil); k != "pdf" {
		t.Errorf("pdf ext: %s", k)
	}
	if k := ClassifyKind("blob", "application/pdf", nil); k != "pdf" {
		t.Errorf("pdf mime: %s", k)
	}
	if k := ClassifyKind("blob", "", []byte("%PDF-1.7")); k != "pdf" {
		t.Errorf("pdf header: %s", k)
	}
	if k := ClassifyKind("notes.md", "", nil); k != "text" {
		t.Errorf("markdown: %s", k)
	}
	if k := ClassifyKind("image.png", "image/png", nil); k != "unknown" {
		t.Errorf("png: %s", k)
	}
}

func TestNativePlainText(t *testing.T) {
	n := NewNative(testLogger(t))
	pages, err := n.ExtractPages(context.Background(), "notes.txt", "text/plain", []byte("  hello world\x00 "))
	if err != nil {
		t.Fatalf("ExtractPages: %v", err)
	}
	if len(pages) != 1 || pages[0].Number != 1 || pages[0].Text != "hello world" {
		t.Errorf("pages = %+v", pages)
	}
}

func TestNativeStripsHTML(t *testing.T) {
	n := NewNative(testLogger(t))
	pages, err := n.ExtractPages(context.Background(), "page.html", "text/html",
		[]byte("<html><body><h1>Title</h1><p>body text</p></body></html>"))
	if err != nil {
		t.Fatalf("ExtractPages: %v", err)
	}
	got := pages[0].Text
	if strings.Contains(got, "<") || !strings.Contains(got, "Title") || !strings.Contains(got, "body text") {
		t.Errorf("html not stripped: %q", got)
	}
}

func TestNativeRejectsBinary(t *testing.T) {
	n := NewNative(testLogger(t))
	binary := make([]byte, 256)
	for i := range binary {
		binary[i] = byte(i)
	}
	_, err := n.ExtractPages(context.Background(), "blob.bin", "application/octet-stream", binary)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestNativeEmptyInput(t *testing.T) {
	n := NewNative(testLogger(t))
	if _, err := n.ExtractPages(context.Background(), "x.txt", "text/plain", nil); !errors.Is(err, ErrCorruptInput) {
		t.Fatalf("expected ErrCorruptInput, got %v", err)
	}
}
