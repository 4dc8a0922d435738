package vectorindex

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/paperplanet/paperplanet-backend/internal/platform/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func newMemory(t *testing.T, dim int) *Memory {
	t.Helper()
	return NewMemory(newTestLogger(t), dim)
}

func entry(text string, vec ...float32) Entry {
	return Entry{ID: uuid.New(), Text: text, Vector: vec}
}

func TestCosineDistance(t *testing.T) {
	if d := CosineDistance([]float32{1, 0}, []float32{1, 0}); math.Abs(d) > 1e-9 {
		t.Errorf("identical vectors: distance = %v, want 0", d)
	}
	if d := CosineDistance([]float32{1, 0}, []float32{0, 1}); math.Abs(d-1) > 1e-9 {
		t.Errorf("orthogonal vectors: distance = %v, want 1", d)
	}
	if d := CosineDistance([]float32{1, 0}, []float32{-1, 0}); math.Abs(d-2) > 1e-9 {
		t.Errorf("opposite vectors: distance = %v, want 2", d)
	}
	// Scale invariance.
	if d := CosineDistance([]float32{1, 2}, []float32{10, 20}); math.Abs(d) > 1e-6 {
		t.Errorf("scaled vectors: distance = %v, want ~0", d)
	}
	if d := CosineDistance([]float32{0, 0}, []float32{1, 0}); d != 1 {
		t.Errorf("zero vector: distance = %v, want 1", d)
	}
}

func TestMemoryAddThenQueryExactMatch(t *testing.T) {
	m := newMemory(t, 3)
	docID := uuid.New()

	vec := []float32{0.3, 0.5, 0.8}
	e := Entry{ID: uuid.New(), Text: "the chunk", Vector: vec}
	if err := m.Add(context.Background(), docID, e); err != nil {
		t.Fatalf("Add: %v", err)
	}

	matches, err := m.Query(context.Background(), docID, vec, 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].ID != e.ID || matches[0].Text != "the chunk" {
		t.Errorf("wrong match: %+v", matches[0])
	}
	if math.Abs(matches[0].Distance) > 1e-6 {
		t.Errorf("distance to itself = %v, want ~0", matches[0].Distance)
	}
}

func TestMemoryQueryScopedToDocument(t *testing.T) {
	m := newMemory(t, 2)
	docA := uuid.New()
	docB := uuid.New()
	q := []float32{1, 0}

	// docB holds a perfect match; docA holds a distant one.
	if err := m.Add(context.Background(), docA, entry("a", 0, 1)); err != nil {
		t.Fatalf("Add a: %v", err)
	}
	if err := m.Add(context.Background(), docB, entry("b", 1, 0)); err != nil {
		t.Fatalf("Add b: %v", err)
	}

	matches, err := m.Query(context.Background(), docA, q, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 || matches[0].Text != "a" {
		t.Fatalf("query leaked across documents: %+v", matches)
	}
}

func TestMemoryQueryUnknownDocument(t *testing.T) {
	m := newMemory(t, 2)
	matches, err := m.Query(context.Background(), uuid.New(), []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("unknown document should yield empty result, got %d", len(matches))
	}
}

func TestMemoryOrderingAndTies(t *testing.T) {
	m := newMemory(t, 2)
	docID := uuid.New()
	q := []float32{1, 0}

	near := entry("near", 1, 0.1)
	tieFirst := entry("tie-first", 0, 1)
	tieSecond := entry("tie-second", 0, 2) // same direction as tie-first
	for _, e := range []Entry{tieFirst, tieSecond, near} {
		if err := m.Add(context.Background(), docID, e); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	matches, err := m.Query(context.Background(), docID, q, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	if matches[0].Text != "near" {
		t.Errorf("closest first: got %q", matches[0].Text)
	}
	// Equal distances keep insertion order.
	if matches[1].Text != "tie-first" || matches[2].Text != "tie-second" {
		t.Errorf("tie order not stable: %q then %q", matches[1].Text, matches[2].Text)
	}
}

func TestMemoryTopKBound(t *testing.T) {
	m := newMemory(t, 2)
	docID := uuid.New()
	for i := 0; i < 10; i++ {
		if err := m.Add(context.Background(), docID, entry("e", 1, float32(i))); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	matches, err := m.Query(context.Background(), docID, []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 3 {
		t.Errorf("k=3 should cap results, got %d", len(matches))
	}
}

func TestMemoryDimensionMismatch(t *testing.T) {
	m := newMemory(t, 3)
	docID := uuid.New()

	var dimErr *DimensionError
	if err := m.Add(context.Background(), docID, entry("bad", 1, 0)); !errors.As(err, &dimErr) {
		t.Fatalf("Add wrong dim: %v", err)
	}
	if dimErr.Want != 3 || dimErr.Got != 2 {
		t.Errorf("dim error = %+v", dimErr)
	}
	if _, err := m.Query(context.Background(), docID, []float32{1, 0}, 5); !errors.As(err, &dimErr) {
		t.Fatalf("Query wrong dim: %v", err)
	}
	if err := m.Replace(context.Background(), docID, []Entry{entry("bad", 1)}); !errors.As(err, &dimErr) {
		t.Fatalf("Replace wrong dim: %v", err)
	}
}

func TestMemoryReplaceSwapsWholeSet(t *testing.T) {
	m := newMemory(t, 2)
	docID := uuid.New()

	if err := m.Replace(context.Background(), docID, []Entry{
		entry("old-0", 1, 0), entry("old-1", 0, 1), entry("old-2", 1, 1),
	}); err != nil {
		t.Fatalf("Replace old: %v", err)
	}
	if err := m.Replace(context.Background(), docID, []Entry{
		entry("new-0", 1, 0), entry("new-1", 0, 1),
	}); err != nil {
		t.Fatalf("Replace new: %v", err)
	}

	matches, err := m.Query(context.Background(), docID, []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 entries after replace, got %d", len(matches))
	}
	for _, match := range matches {
		if match.Text == "old-0" || match.Text == "old-1" || match.Text == "old-2" {
			t.Fatalf("stale entry survived replace: %q", match.Text)
		}
	}
}

func TestMemoryReplaceNeverTorn(t *testing.T) {
	m := newMemory(t, 2)
	docID := uuid.New()

	setA := []Entry{entry("a", 1, 0), entry("a", 1, 0), entry("a", 1, 0)}
	setB := []Entry{entry("b", 0, 1), entry("b", 0, 1), entry("b", 0, 1), entry("b", 0, 1), entry("b", 0, 1)}
	if err := m.Replace(context.Background(), docID, setA); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if i%2 == 0 {
				_ = m.Replace(context.Background(), docID, setB)
			} else {
				_ = m.Replace(context.Background(), docID, setA)
			}
		}
		close(done)
	}()

	// Readers must always observe one complete set: 3 a's or 5 b's.
	for {
		select {
		case <-done:
			wg.Wait()
			return
		default:
		}
		matches, err := m.Query(context.Background(), docID, []float32{1, 0}, 100)
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(matches) != 3 && len(matches) != 5 {
			t.Fatalf("torn read: %d entries", len(matches))
		}
		for _, match := range matches {
			want := "a"
			if len(matches) == 5 {
				want = "b"
			}
			if match.Text != want {
				t.Fatalf("mixed sets in one read: %q among %d entries", match.Text, len(matches))
			}
		}
	}
}

func TestMemoryDrop(t *testing.T) {
	m := newMemory(t, 2)
	docID := uuid.New()
	if err := m.Add(context.Background(), docID, entry("x", 1, 0)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := m.Drop(context.Background(), docID); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	matches, err := m.Query(context.Background(), docID, []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("dropped document still has %d entries", len(matches))
	}
}
