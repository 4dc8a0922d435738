package vectorindex

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Entry is one indexed chunk: its row ID, the chunk text carried along as
// payload, and the embedding vector.
type Entry struct {
	ID     uuid.UUID
	Text   string
	Vector []float32
}

// Match is a query hit. Distance is cosine distance (1 - cosine
// similarity): 0 means identical direction, 2 means opposite.
type Match struct {
	Entry
	Distance float64
}

// Index stores embeddings per document. Queries never cross documents:
// every operation is scoped by documentID.
type Index interface {
	// Replace atomically swaps the document's whole entry set. Readers
	// observe either the previous complete set or the new one.
	Replace(ctx context.Context, documentID uuid.UUID, entries []Entry) error
	Add(ctx context.Context, documentID uuid.UUID, entry Entry) error
	// Query returns up to k nearest entries by cosine distance, ascending.
	// Ties preserve insertion order. An unknown document yields an empty
	// result, not an error.
	Query(ctx context.Context, documentID uuid.UUID, vector []float32, k int) ([]Match, error)
	Drop(ctx context.Context, documentID uuid.UUID) error
}

// DimensionError reports a vector whose length does not match the index
// dimension. It signals a configuration defect and is never retried.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected=%d got=%d", e.Want, e.Got)
}

// CosineDistance is 1 - cosine similarity. A zero vector has no
// direction, so its distance to anything is defined as 1.
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
