package vectorindex

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/paperplanet/paperplanet-backend/internal/platform/logger"
)

// Memory is an in-process brute-force index. One slot per document; a
// replace builds the new slice aside and swaps the map value under the
// write lock, so concurrent readers never see a torn set.
type Memory struct {
	log *logger.Logger
	dim int

	mu   sync.RWMutex
	docs map[uuid.UUID][]Entry
}

func NewMemory(log *logger.Logger, dim int) *Memory {
	return &Memory{
		log:  log.With("service", "MemoryVectorIndex"),
		dim:  dim,
		docs: make(map[uuid.UUID][]Entry),
	}
}

func (m *Memory) checkDim(vec []float32) error {
	if len(vec) == 0 {
		return &DimensionError{Want: m.dim, Got: 0}
	}
	if m.dim > 0 && len(vec) != m.dim {
		return &DimensionError{Want: m.dim, Got: len(vec)}
	}
	return nil
}

func (m *Memory) Replace(ctx context.Context, documentID uuid.UUID, entries []Entry) error {
	fresh := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if err := m.checkDim(e.Vector); err != nil {
			return err
		}
		fresh = append(fresh, e)
	}

	m.mu.Lock()
	if len(fresh) == 0 {
		delete(m.docs, documentID)
	} else {
		m.docs[documentID] = fresh
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Add(ctx context.Context, documentID uuid.UUID, entry Entry) error {
	if err := m.checkDim(entry.Vector); err != nil {
		return err
	}
	m.mu.Lock()
	// Copy-on-write so a concurrent Query iterating the old slice is safe.
	old := m.docs[documentID]
	next := make([]Entry, len(old), len(old)+1)
	copy(next, old)
	m.docs[documentID] = append(next, entry)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Query(ctx context.Context, documentID uuid.UUID, vector []float32, k int) ([]Match, error) {
	if err := m.checkDim(vector); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 5
	}

	m.mu.RLock()
	entries := m.docs[documentID]
	m.mu.RUnlock()

	if len(entries) == 0 {
		return []Match{}, nil
	}

	matches := make([]Match, 0, len(entries))
	for _, e := range entries {
		matches = append(matches, Match{Entry: e, Distance: CosineDistance(vector, e.Vector)})
	}
	// Stable keeps insertion order among equal distances.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (m *Memory) Drop(ctx context.Context, documentID uuid.UUID) error {
	m.mu.Lock()
	delete(m.docs, documentID)
	m.mu.Unlock()
	return nil
}
