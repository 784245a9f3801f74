package vecstore

import (
	"context"
	"math"
	"sync"
)

// MemoryStore is an in-process Store used in tests and single-node setups
// without a Qdrant instance. Partitions live in a map keyed by item ID and
// search uses exact cosine similarity.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]map[string]Entry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]map[string]Entry)}
}

// Upsert inserts or replaces entries in the item's partition.
func (m *MemoryStore) Upsert(_ context.Context, itemID string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	part, ok := m.items[itemID]
	if !ok {
		part = make(map[string]Entry)
		m.items[itemID] = part
	}
	for _, e := range entries {
		part[e.ChunkID] = e
	}

	return nil
}

// DeleteDocument removes a document's entries, optionally restricted to
// versions below versionLT.
func (m *MemoryStore) DeleteDocument(_ context.Context, itemID, docID string, versionLT int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	part, ok := m.items[itemID]
	if !ok {
		return nil
	}
	for id, e := range part {
		if e.Payload.DocID != docID {
			continue
		}
		if versionLT > 0 && e.Payload.Version >= versionLT {
			continue
		}
		delete(part, id)
	}

	return nil
}

// DeleteItem removes the item's entire partition.
func (m *MemoryStore) DeleteItem(_ context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, itemID)
	return nil
}

// Search returns the topK most similar entries by cosine similarity.
func (m *MemoryStore) Search(_ context.Context, itemID string, vector []float32, topK int) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	part, ok := m.items[itemID]
	if !ok || topK <= 0 {
		return nil, nil
	}

	results := make([]Result, 0, len(part))
	for id, e := range part {
		results = append(results, Result{
			ChunkID: id,
			Score:   cosine(vector, e.Vector),
			Payload: e.Payload,
		})
	}

	sortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

// Count returns the number of entries in the item's partition.
func (m *MemoryStore) Count(_ context.Context, itemID string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.items[itemID])), nil
}

// ListItems returns the IDs of all non-empty partitions.
func (m *MemoryStore) ListItems(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]string, 0, len(m.items))
	for id := range m.items {
		items = append(items, id)
	}

	return items, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

// cosine computes the cosine similarity of two vectors. Mismatched lengths
// or zero vectors score 0.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}

	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
