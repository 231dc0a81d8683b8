package hybridsearch

import (
	"context"
	"sync"

	"github.com/Aman-CERP/amanmcp/internal/store"
)

// MemoryContentStore is an in-process ContentStore: routing's indexed
// documents (tool/command descriptions) are small and fully recomputed from
// the skill registry on each reindex, so unlike code search's chunk store
// there is no need for SQLite-backed persistence here.
type MemoryContentStore struct {
	mu   sync.RWMutex
	docs map[string]string
}

// NewMemoryContentStore creates an empty content store.
func NewMemoryContentStore() *MemoryContentStore {
	return &MemoryContentStore{docs: make(map[string]string)}
}

// Put upserts the content for id.
func (s *MemoryContentStore) Put(id, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = content
}

// Delete removes id's content, if present.
func (s *MemoryContentStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
}

// GetDocuments implements ContentStore.
func (s *MemoryContentStore) GetDocuments(_ context.Context, ids []string) ([]*store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]*store.Document, 0, len(ids))
	for _, id := range ids {
		if content, ok := s.docs[id]; ok {
			docs = append(docs, &store.Document{ID: id, Content: content})
		}
	}
	return docs, nil
}

// Len reports how many documents are stored.
func (s *MemoryContentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
