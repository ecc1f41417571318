package docsys

import (
	"context"
	"fmt"
	"sync"
)

// MemoryAdapter is an in-memory document system, used in tests and as a
// scratch target for local runs.
type MemoryAdapter struct {
	mu   sync.RWMutex
	docs map[string]*Document
	rev  int
}

// NewMemoryAdapter creates an empty in-memory document system.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{docs: make(map[string]*Document)}
}

// Seed stores a document directly, assigning a fresh revision.
func (m *MemoryAdapter) Seed(docID, content string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rev++
	rev := fmt.Sprintf("rev-%d", m.rev)
	m.docs[docID] = &Document{DocID: docID, Content: content, Revision: rev}
	return rev
}

// Fetch returns a copy of the stored document.
func (m *MemoryAdapter) Fetch(ctx context.Context, docID string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[docID]
	if !ok {
		return nil, ErrDocNotFound
	}
	cp := *doc
	return &cp, nil
}

// Write replaces the document content if baseRevision still matches.
func (m *MemoryAdapter) Write(ctx context.Context, docID, newContent, baseRevision string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[docID]
	if !ok {
		return ErrDocNotFound
	}
	if doc.Revision != baseRevision {
		return ErrRevisionConflict
	}
	m.rev++
	doc.Content = newContent
	doc.Revision = fmt.Sprintf("rev-%d", m.rev)
	return nil
}
