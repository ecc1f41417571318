// Package docsys defines the narrow capability interface the
// orchestrator uses to read and write authoritative documents, plus the
// concrete adapters behind it.
package docsys

import (
	"context"
	"errors"
	"fmt"
)

// ErrRevisionConflict is returned by Write when the document changed
// since the base revision was read.
var ErrRevisionConflict = errors.New("document revision conflict")

// ErrDocNotFound is returned when the target document does not exist.
var ErrDocNotFound = errors.New("document not found")

// Document is a fetched document snapshot.
type Document struct {
	DocID    string
	Content  string
	Revision string
}

// Adapter is the document system capability interface. Write must
// reject the update when baseRevision no longer matches the stored
// revision (optimistic concurrency).
type Adapter interface {
	Fetch(ctx context.Context, docID string) (*Document, error)
	Write(ctx context.Context, docID, newContent, baseRevision string) error
}

// Registry maps doc system names to adapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under a system name ("confluence", "notion",
// "memory", ...).
func (r *Registry) Register(system string, a Adapter) {
	r.adapters[system] = a
}

// For returns the adapter for a doc system.
func (r *Registry) For(system string) (Adapter, error) {
	a, ok := r.adapters[system]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for doc system %q", system)
	}
	return a, nil
}
