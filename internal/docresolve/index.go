package docresolve

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"

	"github.com/driftwatch/driftwatch/internal/agent"
)

const collectionName = "documents"

// Index is the embedding search index over known documents, used for
// search-based resolution when no explicit mapping or PR link exists.
type Index struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedFunc  chromem.EmbeddingFunc
}

// IndexedDoc is one document registered with the search index.
type IndexedDoc struct {
	DocSystem string
	DocID     string
	Title     string
	Content   string
	Service   string
}

// IndexMatch is a search hit with its cosine similarity.
type IndexMatch struct {
	Doc        IndexedDoc
	Similarity float32
}

// NewIndex creates an in-memory Index using the given client for
// embeddings.
func NewIndex(client agent.Client) (*Index, error) {
	db := chromem.NewDB()
	ef := func(ctx context.Context, text string) ([]float32, error) {
		return client.Embed(ctx, text)
	}
	col, err := db.GetOrCreateCollection(collectionName, nil, ef)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &Index{db: db, collection: col, embedFunc: ef}, nil
}

// Add registers documents with the index.
func (ix *Index) Add(ctx context.Context, docs []IndexedDoc) error {
	if len(docs) == 0 {
		return nil
	}
	chromDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		chromDocs[i] = chromem.Document{
			ID:      doc.DocSystem + ":" + doc.DocID,
			Content: doc.Title + "\n" + doc.Content,
			Metadata: map[string]string{
				"doc_system": doc.DocSystem,
				"doc_id":     doc.DocID,
				"title":      doc.Title,
				"service":    doc.Service,
			},
		}
	}
	return ix.collection.AddDocuments(ctx, chromDocs, 1)
}

// Search returns the closest documents to the query text.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]IndexMatch, error) {
	if limit <= 0 {
		limit = 5
	}

	// chromem-go requires nResults <= collection size.
	count := ix.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}

	results, err := ix.collection.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	matches := make([]IndexMatch, len(results))
	for i, r := range results {
		matches[i] = IndexMatch{
			Doc: IndexedDoc{
				DocSystem: r.Metadata["doc_system"],
				DocID:     r.Metadata["doc_id"],
				Title:     r.Metadata["title"],
				Service:   r.Metadata["service"],
			},
			Similarity: r.Similarity,
		}
	}
	return matches, nil
}

// Persist writes the index to disk so restarts do not re-embed.
func (ix *Index) Persist(dir string) error {
	return ix.db.ExportToFile(dir+"/docindex.gob.gz", true, "")
}

// Load restores a persisted index.
func (ix *Index) Load(dir string) error {
	if err := ix.db.ImportFromFile(dir+"/docindex.gob.gz", ""); err != nil {
		return fmt.Errorf("import from file: %w", err)
	}
	col := ix.db.GetCollection(collectionName, ix.embedFunc)
	if col == nil {
		return fmt.Errorf("collection %q not found after import", collectionName)
	}
	ix.collection = col
	return nil
}
