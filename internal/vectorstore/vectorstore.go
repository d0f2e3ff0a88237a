package vectorstore

import (
	"context"
	"os"
	"sync"

	"github.com/RichardoC/tablechat/internal/models"
	chromem "github.com/philippgille/chromem-go"
	"github.com/pkg/errors"
)

const defaultCollection = "table_descriptions"

type Document struct {
	ID      string
	Content string
}

type SearchResult struct {
	ID      string
	Content string
	Score   float32
}

// Store wraps a chromem DB, either purely in memory or persisted to disk.
// Documents are partitioned into namespaces, one chromem collection each.
type Store struct {
	id      string
	prefix  string
	embedFn chromem.EmbeddingFunc

	mu sync.RWMutex
	db *chromem.DB
}

func Open(props models.VectorStoreProps, embed chromem.EmbeddingFunc) (*Store, error) {
	var db *chromem.DB
	switch props.Type {
	case models.VectorStoreInMemory, "":
		db = chromem.NewDB()
	case models.VectorStorePersistent:
		if props.Path == "" {
			return nil, errors.Errorf("vector store %s: persistent store needs a path", props.ID)
		}
		if err := os.MkdirAll(props.Path, 0750); err != nil {
			return nil, errors.Wrapf(err, "create vector store dir %s", props.Path)
		}
		var err error
		if db, err = chromem.NewPersistentDB(props.Path, false); err != nil {
			return nil, errors.Wrapf(err, "open vector store %s", props.ID)
		}
	default:
		return nil, errors.Errorf("vector store %s: unknown type %q", props.ID, props.Type)
	}

	prefix := props.Collection
	if prefix == "" {
		prefix = defaultCollection
	}
	return &Store{id: props.ID, prefix: prefix, embedFn: embed, db: db}, nil
}

func (s *Store) ID() string { return s.id }

func (s *Store) collectionName(namespace string) string {
	return s.prefix + "_" + namespace
}

func (s *Store) collection(namespace string, create bool) (*chromem.Collection, error) {
	name := s.collectionName(namespace)
	if col := s.db.GetCollection(name, s.embedFn); col != nil || !create {
		return col, nil
	}
	col, err := s.db.CreateCollection(name, nil, s.embedFn)
	if err != nil {
		return nil, errors.Wrapf(err, "create collection %s", name)
	}
	return col, nil
}

// Index upserts docs into namespace. Documents keep their IDs, so
// re-indexing a table replaces its description.
func (s *Store) Index(ctx context.Context, namespace string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.collection(namespace, true)
	if err != nil {
		return err
	}
	for _, d := range docs {
		if d.ID == "" || d.Content == "" {
			return errors.New("vector store document needs an id and content")
		}
		if err := col.AddDocument(ctx, chromem.Document{ID: d.ID, Content: d.Content}); err != nil {
			return errors.Wrapf(err, "index document %s", d.ID)
		}
	}
	return nil
}

// Search returns up to k documents from namespace, most similar first.
func (s *Store) Search(ctx context.Context, namespace, query string, k int) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, err := s.collection(namespace, false)
	if err != nil || col == nil || k <= 0 {
		return nil, err
	}
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := col.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "query vector store")
	}
	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, SearchResult{
			ID:      r.ID,
			Content: r.Content,
			Score:   r.Similarity,
		})
	}
	return out, nil
}

func (s *Store) Count(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, _ := s.collection(namespace, false)
	if col == nil {
		return 0
	}
	return col.Count()
}
