// Package catalog knows which vector stores and databases exist and keeps
// one open handle per id, plus one table-description index per
// (vector store, database) pair.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/RichardoC/tablechat/internal/db"
	"github.com/RichardoC/tablechat/internal/models"
	"github.com/RichardoC/tablechat/internal/vectorstore"
	chromem "github.com/philippgille/chromem-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrUnknownVectorStore = errors.New("unknown vector store")
	ErrUnknownDatabase    = errors.New("unknown database")
)

type indexKey struct {
	vectorStoreID string
	databaseID    string
}

type Catalog struct {
	vectorStores map[string]models.VectorStoreProps
	databases    map[string]models.DatabaseProps
	embed        chromem.EmbeddingFunc
	logger       *zap.Logger

	// mu guards the maps only; connecting and indexing run outside it,
	// deduplicated per key by group.
	mu      sync.Mutex
	stores  map[string]*vectorstore.Store
	dbs     map[string]*db.Database
	indexed map[indexKey]bool
	group   singleflight.Group
}

func New(vectorStores []models.VectorStoreProps, databases []models.DatabaseProps, embed chromem.EmbeddingFunc, logger *zap.Logger) (*Catalog, error) {
	c := &Catalog{
		vectorStores: make(map[string]models.VectorStoreProps, len(vectorStores)),
		databases:    make(map[string]models.DatabaseProps, len(databases)),
		embed:        embed,
		logger:       logger,
		stores:       map[string]*vectorstore.Store{},
		dbs:          map[string]*db.Database{},
		indexed:      map[indexKey]bool{},
	}
	for _, vs := range vectorStores {
		if vs.ID == "" {
			return nil, errors.New("vector store without id")
		}
		if _, dup := c.vectorStores[vs.ID]; dup {
			return nil, errors.Errorf("duplicate vector store id %q", vs.ID)
		}
		c.vectorStores[vs.ID] = vs
	}
	for _, d := range databases {
		if d.ID == "" {
			return nil, errors.New("database without id")
		}
		if _, dup := c.databases[d.ID]; dup {
			return nil, errors.Errorf("duplicate database id %q", d.ID)
		}
		if _, _, err := db.ParseURI(d.URI); err != nil {
			return nil, errors.Wrapf(err, "database %s", d.ID)
		}
		c.databases[d.ID] = d
	}
	return c, nil
}

func (c *Catalog) VectorStoreIDs() []string { return sortedKeys(c.vectorStores) }

func (c *Catalog) DatabaseIDs() []string { return sortedKeys(c.databases) }

func (c *Catalog) VectorStoreProps(id string) (models.VectorStoreProps, bool) {
	p, ok := c.vectorStores[id]
	return p, ok
}

// Validate checks that every id a conversation refers to is registered.
// A conversation without databases needs no vector store.
func (c *Catalog) Validate(vectorStoreID string, databaseIDs []string) error {
	if vectorStoreID == "" && len(databaseIDs) == 0 {
		return nil
	}
	if _, ok := c.vectorStores[vectorStoreID]; !ok {
		return errors.Wrapf(ErrUnknownVectorStore, "%q", vectorStoreID)
	}
	for _, id := range databaseIDs {
		if _, ok := c.databases[id]; !ok {
			return errors.Wrapf(ErrUnknownDatabase, "%q", id)
		}
	}
	return nil
}

func (c *Catalog) VectorStore(id string) (*vectorstore.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vectorStoreLocked(id)
}

func (c *Catalog) vectorStoreLocked(id string) (*vectorstore.Store, error) {
	if s, ok := c.stores[id]; ok {
		return s, nil
	}
	props, ok := c.vectorStores[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownVectorStore, "%q", id)
	}
	c.logger.Info("Retrieving vector store", zap.String("vectorStore", id), zap.String("type", string(props.Type)))
	s, err := vectorstore.Open(props, c.embed)
	if err != nil {
		return nil, err
	}
	c.stores[id] = s
	return s, nil
}

func (c *Catalog) Database(ctx context.Context, id string) (*db.Database, error) {
	c.mu.Lock()
	d, ok := c.dbs[id]
	c.mu.Unlock()
	if ok {
		return d, nil
	}
	props, ok := c.databases[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownDatabase, "%q", id)
	}

	v, err, _ := c.group.Do("db/"+id, func() (any, error) {
		c.mu.Lock()
		d, ok := c.dbs[id]
		c.mu.Unlock()
		if ok {
			return d, nil
		}
		c.logger.Info("Connecting to database", zap.String("database", id))
		d, err := db.Open(ctx, props)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.dbs[id] = d
		c.mu.Unlock()
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*db.Database), nil
}

// TableIndex makes sure the description of every table in databaseID is
// indexed in vectorStoreID and returns the store. Indexing happens once
// per pair.
func (c *Catalog) TableIndex(ctx context.Context, vectorStoreID, databaseID string) (*vectorstore.Store, error) {
	store, err := c.VectorStore(vectorStoreID)
	if err != nil {
		return nil, err
	}
	key := indexKey{vectorStoreID: vectorStoreID, databaseID: databaseID}
	if c.isIndexed(key) {
		return store, nil
	}

	_, err, _ = c.group.Do("index/"+vectorStoreID+"/"+databaseID, func() (any, error) {
		if c.isIndexed(key) {
			return nil, nil
		}
		database, err := c.Database(ctx, databaseID)
		if err != nil {
			return nil, err
		}
		tables, err := database.ListTables(ctx)
		if err != nil {
			return nil, err
		}

		docs := make([]vectorstore.Document, 0, len(tables))
		for _, table := range tables {
			desc, err := database.DescribeTables(ctx, []string{table})
			if err != nil {
				return nil, err
			}
			docs = append(docs, vectorstore.Document{
				ID:      table,
				Content: fmt.Sprintf("Definition of %q table:\n%s", table, desc),
			})
		}
		if err := store.Index(ctx, databaseID, docs); err != nil {
			return nil, errors.Wrapf(err, "index tables of %s", databaseID)
		}
		c.logger.Info("Indexed table descriptions",
			zap.String("vectorStore", vectorStoreID),
			zap.String("database", databaseID),
			zap.Int("tables", len(docs)))

		c.mu.Lock()
		c.indexed[key] = true
		c.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (c *Catalog) isIndexed(key indexKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexed[key]
}

func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for id, d := range c.dbs {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "close database %s", id)
		}
		delete(c.dbs, id)
	}
	return firstErr
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
