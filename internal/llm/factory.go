package llm

import (
	"context"
	"sync"
	"time"

	"github.com/RichardoC/tablechat/internal/catalog"
	"github.com/RichardoC/tablechat/internal/models"
	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationSource is where the factory looks conversations up and
// reports the queries their agents run. session.Session implements it.
type ConversationSource interface {
	ID() string
	Conversation(title string) (models.Conversation, bool)
	RecordQueryResult(title string, result models.QueryResult) error
}

type agentKey struct {
	session      string
	conversation string
}

type cachedAgent struct {
	lastUpdate time.Time
	agent      *Agent
}

// Factory builds one agent per conversation and reuses it until the
// conversation's last-update timestamp changes.
type Factory struct {
	model   llms.Model
	catalog *catalog.Catalog
	opts    Options
	logger  *zap.Logger

	mu     sync.Mutex
	agents map[agentKey]cachedAgent
}

func NewFactory(model llms.Model, cat *catalog.Catalog, opts Options, logger *zap.Logger) *Factory {
	return &Factory{
		model:   model,
		catalog: cat,
		opts:    opts.withDefaults(),
		logger:  logger,
		agents:  map[agentKey]cachedAgent{},
	}
}

func (f *Factory) Get(ctx context.Context, src ConversationSource, conversationID string, lastUpdate time.Time) (*Agent, error) {
	key := agentKey{session: src.ID(), conversation: conversationID}

	f.mu.Lock()
	cached, ok := f.agents[key]
	f.mu.Unlock()
	if ok && cached.lastUpdate.Equal(lastUpdate) {
		return cached.agent, nil
	}

	conv, ok := src.Conversation(conversationID)
	if !ok {
		return nil, errors.Wrapf(ErrConversationNotFound, "%q", conversationID)
	}

	f.logger.Info("Creating agent",
		zap.String("conversation", conversationID),
		zap.String("vectorStore", conv.VectorStoreID),
		zap.Strings("databases", conv.DatabaseIDs))

	sink := func(ctx context.Context, result models.QueryResult) {
		if err := src.RecordQueryResult(conversationID, result); err != nil {
			f.logger.Warn("Failed to record query result", zap.String("conversation", conversationID), zap.Error(err))
		}
		observeQuery(ctx, result)
	}

	var toolList []Tool
	for _, databaseID := range conv.DatabaseIDs {
		database, err := f.catalog.Database(ctx, databaseID)
		if err != nil {
			return nil, err
		}
		index, err := f.catalog.TableIndex(ctx, conv.VectorStoreID, databaseID)
		if err != nil {
			return nil, err
		}
		toolList = append(toolList, DatabaseTools(database, index, f.opts.SearchK, sink)...)
	}

	agent := NewAgent(f.model, toolList, f.opts, f.logger)

	f.mu.Lock()
	f.agents[key] = cachedAgent{lastUpdate: lastUpdate, agent: agent}
	f.mu.Unlock()
	return agent, nil
}

// Forget drops every cached agent of a web session.
func (f *Factory) Forget(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.agents {
		if key.session == sessionID {
			delete(f.agents, key)
		}
	}
}

func (f *Factory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.agents)
}
