package session

import (
	"strings"
	"sync"
	"time"

	"github.com/RichardoC/tablechat/internal/models"
	"github.com/pkg/errors"
)

var (
	ErrEmptyTitle           = errors.New("conversation title is required")
	ErrDuplicateTitle       = errors.New("a conversation with this title already exists")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidRole          = errors.New("message role must be user or assistant")
)

// Session is the state of one web session: its conversations, keyed by
// title, and the one currently shown in the main panel.
type Session struct {
	id  string
	now func() time.Time

	mu            sync.RWMutex
	order         []string
	conversations map[string]*models.Conversation
	current       string
	lastSeen      time.Time
}

func New(id string) *Session {
	return newWithClock(id, time.Now)
}

func newWithClock(id string, now func() time.Time) *Session {
	return &Session{
		id:            id,
		now:           now,
		conversations: map[string]*models.Conversation{},
		lastSeen:      now(),
	}
}

func (s *Session) ID() string { return s.id }

// CreateConversation adds a conversation and selects it. A title that is
// already taken is rejected without touching any state.
func (s *Session) CreateConversation(title, vectorStoreID string, databaseIDs []string) (models.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return models.Conversation{}, ErrEmptyTitle
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[title]; ok {
		return models.Conversation{}, ErrDuplicateTitle
	}

	conv := &models.Conversation{
		Title:         title,
		VectorStoreID: vectorStoreID,
		DatabaseIDs:   dedupe(databaseIDs),
		Messages:      []models.Message{},
		LastUpdate:    s.now(),
	}
	s.conversations[title] = conv
	s.order = append(s.order, title)
	s.current = title
	return conv.Clone(), nil
}

func (s *Session) Select(title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[title]; !ok {
		return errors.Wrapf(ErrConversationNotFound, "select %q", title)
	}
	s.current = title
	return nil
}

// ClearSelection leaves no conversation selected, which shows the
// creation form.
func (s *Session) ClearSelection() {
	s.mu.Lock()
	s.current = ""
	s.mu.Unlock()
}

func (s *Session) Current() (models.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == "" {
		return models.Conversation{}, false
	}
	return s.conversations[s.current].Clone(), true
}

func (s *Session) CurrentTitle() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Session) Conversation(title string) (models.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[title]
	if !ok {
		return models.Conversation{}, false
	}
	return conv.Clone(), true
}

// Conversations lists conversations in creation order.
func (s *Session) Conversations() []models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Conversation, 0, len(s.order))
	for _, title := range s.order {
		out = append(out, s.conversations[title].Clone())
	}
	return out
}

func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

func (s *Session) AppendMessage(title, role, content string) (models.Message, error) {
	if role != models.RoleUser && role != models.RoleAssistant {
		return models.Message{}, errors.Wrapf(ErrInvalidRole, "got %q", role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[title]
	if !ok {
		return models.Message{}, errors.Wrapf(ErrConversationNotFound, "append to %q", title)
	}
	msg := models.Message{Role: role, Content: content, CreatedAt: s.now()}
	conv.Messages = append(conv.Messages, msg)
	return msg, nil
}

func (s *Session) RecordQueryResult(title string, result models.QueryResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[title]
	if !ok {
		return errors.Wrapf(ErrConversationNotFound, "record query for %q", title)
	}
	conv.QueryResults = append(conv.QueryResults, result)
	return nil
}

// UpdateSources points a conversation at different data sources. The
// last-update timestamp moves forward, so the next chat gets a fresh agent.
func (s *Session) UpdateSources(title, vectorStoreID string, databaseIDs []string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[title]
	if !ok {
		return models.Conversation{}, errors.Wrapf(ErrConversationNotFound, "update %q", title)
	}
	conv.VectorStoreID = vectorStoreID
	conv.DatabaseIDs = dedupe(databaseIDs)
	now := s.now()
	if !now.After(conv.LastUpdate) {
		now = conv.LastUpdate.Add(time.Nanosecond)
	}
	conv.LastUpdate = now
	return conv.Clone(), nil
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = s.now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
