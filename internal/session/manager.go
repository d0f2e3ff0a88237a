package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager hands out one Session per web session id. Sessions live in
// memory only and are dropped after ttl without activity.
type Manager struct {
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	onExpire []func(id string)
}

func NewManager(ttl time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
		sessions: map[string]*Session{},
	}
}

// Get returns the session for id, creating it when id is empty or unknown.
// The returned bool reports whether a new session was created.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok && id != "" {
		s.touch()
		return s, false
	}

	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	s := newWithClock(id, m.now)
	m.sessions[id] = s
	m.logger.Debug("Created session", zap.String("session", id))
	return s, true
}

// OnExpire registers fn to be called with the id of every session the
// sweeper drops.
func (m *Manager) OnExpire(fn func(id string)) {
	m.mu.Lock()
	m.onExpire = append(m.onExpire, fn)
	m.mu.Unlock()
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep drops sessions idle for longer than the ttl and returns how many
// were removed.
func (m *Manager) Sweep() int {
	if m.ttl <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.ttl)

	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			delete(m.sessions, id)
			expired = append(expired, id)
		}
	}
	hooks := append([]func(string){}, m.onExpire...)
	m.mu.Unlock()

	for _, id := range expired {
		for _, fn := range hooks {
			fn(id)
		}
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Info("Expired idle sessions", zap.Int("count", n))
			}
		}
	}
}
