package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/RichardoC/tablechat/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSession() (*Session, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return newWithClock("test", clock.now), clock
}

func TestCreateConversation_AddsOneEntryAndSelectsIt(t *testing.T) {
	s, clock := newTestSession()

	conv, err := s.CreateConversation("  Sales  ", "default", []string{"sales", "sales", "hr"})
	require.NoError(t, err)

	assert.Equal(t, "Sales", conv.Title)
	assert.Equal(t, "default", conv.VectorStoreID)
	assert.Equal(t, []string{"sales", "hr"}, conv.DatabaseIDs)
	assert.Equal(t, clock.t, conv.LastUpdate)
	assert.Empty(t, conv.Messages)

	assert.Equal(t, 1, s.Len())
	current, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "Sales", current.Title)
}

func TestCreateConversation_DuplicateTitleLeavesStateUntouched(t *testing.T) {
	s, _ := newTestSession()

	_, err := s.CreateConversation("first", "default", []string{"a"})
	require.NoError(t, err)
	_, err = s.CreateConversation("second", "default", nil)
	require.NoError(t, err)
	_, err = s.AppendMessage("first", models.RoleUser, "hello")
	require.NoError(t, err)

	before := s.Conversations()

	_, err = s.CreateConversation("first", "other", []string{"b"})
	require.True(t, errors.Is(err, ErrDuplicateTitle))

	assert.Equal(t, before, s.Conversations())
	assert.Equal(t, "second", s.CurrentTitle())
}

func TestCreateConversation_ConcurrentSameTitle(t *testing.T) {
	s := New("concurrent")

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateConversation("Sales", "mem", nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
			} else if errors.Is(err, ErrDuplicateTitle) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, conflicts)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, "Sales", s.CurrentTitle())
}

func TestAppendMessage_Concurrent(t *testing.T) {
	s := New("concurrent")
	_, err := s.CreateConversation("chat", "", nil)
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AppendMessage("chat", models.RoleUser, fmt.Sprintf("message %d", i))
			assert.NoError(t, err)
			_, _ = s.Conversation("chat")
		}(i)
	}
	wg.Wait()

	conv, ok := s.Conversation("chat")
	require.True(t, ok)
	assert.Len(t, conv.Messages, workers)
}

func TestCreateConversation_EmptyTitle(t *testing.T) {
	s, _ := newTestSession()

	_, err := s.CreateConversation("   ", "default", nil)
	require.ErrorIs(t, err, ErrEmptyTitle)
	assert.Equal(t, 0, s.Len())
}

func TestAppendMessage_PreservesOrderAndCount(t *testing.T) {
	s, clock := newTestSession()
	_, err := s.CreateConversation("chat", "default", nil)
	require.NoError(t, err)

	_, err = s.AppendMessage("chat", models.RoleUser, "how many orders?")
	require.NoError(t, err)
	clock.advance(time.Second)
	_, err = s.AppendMessage("chat", models.RoleAssistant, "42")
	require.NoError(t, err)

	conv, ok := s.Conversation("chat")
	require.True(t, ok)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, models.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "how many orders?", conv.Messages[0].Content)
	assert.Equal(t, models.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, "42", conv.Messages[1].Content)
	assert.True(t, conv.Messages[1].CreatedAt.After(conv.Messages[0].CreatedAt))
}

func TestAppendMessage_Errors(t *testing.T) {
	s, _ := newTestSession()
	_, err := s.CreateConversation("chat", "default", nil)
	require.NoError(t, err)

	_, err = s.AppendMessage("chat", "system", "nope")
	require.ErrorIs(t, err, ErrInvalidRole)

	_, err = s.AppendMessage("missing", models.RoleUser, "hi")
	require.ErrorIs(t, err, ErrConversationNotFound)

	conv, _ := s.Conversation("chat")
	assert.Empty(t, conv.Messages)
}

func TestConversation_ReturnsCopy(t *testing.T) {
	s, _ := newTestSession()
	_, err := s.CreateConversation("chat", "default", []string{"db"})
	require.NoError(t, err)

	conv, _ := s.Conversation("chat")
	conv.DatabaseIDs[0] = "changed"
	conv.Messages = append(conv.Messages, models.Message{Role: models.RoleUser})

	again, _ := s.Conversation("chat")
	assert.Equal(t, []string{"db"}, again.DatabaseIDs)
	assert.Empty(t, again.Messages)
}

func TestSelectAndClearSelection(t *testing.T) {
	s, _ := newTestSession()
	_, err := s.CreateConversation("a", "default", nil)
	require.NoError(t, err)
	_, err = s.CreateConversation("b", "default", nil)
	require.NoError(t, err)

	require.NoError(t, s.Select("a"))
	assert.Equal(t, "a", s.CurrentTitle())

	require.ErrorIs(t, s.Select("c"), ErrConversationNotFound)
	assert.Equal(t, "a", s.CurrentTitle())

	s.ClearSelection()
	_, ok := s.Current()
	assert.False(t, ok)

	titles := []string{}
	for _, c := range s.Conversations() {
		titles = append(titles, c.Title)
	}
	assert.Equal(t, []string{"a", "b"}, titles)
}

func TestUpdateSources_BumpsLastUpdate(t *testing.T) {
	s, _ := newTestSession()
	created, err := s.CreateConversation("chat", "default", []string{"a"})
	require.NoError(t, err)

	// Same clock reading still has to move the timestamp forward.
	updated, err := s.UpdateSources("chat", "disk", []string{"b"})
	require.NoError(t, err)
	assert.True(t, updated.LastUpdate.After(created.LastUpdate))
	assert.Equal(t, "disk", updated.VectorStoreID)
	assert.Equal(t, []string{"b"}, updated.DatabaseIDs)

	_, err = s.UpdateSources("missing", "disk", nil)
	require.ErrorIs(t, err, ErrConversationNotFound)
}

func TestRecordQueryResult(t *testing.T) {
	s, _ := newTestSession()
	_, err := s.CreateConversation("chat", "default", []string{"a"})
	require.NoError(t, err)

	require.NoError(t, s.RecordQueryResult("chat", models.QueryResult{
		DatabaseID: "a",
		Query:      "SELECT 1",
		Columns:    []string{"1"},
		Rows:       [][]string{{"1"}},
	}))
	require.ErrorIs(t, s.RecordQueryResult("missing", models.QueryResult{}), ErrConversationNotFound)

	conv, _ := s.Conversation("chat")
	require.Len(t, conv.QueryResults, 1)
	assert.Equal(t, "SELECT 1", conv.QueryResults[0].Query)
}

func TestManager_GetAndSweep(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(time.Hour, zap.NewNop())
	m.now = clock.now
	var expired []string
	m.OnExpire(func(id string) { expired = append(expired, id) })

	s, created := m.Get("")
	require.True(t, created)
	require.NotEmpty(t, s.ID())

	again, created := m.Get(s.ID())
	assert.False(t, created)
	assert.Same(t, s, again)

	other, created := m.Get("not-a-uuid")
	assert.True(t, created)
	assert.NotEqual(t, "not-a-uuid", other.ID())
	assert.Equal(t, 2, m.Len())

	clock.advance(30 * time.Minute)
	m.Get(s.ID())
	clock.advance(45 * time.Minute)

	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, []string{other.ID()}, expired)
	kept, created := m.Get(s.ID())
	assert.False(t, created)
	assert.Same(t, s, kept)
}
