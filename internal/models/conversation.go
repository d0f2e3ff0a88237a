package models

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role      string    `json:"role"` // user or assistant
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// QueryResult is a SQL query the agent ran against one of the
// conversation's databases, with the rows it got back.
type QueryResult struct {
	DatabaseID string     `json:"database_id"`
	Query      string     `json:"query"`
	Columns    []string   `json:"columns"`
	Rows       [][]string `json:"rows"`
	ExecutedAt time.Time  `json:"executed_at"`
	// Truncated is set when the query had more rows than were kept.
	Truncated  bool       `json:"truncated,omitempty"`
}

type Conversation struct {
	Title         string        `json:"title"`
	VectorStoreID string        `json:"vector_store_id"`
	DatabaseIDs   []string      `json:"database_ids"`
	Messages      []Message     `json:"messages"`
	QueryResults  []QueryResult `json:"query_results"`
	LastUpdate    time.Time     `json:"last_update"`
}

// Clone returns a deep copy so callers can read a conversation without
// holding the session lock.
func (c *Conversation) Clone() Conversation {
	out := *c
	out.DatabaseIDs = append([]string(nil), c.DatabaseIDs...)
	out.Messages = append([]Message(nil), c.Messages...)
	out.QueryResults = make([]QueryResult, len(c.QueryResults))
	for i, r := range c.QueryResults {
		r.Columns = append([]string(nil), r.Columns...)
		r.Rows = append([][]string(nil), r.Rows...)
		out.QueryResults[i] = r
	}
	return out
}
