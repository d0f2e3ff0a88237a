package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/RichardoC/tablechat/internal/db"
	"github.com/RichardoC/tablechat/internal/models"
	"github.com/RichardoC/tablechat/internal/vectorstore"
	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/tools"
)

// Tool is a langchaingo tool that can also describe its arguments as a
// JSON schema, which is what function calling needs.
type Tool interface {
	tools.Tool
	Parameters() map[string]any
}

// QuerySink receives every query the agent runs against a database.
type QuerySink func(ctx context.Context, result models.QueryResult)

type queryObserverKey struct{}

// WithQueryObserver returns a context under which fn is told about every
// query the agent runs, as soon as it has run.
func WithQueryObserver(ctx context.Context, fn func(models.QueryResult)) context.Context {
	return context.WithValue(ctx, queryObserverKey{}, fn)
}

func observeQuery(ctx context.Context, result models.QueryResult) {
	if fn, ok := ctx.Value(queryObserverKey{}).(func(models.QueryResult)); ok && fn != nil {
		fn(result)
	}
}

var unsafeToolChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func toolName(databaseID, base string) string {
	prefix := unsafeToolChars.ReplaceAllString(databaseID, "_")
	return prefix + "_" + base
}

// DatabaseTools returns the tool set the agent gets for one database: a
// semantic search over its table descriptions plus tools to list, describe
// and query its tables.
func DatabaseTools(database *db.Database, index *vectorstore.Store, searchK int, sink QuerySink) []Tool {
	return []Tool{
		&tableQueryTool{name: toolName(database.ID(), "table_query_engine"), store: index, namespace: database.ID(), k: searchK},
		&listTablesTool{name: toolName(database.ID(), "list_tables"), db: database},
		&describeTablesTool{name: toolName(database.ID(), "describe_tables"), db: database},
		&loadDataTool{name: toolName(database.ID(), "load_data"), db: database, sink: sink},
	}
}

// stringArg pulls key out of a JSON object. Models sometimes send the bare
// value instead of an object; that is accepted too.
func stringArg(input, key string) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return strings.TrimSpace(input)
	}
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

type tableQueryTool struct {
	name      string
	store     *vectorstore.Store
	namespace string
	k         int
}

func (t *tableQueryTool) Name() string { return t.name }

func (t *tableQueryTool) Description() string {
	return fmt.Sprintf("Contains table descriptions for the %s database. Input is a natural language question about which tables or columns hold some data.", t.namespace)
}

func (t *tableQueryTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"input": map[string]any{"type": "string", "description": "What you are looking for"},
	}, "input")
}

func (t *tableQueryTool) Call(ctx context.Context, input string) (string, error) {
	query := stringArg(input, "input")
	if query == "" {
		return "", errors.New("input is required")
	}
	results, err := t.store.Search(ctx, t.namespace, query, t.k)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No table descriptions found.", nil
	}
	var sb strings.Builder
	for _, r := range results {
		sb.WriteString(r.Content)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String()), nil
}

type listTablesTool struct {
	name string
	db   *db.Database
}

func (t *listTablesTool) Name() string { return t.name }

func (t *listTablesTool) Description() string {
	return fmt.Sprintf("Returns the names of all tables in the %s database.", t.db.ID())
}

func (t *listTablesTool) Parameters() map[string]any {
	return objectSchema(map[string]any{})
}

func (t *listTablesTool) Call(ctx context.Context, _ string) (string, error) {
	tables, err := t.db.ListTables(ctx)
	if err != nil {
		return "", err
	}
	return strings.Join(tables, ", "), nil
}

type describeTablesTool struct {
	name string
	db   *db.Database
}

func (t *describeTablesTool) Name() string { return t.name }

func (t *describeTablesTool) Description() string {
	return fmt.Sprintf("Describes the schema of tables in the %s database. Leave tables empty to describe all of them.", t.db.ID())
}

func (t *describeTablesTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"tables": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "Table names",
		},
	})
}

func (t *describeTablesTool) Call(ctx context.Context, input string) (string, error) {
	var args struct {
		Tables []string `json:"tables"`
	}
	if strings.TrimSpace(input) != "" {
		if err := json.Unmarshal([]byte(input), &args); err != nil {
			return "", errors.Wrap(err, "invalid arguments")
		}
	}
	return t.db.DescribeTables(ctx, args.Tables)
}

type loadDataTool struct {
	name string
	db   *db.Database
	sink QuerySink
}

func (t *loadDataTool) Name() string { return t.name }

func (t *loadDataTool) Description() string {
	return fmt.Sprintf("Query and load data from the %s database. Input is an SQL query to filter tables and rows; every row comes back as one line of comma separated values.", t.db.ID())
}

func (t *loadDataTool) Parameters() map[string]any {
	return objectSchema(map[string]any{
		"query": map[string]any{"type": "string", "description": "SQL query"},
	}, "query")
}

func (t *loadDataTool) Call(ctx context.Context, input string) (string, error) {
	result, err := t.db.LoadData(ctx, stringArg(input, "query"))
	if err != nil {
		return "", err
	}
	if t.sink != nil {
		t.sink(ctx, result)
	}
	docs := db.Documents(result)
	if len(docs) == 0 {
		return "The query returned no rows.", nil
	}
	if result.Truncated {
		docs = append(docs, fmt.Sprintf("(truncated to the first %d rows)", len(result.Rows)))
	}
	return strings.Join(docs, "\n"), nil
}
