package db

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/RichardoC/tablechat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `
CREATE TABLE customers (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL
);
CREATE TABLE orders (
    id INTEGER PRIMARY KEY,
    customer_id INTEGER REFERENCES customers(id),
    total REAL,
    note TEXT
);
INSERT INTO customers (id, name) VALUES (1, 'Ada'), (2, 'Grace');
INSERT INTO orders (id, customer_id, total, note) VALUES (1, 1, 9.5, NULL), (2, 2, 20, 'gift');`

func openFixture(t *testing.T) *Database {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = raw.Exec(fixture)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	database, err := Open(context.Background(), models.DatabaseProps{ID: "shop", URI: "sqlite3://" + path})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri    string
		driver string
		dsn    string
	}{
		{"sqlite3:///tmp/a.db", "sqlite3", "/tmp/a.db"},
		{"sqlite://a.db", "sqlite3", "a.db"},
		{"postgres://u:p@localhost:5432/db?sslmode=disable", "postgres", "postgres://u:p@localhost:5432/db?sslmode=disable"},
		{"postgresql://localhost/db", "postgres", "postgresql://localhost/db"},
		{"mysql://u:p@tcp(localhost:3306)/db", "mysql", "u:p@tcp(localhost:3306)/db"},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			driver, dsn, err := ParseURI(tt.uri)
			require.NoError(t, err)
			assert.Equal(t, tt.driver, driver)
			assert.Equal(t, tt.dsn, dsn)
		})
	}

	_, _, err := ParseURI("oracle://x")
	require.ErrorIs(t, err, ErrUnsupportedScheme)
	_, _, err = ParseURI("no-scheme")
	require.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestListTables(t *testing.T) {
	database := openFixture(t)

	tables, err := database.ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "orders"}, tables)
}

func TestDescribeTables(t *testing.T) {
	database := openFixture(t)
	ctx := context.Background()

	desc, err := database.DescribeTables(ctx, []string{"orders"})
	require.NoError(t, err)
	assert.Contains(t, desc, "CREATE TABLE orders")
	assert.Contains(t, desc, "customer_id")

	all, err := database.DescribeTables(ctx, nil)
	require.NoError(t, err)
	assert.Contains(t, all, "CREATE TABLE customers")
	assert.Contains(t, all, "CREATE TABLE orders")

	_, err = database.DescribeTables(ctx, []string{"missing"})
	require.ErrorIs(t, err, ErrUnknownTable)
}

func TestLoadData(t *testing.T) {
	database := openFixture(t)

	result, err := database.LoadData(context.Background(),
		"SELECT o.id, c.name, o.total, o.note FROM orders o JOIN customers c ON c.id = o.customer_id ORDER BY o.id")
	require.NoError(t, err)

	assert.Equal(t, "shop", result.DatabaseID)
	assert.Equal(t, []string{"id", "name", "total", "note"}, result.Columns)
	assert.Equal(t, [][]string{
		{"1", "Ada", "9.5", "None"},
		{"2", "Grace", "20", "gift"},
	}, result.Rows)
	assert.Equal(t, []string{"1, Ada, 9.5, None", "2, Grace, 20, gift"}, Documents(result))
	assert.False(t, result.Truncated)
}

func TestLoadData_TruncatesLongResults(t *testing.T) {
	database := openFixture(t)
	ctx := context.Background()

	result, err := database.LoadData(ctx, fmt.Sprintf(
		"WITH RECURSIVE n(i) AS (SELECT 1 UNION ALL SELECT i + 1 FROM n WHERE i < %d) SELECT i FROM n", maxRows+1))
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	require.Len(t, result.Rows, maxRows)
	assert.Equal(t, []string{"1"}, result.Rows[0])

	result, err = database.LoadData(ctx, fmt.Sprintf(
		"WITH RECURSIVE n(i) AS (SELECT 1 UNION ALL SELECT i + 1 FROM n WHERE i < %d) SELECT i FROM n", maxRows))
	require.NoError(t, err)
	assert.False(t, result.Truncated)
	assert.Len(t, result.Rows, maxRows)
}

func TestLoadData_Errors(t *testing.T) {
	database := openFixture(t)
	ctx := context.Background()

	_, err := database.LoadData(ctx, "  ")
	require.ErrorIs(t, err, ErrEmptyQuery)

	_, err = database.LoadData(ctx, "SELECT * FROM nowhere")
	require.Error(t, err)
}
