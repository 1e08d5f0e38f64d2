package repo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Repository {
	t.Helper()
	r, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRepository_Releases(t *testing.T) {
	r := openMemory(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, r.InsertRelease(ctx, ReleaseRecord{
		RequestID: "req-1", OrderID: "1234567", Plant: "A123", Quantity: 25.5,
		Outcome: OutcomeFailed, Error: "status=409", CreatedAt: base,
	}))
	require.NoError(t, r.InsertRelease(ctx, ReleaseRecord{
		RequestID: "req-2", OrderID: "1234567", Plant: "A123", Quantity: 25.5,
		Outcome: OutcomeReleased, CreatedAt: base.Add(time.Minute),
	}))
	require.NoError(t, r.InsertRelease(ctx, ReleaseRecord{
		RequestID: "req-3", OrderID: "7654321", Plant: "B200", Quantity: 1,
		Outcome: OutcomeReleased, CreatedAt: base,
	}))

	got, err := r.ListReleases(ctx, "1234567")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "req-1", got[0].RequestID)
	assert.Equal(t, OutcomeFailed, got[0].Outcome)
	assert.Equal(t, "status=409", got[0].Error)
	assert.Equal(t, 25.5, got[0].Quantity)
	assert.True(t, got[0].CreatedAt.Equal(base))
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, OutcomeReleased, got[1].Outcome)

	none, err := r.ListReleases(ctx, "0000000")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRepository_InsertMessage(t *testing.T) {
	r := openMemory(t)
	ctx := context.Background()

	require.NoError(t, r.InsertMessage(ctx, MessageRecord{
		RequestID: "req-1", Channel: "console", Sender: "operator",
		Direction: "incoming", Intent: "release_order", Content: "release order 1234567",
	}))

	var count int
	require.NoError(t, r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_messages WHERE request_id = ?`, "req-1").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestOpen_CreatesSQLiteDirectory(t *testing.T) {
	dir := t.TempDir()
	dsn := "file:" + filepath.Join(dir, "nested", "bot.db")

	r, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	// reopening runs the idempotent migration again
	r, err = Open(context.Background(), dsn)
	require.NoError(t, err)
	require.NoError(t, r.Close())
}

func TestRebind(t *testing.T) {
	pg := &Repository{dialect: dialectPostgres}
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b = $2", pg.rebind("SELECT 1 WHERE a = ? AND b = ?"))

	lite := &Repository{dialect: dialectSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestResolveDriver(t *testing.T) {
	tests := []struct {
		in      string
		driver  string
		dsn     string
		dialect dialect
	}{
		{in: "postgres://u:p@localhost/db", driver: "pgx", dsn: "postgres://u:p@localhost/db", dialect: dialectPostgres},
		{in: "postgresql://localhost/db", driver: "pgx", dsn: "postgresql://localhost/db", dialect: dialectPostgres},
		{in: "sqlite://data/x.db", driver: "sqlite", dsn: "data/x.db", dialect: dialectSQLite},
		{in: "file:data/x.db", driver: "sqlite", dsn: "file:data/x.db", dialect: dialectSQLite},
	}
	for _, tt := range tests {
		driver, dsn, d := resolveDriver(tt.in)
		assert.Equal(t, tt.driver, driver, tt.in)
		assert.Equal(t, tt.dsn, dsn, tt.in)
		assert.Equal(t, tt.dialect, d, tt.in)
	}
}
