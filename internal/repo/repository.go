package repo

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Repository stores the operator transcript and the release audit trail.
// Postgres URLs use pgx; anything else is opened as a SQLite DSN.
type Repository struct {
	db      *sql.DB
	dialect dialect
}

// MessageRecord is one line of the operator conversation.
type MessageRecord struct {
	ID        string
	RequestID string
	Channel   string
	Sender    string
	Direction string
	Intent    string
	Content   string
	CreatedAt time.Time
}

// ReleaseRecord is one release attempt against the order API.
type ReleaseRecord struct {
	ID        string
	RequestID string
	OrderID   string
	Plant     string
	Quantity  float64
	Outcome   string
	Error     string
	CreatedAt time.Time
}

// Release outcomes.
const (
	OutcomeReleased = "released"
	OutcomeFailed   = "failed"
)

// Open connects to databaseURL and creates the tables when missing.
func Open(ctx context.Context, databaseURL string) (*Repository, error) {
	driver, dsn, d := resolveDriver(databaseURL)
	if d == dialectSQLite {
		if err := ensureSQLiteDir(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if d == dialectSQLite {
		// a single connection keeps :memory: databases shared and serialises writers
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	r := &Repository{db: db, dialect: d}
	if err := r.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			sender TEXT NOT NULL,
			direction TEXT NOT NULL,
			intent TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_releases (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			order_id TEXT NOT NULL,
			plant TEXT NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			outcome TEXT NOT NULL,
			error TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS order_releases_order_idx ON order_releases (order_id)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// InsertMessage appends a transcript line.
func (r *Repository) InsertMessage(ctx context.Context, msg MessageRecord) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, r.rebind(`INSERT INTO chat_messages
		(id, request_id, channel, sender, direction, intent, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		msg.ID, msg.RequestID, msg.Channel, msg.Sender, msg.Direction, msg.Intent, msg.Content, msg.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// InsertRelease records a release attempt.
func (r *Repository) InsertRelease(ctx context.Context, rel ReleaseRecord) error {
	if rel.ID == "" {
		rel.ID = uuid.NewString()
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, r.rebind(`INSERT INTO order_releases
		(id, request_id, order_id, plant, quantity, outcome, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		rel.ID, rel.RequestID, rel.OrderID, rel.Plant, rel.Quantity, rel.Outcome, rel.Error, rel.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert release: %w", err)
	}
	return nil
}

// ListReleases returns the attempts for orderID, oldest first.
func (r *Repository) ListReleases(ctx context.Context, orderID string) ([]ReleaseRecord, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`SELECT id, request_id, order_id, plant, quantity, outcome, error, created_at
		FROM order_releases WHERE order_id = ? ORDER BY created_at`), orderID)
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	defer rows.Close()

	var out []ReleaseRecord
	for rows.Next() {
		var (
			rel ReleaseRecord
			ms  int64
		)
		if err := rows.Scan(&rel.ID, &rel.RequestID, &rel.OrderID, &rel.Plant, &rel.Quantity, &rel.Outcome, &rel.Error, &ms); err != nil {
			return nil, fmt.Errorf("scan release: %w", err)
		}
		rel.CreatedAt = time.UnixMilli(ms)
		out = append(out, rel)
	}
	return out, rows.Err()
}

// rebind turns ? placeholders into $n for Postgres.
func (r *Repository) rebind(query string) string {
	if r.dialect != dialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(ch)
	}
	return sb.String()
}

func resolveDriver(databaseURL string) (string, string, dialect) {
	lower := strings.ToLower(databaseURL)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "pgx", databaseURL, dialectPostgres
	case strings.HasPrefix(lower, "sqlite://"):
		return "sqlite", databaseURL[len("sqlite://"):], dialectSQLite
	default:
		return "sqlite", databaseURL, dialectSQLite
	}
}

func ensureSQLiteDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	if path == "" || strings.HasPrefix(path, ":memory:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sqlite dir: %w", err)
	}
	return nil
}
