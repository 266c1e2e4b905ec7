package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store persists watchlist items, orchestrator decisions, notifications and
// paper trades. One schema serves both Postgres and SQLite; queries are
// written with ? placeholders and rebound for Postgres.
type Store struct {
	db     *sql.DB
	driver string
}

func Open(driver, url string) (*Store, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// in-memory databases are per connection
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.createTables(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Info().Str("driver", driver).Msg("Connected to database")

	return s, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS watchlist_items (
		id TEXT PRIMARY KEY,
		strategy_id TEXT NOT NULL,
		item_type TEXT NOT NULL,
		item_id TEXT NOT NULL,
		status TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		UNIQUE (strategy_id, item_type, item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orchestrator_decisions (
		id TEXT PRIMARY KEY,
		execution_id TEXT NOT NULL,
		workflow_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		strategy_id TEXT NOT NULL,
		market_id TEXT NOT NULL,
		decision TEXT NOT NULL,
		direction TEXT NOT NULL DEFAULT '',
		recommended_size DOUBLE PRECISION NOT NULL DEFAULT 0,
		risk_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		ai_reasoning TEXT NOT NULL DEFAULT '',
		ai_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		portfolio_snapshot TEXT NOT NULL DEFAULT '{}',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		strategy_id TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS paper_trades (
		id TEXT PRIMARY KEY,
		strategy_id TEXT NOT NULL,
		decision_id TEXT NOT NULL,
		market_id TEXT NOT NULL,
		side TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		shares DOUBLE PRECISION NOT NULL,
		size_usd DOUBLE PRECISION NOT NULL,
		created_at BIGINT NOT NULL
	)`,
}

func (s *Store) createTables(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind turns ? placeholders into $1..$n for Postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func toJSON(v interface{}) string {
	if v == nil {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal column")
		return "{}"
	}
	return string(data)
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
