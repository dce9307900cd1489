// CLAUDE:SUMMARY SQLite-backed source definitions: schema, CRUD, and row decoding into Source values.
package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/mangafetch/connectivity"
	"github.com/hazyhaar/mangafetch/dbopen"
	"github.com/hazyhaar/mangafetch/extract"
)

// Schema defines the sources table. Endpoints and rules are JSON columns.
// Any write bumps PRAGMA data_version, which Watch polls for hot reload.
const Schema = `
CREATE TABLE IF NOT EXISTS sources (
    id             TEXT PRIMARY KEY,
    name           TEXT NOT NULL DEFAULT '',
    base_url       TEXT NOT NULL,
    priority       INTEGER NOT NULL DEFAULT 0,
    active         INTEGER NOT NULL DEFAULT 1,
    fallback       INTEGER NOT NULL DEFAULT 1,
    fetcher        TEXT NOT NULL DEFAULT 'http' CHECK(fetcher IN ('http', 'browser', 'auto')),
    rate_requests  INTEGER NOT NULL DEFAULT 0,
    rate_window_ms INTEGER NOT NULL DEFAULT 0,
    endpoints      TEXT NOT NULL DEFAULT '{}',
    rules          TEXT NOT NULL DEFAULT '{}',
    updated_at     INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_sources_priority ON sources(priority);
`

// Store persists sources in SQLite.
type Store struct {
	DB *sql.DB
}

// NewStore wraps db. Call Init before first use.
func NewStore(db *sql.DB) *Store { return &Store{DB: db} }

// Init creates the sources table if it doesn't exist.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, Schema)
	return err
}

// Upsert validates src and inserts or replaces its row.
func (s *Store) Upsert(ctx context.Context, src *Source) error {
	args, err := upsertArgs(src)
	if err != nil {
		return err
	}
	if _, err := dbopen.Exec(ctx, s.DB, upsertSQL, args...); err != nil {
		return fmt.Errorf("source: upsert %s: %w", src.ID, err)
	}
	return nil
}

// Import upserts every source in one transaction. Nothing is written if
// any source is invalid.
func (s *Store) Import(ctx context.Context, all []*Source) error {
	rows := make([][]any, 0, len(all))
	for _, src := range all {
		args, err := upsertArgs(src)
		if err != nil {
			return err
		}
		rows = append(rows, args)
	}
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		for i, args := range rows {
			if _, err := tx.ExecContext(ctx, upsertSQL, args...); err != nil {
				return fmt.Errorf("source: import %s: %w", all[i].ID, err)
			}
		}
		return nil
	})
}

const upsertSQL = `
	INSERT INTO sources (id, name, base_url, priority, active, fallback, fetcher,
	                     rate_requests, rate_window_ms, endpoints, rules, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		base_url = excluded.base_url,
		priority = excluded.priority,
		active = excluded.active,
		fallback = excluded.fallback,
		fetcher = excluded.fetcher,
		rate_requests = excluded.rate_requests,
		rate_window_ms = excluded.rate_window_ms,
		endpoints = excluded.endpoints,
		rules = excluded.rules,
		updated_at = excluded.updated_at`

func upsertArgs(src *Source) ([]any, error) {
	c := src.Clone()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	endpoints, err := json.Marshal(c.Endpoints)
	if err != nil {
		return nil, fmt.Errorf("source: marshal endpoints: %w", err)
	}
	rules, err := json.Marshal(c.Rules)
	if err != nil {
		return nil, fmt.Errorf("source: marshal rules: %w", err)
	}
	return []any{
		c.ID, c.Name, c.BaseURL, c.Priority, c.Active, c.Fallback, string(c.Fetcher),
		c.RateLimit.Requests, c.RateLimit.Window.Milliseconds(),
		string(endpoints), string(rules), time.Now().Unix(),
	}, nil
}

// Delete removes a source row.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := dbopen.Exec(ctx, s.DB, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("source: delete %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return nil
}

// SetActive toggles a source without rewriting its definition.
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	res, err := dbopen.Exec(ctx, s.DB,
		`UPDATE sources SET active = ?, updated_at = ? WHERE id = ?`, active, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("source: set active %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return nil
}

// Get loads one source.
func (s *Store) Get(ctx context.Context, id string) (*Source, error) {
	row := s.DB.QueryRowContext(ctx, selectSources+` WHERE id = ?`, id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return src, err
}

// List loads every source, ordered by priority then ID. Rows are decoded
// but not validated.
func (s *Store) List(ctx context.Context) ([]*Source, error) {
	rows, err := s.DB.QueryContext(ctx, selectSources+` ORDER BY priority, id`)
	if err != nil {
		return nil, fmt.Errorf("source: query sources: %w", err)
	}
	defer rows.Close()

	var out []*Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("source: rows: %w", err)
	}
	return out, nil
}

const selectSources = `SELECT id, name, base_url, priority, active, fallback, fetcher,
	rate_requests, rate_window_ms, endpoints, rules FROM sources`

type scanner interface {
	Scan(dest ...any) error
}

func scanSource(sc scanner) (*Source, error) {
	var (
		src                 Source
		fetcher             string
		windowMS            int64
		endpoints, rulesRaw string
	)
	err := sc.Scan(&src.ID, &src.Name, &src.BaseURL, &src.Priority, &src.Active, &src.Fallback,
		&fetcher, &src.RateLimit.Requests, &windowMS, &endpoints, &rulesRaw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("source: scan: %w", err)
	}
	src.Fetcher = FetcherKind(fetcher)
	src.RateLimit.Window = time.Duration(windowMS) * time.Millisecond
	if err := json.Unmarshal([]byte(endpoints), &src.Endpoints); err != nil {
		return nil, fmt.Errorf("source %s: decode endpoints: %w", src.ID, err)
	}
	src.Rules = make(map[string]*extract.RuleSet)
	if err := json.Unmarshal([]byte(rulesRaw), &src.Rules); err != nil {
		return nil, fmt.Errorf("source %s: decode rules: %w", src.ID, err)
	}
	if !src.RateLimit.Valid() {
		src.RateLimit = connectivity.RateLimit{}
	}
	return &src, nil
}
