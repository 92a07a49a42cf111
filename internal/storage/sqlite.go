package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (creating if needed) the SQLite database at cfg.Path and
// applies the embedded schema.
func Open(cfg Config, log zerolog.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) CreateSeries(ctx context.Context, sr Series) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO series(id, title, platform) VALUES(?,?,?)`,
		sr.ID, sr.Title, sr.Platform,
	)
	return err
}

func (s *sqliteStore) ListSeries(ctx context.Context) ([]Series, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, platform FROM series ORDER BY title`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSeries(rows)
}

func (s *sqliteStore) GetSeries(ctx context.Context, id string) (Series, error) {
	var sr Series
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, platform FROM series WHERE id = ?`, id,
	).Scan(&sr.ID, &sr.Title, &sr.Platform)
	if errors.Is(err, sql.ErrNoRows) {
		return Series{}, ErrSeriesNotFound
	}
	if err != nil {
		return Series{}, err
	}
	return sr, nil
}

func (s *sqliteStore) Subscribe(ctx context.Context, chatID int64, seriesID string) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_follows(chat_id, series_id) VALUES(?,?)
		 ON CONFLICT(chat_id, series_id) DO NOTHING`,
		chatID, seriesID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyFollowed
	}
	return nil
}

func (s *sqliteStore) Unsubscribe(ctx context.Context, chatID int64, seriesID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM channel_follows WHERE chat_id = ? AND series_id = ?`,
		chatID, seriesID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFollowed
	}
	return nil
}

func (s *sqliteStore) ClearSubscriptions(ctx context.Context, chatID int64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM channel_follows WHERE chat_id = ?`, chatID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) ListSubscriptions(ctx context.Context, chatID int64, limit int) ([]Series, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.title, s.platform
		 FROM channel_follows f JOIN series s ON s.id = f.series_id
		 WHERE f.chat_id = ?
		 ORDER BY s.title
		 LIMIT ?`,
		chatID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSeries(rows)
}

func (s *sqliteStore) Subscribers(ctx context.Context, seriesID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id FROM channel_follows WHERE series_id = ? ORDER BY chat_id`,
		seriesID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetRefreshState(ctx context.Context, provider string) (RefreshState, bool, error) {
	var (
		st RefreshState
		ms int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT provider, last_attempt_ms, etag, last_modified FROM refresh WHERE provider = ?`,
		provider,
	).Scan(&st.Provider, &ms, &st.ETag, &st.LastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return RefreshState{}, false, nil
	}
	if err != nil {
		return RefreshState{}, false, err
	}
	st.LastAttempt = time.UnixMilli(ms).UTC()
	return st, true, nil
}

func (s *sqliteStore) PutRefreshState(ctx context.Context, st RefreshState) error {
	ms := st.LastAttempt.UnixMilli()
	// MAX keeps last_attempt monotonic even if a caller hands us a stale clock.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh(provider, last_attempt_ms, etag, last_modified) VALUES(?,?,?,?)
		 ON CONFLICT(provider) DO UPDATE SET
		   last_attempt_ms = MAX(last_attempt_ms, excluded.last_attempt_ms),
		   etag            = excluded.etag,
		   last_modified   = excluded.last_modified`,
		st.Provider, ms, st.ETag, st.LastModified,
	)
	return err
}

func (s *sqliteStore) HasSent(ctx context.Context, chatID int64, permalink string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM prev_sends WHERE chat_id = ? AND permalink = ?`,
		chatID, permalink,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) RecordSent(ctx context.Context, chatID int64, permalink string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prev_sends(chat_id, permalink, sent_at_ms) VALUES(?,?,?)
		 ON CONFLICT(chat_id, permalink) DO NOTHING`,
		chatID, permalink, time.Now().UnixMilli(),
	)
	return err
}

func scanSeries(rows *sql.Rows) ([]Series, error) {
	var out []Series
	for rows.Next() {
		var sr Series
		if err := rows.Scan(&sr.ID, &sr.Title, &sr.Platform); err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}
