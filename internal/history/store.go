// Package history persists per-user synthesis preferences and a log of
// processed requests in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aloudlabs/aloud-core/internal/config"
	_ "modernc.org/sqlite"
)

// Settings are one user's synthesis preferences.
type Settings struct {
	UserID             string
	Voice              string
	Rate               string
	Pitch              string
	MaxDurationMinutes int
	UpdatedAt          time.Time
}

// Request is one audit row for a processed synthesis request.
type Request struct {
	ID        int64
	UserID    string
	Chars     int
	Parts     int
	Status    string
	Error     string
	ElapsedMS int64
	CreatedAt time.Time
}

// Store wraps the SQLite-backed history database. An empty path
// disables persistence; every operation becomes a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the history store according to config.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS user_settings (
    user_id TEXT PRIMARY KEY,
    voice TEXT NOT NULL,
    rate TEXT NOT NULL,
    pitch TEXT NOT NULL,
    max_duration_minutes INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS requests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    chars INTEGER NOT NULL,
    parts INTEGER NOT NULL,
    status TEXT NOT NULL,
    error TEXT,
    elapsed_ms INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_requests_user_created ON requests(user_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveSettings upserts a user's preference row.
func (s *Store) SaveSettings(ctx context.Context, set Settings) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_settings(user_id, voice, rate, pitch, max_duration_minutes, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   voice=excluded.voice, rate=excluded.rate, pitch=excluded.pitch,
		   max_duration_minutes=excluded.max_duration_minutes, updated_at=excluded.updated_at`,
		set.UserID, set.Voice, set.Rate, set.Pitch, set.MaxDurationMinutes, s.clock().UTC())
	return err
}

// GetSettings returns a user's preferences, or nil if none were saved.
func (s *Store) GetSettings(ctx context.Context, userID string) (*Settings, error) {
	if s.db == nil {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, voice, rate, pitch, max_duration_minutes, updated_at
		 FROM user_settings WHERE user_id = ?`, userID)

	var set Settings
	var updated string
	if err := row.Scan(&set.UserID, &set.Voice, &set.Rate, &set.Pitch, &set.MaxDurationMinutes, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		set.UpdatedAt = ts
	}
	return &set, nil
}

// SaveRequest appends one audit row.
func (s *Store) SaveRequest(ctx context.Context, req Request) error {
	if s.db == nil {
		return nil
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requests(user_id, chars, parts, status, error, elapsed_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		req.UserID, req.Chars, req.Parts, req.Status, req.Error, req.ElapsedMS, req.CreatedAt)
	return err
}

// RecentRequests lists up to limit of a user's requests, newest first.
func (s *Store) RecentRequests(ctx context.Context, userID string, limit int) ([]Request, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, chars, parts, status, error, elapsed_ms, created_at
		 FROM requests WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		var r Request
		var errText sql.NullString
		var created string
		if err := rows.Scan(&r.ID, &r.UserID, &r.Chars, &r.Parts, &r.Status, &errText, &r.ElapsedMS, &created); err != nil {
			return nil, err
		}
		r.Error = errText.String
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = ts
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune applies configured retention to the request log. Preference
// rows are kept indefinitely.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM requests WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxRequests > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM requests WHERE id IN (
			SELECT id FROM requests ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRequests)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
