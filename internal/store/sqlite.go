package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"menubot/pkg/logx"
)

type sqliteStore struct {
	db   *sql.DB
	path string
	log  logx.Logger
}

// Open creates (if needed) and migrates the sqlite database at path.
func Open(path string, log logx.Logger) (Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; every statement commits on its own.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	if log.IsZero() {
		log = logx.Nop()
	}
	s := &sqliteStore{db: db, path: path, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id   TEXT PRIMARY KEY,
			is_active INTEGER NOT NULL DEFAULT 1
		);`,
		// One fixed table with a period column replaces the per-month
		// tables the data model originally grew by dynamic DDL.
		`CREATE TABLE IF NOT EXISTS period_stats (
			period TEXT NOT NULL,
			button TEXT NOT NULL,
			count  INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (period, button)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_period_stats_period ON period_stats(period);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Path() string { return s.path }

func (s *sqliteStore) AddOrReactivateUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id) VALUES (?)
		 ON CONFLICT(user_id) DO UPDATE SET is_active = 1`,
		userID)
	return err
}

func (s *sqliteStore) SetActive(ctx context.Context, userID string, active bool) error {
	v := 0
	if active {
		v = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE users SET is_active = ? WHERE user_id = ?`, v, userID)
	return err
}

func (s *sqliteStore) ListActiveUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM users WHERE is_active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountByActivity(ctx context.Context, period Period) (ActivityCounts, error) {
	var c ActivityCounts
	err := s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(CASE WHEN is_active = 1 THEN 1 END),
			COUNT(CASE WHEN is_active = 0 THEN 1 END)
		 FROM users`).Scan(&c.Active, &c.Inactive)
	if err != nil {
		return ActivityCounts{}, err
	}
	for key, v := range map[string]int{ActiveUsersKey: c.Active, InactiveUsersKey: c.Inactive} {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE period_stats SET count = ? WHERE period = ? AND button = ?`,
			v, period.String(), key); err != nil {
			return ActivityCounts{}, err
		}
	}
	return c, nil
}

func (s *sqliteStore) EnsurePeriod(ctx context.Context, period Period, buttons []string) error {
	seed := make([]string, 0, len(buttons)+2)
	seed = append(seed, buttons...)
	seed = append(seed, ActiveUsersKey, InactiveUsersKey)
	for _, b := range seed {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO period_stats (period, button) VALUES (?, ?)`,
			period.String(), b); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) IncrementButtonCounter(ctx context.Context, period Period, button string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE period_stats SET count = count + 1 WHERE period = ? AND button = ?`,
		period.String(), button)
	return err
}

func (s *sqliteStore) ReadPeriod(ctx context.Context, period Period) ([]CounterRow, error) {
	// rowid order reproduces seeding order, keeping report lines stable.
	rows, err := s.db.QueryContext(ctx,
		`SELECT button, count FROM period_stats WHERE period = ? ORDER BY rowid`,
		period.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CounterRow
	for rows.Next() {
		var r CounterRow
		if err := rows.Scan(&r.Button, &r.Count); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListPeriods(ctx context.Context) ([]Period, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT period FROM period_stats ORDER BY period ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		p, err := ParsePeriod(raw)
		if err != nil {
			s.log.Warn("skipping malformed period row", logx.String("period", raw))
			continue
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// BackupTo writes a consistent snapshot using VACUUM INTO, which works even
// with WAL enabled.
func (s *sqliteStore) BackupTo(ctx context.Context, dstPath string) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o750); err != nil {
		return err
	}
	escaped := strings.ReplaceAll(dstPath, "'", "''")
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s';", escaped))
	return err
}
