package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/pauljones0/profile-scraper/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_name TEXT NOT NULL,
	handle TEXT NOT NULL,
	followers INTEGER NOT NULL,
	post_count INTEGER NOT NULL,
	status TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS posts (
	run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	post_id TEXT NOT NULL,
	post_type TEXT NOT NULL,
	text TEXT NOT NULL,
	date TEXT,
	reply INTEGER NOT NULL,
	repost INTEGER NOT NULL,
	likes INTEGER NOT NULL,
	views INTEGER,
	PRIMARY KEY (run_id, post_id)
);
CREATE INDEX IF NOT EXISTS idx_runs_handle ON runs(handle);
`

// SQLiteSink keeps a local archive of every run in a SQLite file, so the
// history of a profile can be queried across runs.
type SQLiteSink struct {
	db *sql.DB
}

func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Writes are serialized by SQLite anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// Save inserts the run and its posts in one transaction.
func (s *SQLiteSink) Save(ctx context.Context, result *models.ScrapeResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (account_name, handle, followers, post_count, status, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		result.AccountName, result.Handle, result.Followers, result.PostCount,
		string(result.Status), result.StartedAt.UTC(), result.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read run id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO posts (run_id, seq, post_id, post_type, text, date, reply, repost, likes, views)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare post insert: %w", err)
	}
	defer stmt.Close()

	for i, p := range result.Posts {
		var date, views any
		if p.Timestamp != nil {
			date = *p.Timestamp
		}
		if p.Engagement.Views != nil {
			views = *p.Engagement.Views
		}
		if _, err := stmt.ExecContext(ctx, runID, i, p.ID, string(p.Type), p.Text, date,
			p.Engagement.Reply, p.Engagement.Repost, p.Engagement.Like, views); err != nil {
			return fmt.Errorf("failed to insert post %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	slog.Info("Saved run to SQLite", "run", runID, "posts", len(result.Posts))
	return nil
}

// Posts returns the posts of the most recent run for handle, in first-seen order.
func (s *SQLiteSink) Posts(ctx context.Context, handle string) ([]models.PostRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id, post_type, text, date, reply, repost, likes, views FROM posts
		 WHERE run_id = (SELECT MAX(id) FROM runs WHERE handle = ?)
		 ORDER BY seq`, handle)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	defer rows.Close()

	posts := make([]models.PostRecord, 0)
	for rows.Next() {
		var (
			p     models.PostRecord
			date  sql.NullString
			views sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.Type, &p.Text, &date, &p.Engagement.Reply, &p.Engagement.Repost, &p.Engagement.Like, &views); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		if date.Valid {
			p.Timestamp = &date.String
		}
		if views.Valid {
			v := int(views.Int64)
			p.Engagement.Views = &v
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}
