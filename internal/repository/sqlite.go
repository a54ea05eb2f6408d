// Package repository stores discussion threads, their posts and the
// participant directory in SQLite.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/xiaot623/quorum/internal/domain"
)

// DemoSubjectID is the thread seeded into every fresh database.
const DemoSubjectID = "thread-42"

// SQLiteStore implements the thread store and participant directory using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens dsn, runs migrations and seeds default data.
func NewSQLiteStore(dsn string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db, logger: logger}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	// A failed seed leaves an empty directory; runs fall back to the built-in roster.
	if err := store.seed(context.Background()); err != nil {
		logger.Warn("failed to seed database", "error", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			subject_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			reply_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS posts (
			post_id TEXT PRIMARY KEY,
			subject_id TEXT NOT NULL,
			author TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (subject_id) REFERENCES threads(subject_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_subject ON posts(subject_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS participants (
			name TEXT PRIMARY KEY,
			role TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Participants predating the directory's availability flag are active.
	if err := s.ensureColumn("participants", "active", "ALTER TABLE participants ADD COLUMN active INTEGER NOT NULL DEFAULT 1"); err != nil {
		return err
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_participants_active ON participants(active, created_at)`); err != nil {
		return err
	}

	return nil
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

func (s *SQLiteStore) seed(ctx context.Context) error {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	participants := []domain.Participant{
		{Name: "Synthesizer", Role: "synthesizer", Active: true},
		{Name: "Skeptic", Role: "reviewer", Active: true},
		{Name: "Archivist", Role: "reviewer", Active: true},
		{Name: "Cartographer", Role: "reviewer", Active: true},
	}
	for i, p := range participants {
		p.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO participants (name, role, active, created_at) VALUES (?, ?, ?, ?)`,
			p.Name, p.Role, p.Active, p.CreatedAt); err != nil {
			return err
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO threads (subject_id, title, reply_count, created_at) VALUES (?, ?, 0, ?)`,
		DemoSubjectID, "Does the cited study support the headline claim?", base)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateThread creates a new thread.
func (s *SQLiteStore) CreateThread(ctx context.Context, thread *domain.Thread) error {
	if strings.TrimSpace(thread.SubjectID) == "" {
		return fmt.Errorf("subject_id is required: %w", domain.ErrInvalidArgument)
	}
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (subject_id, title, reply_count, created_at) VALUES (?, ?, ?, ?)`,
		thread.SubjectID, thread.Title, thread.ReplyCount, thread.CreatedAt)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("thread %s already exists: %w", thread.SubjectID, domain.ErrInvalidArgument)
	}
	return err
}

// GetThread retrieves a thread by subject id.
func (s *SQLiteStore) GetThread(ctx context.Context, subjectID string) (*domain.Thread, error) {
	var thread domain.Thread
	err := s.db.QueryRowContext(ctx,
		`SELECT subject_id, title, reply_count, created_at FROM threads WHERE subject_id = ?`,
		subjectID).Scan(&thread.SubjectID, &thread.Title, &thread.ReplyCount, &thread.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", subjectID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

// ListPosts retrieves the posts of a thread, oldest first.
func (s *SQLiteStore) ListPosts(ctx context.Context, subjectID string) ([]domain.Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id, subject_id, author, body, created_at FROM posts WHERE subject_id = ? ORDER BY created_at ASC, rowid ASC`,
		subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := []domain.Post{}
	for rows.Next() {
		var p domain.Post
		if err := rows.Scan(&p.PostID, &p.SubjectID, &p.Author, &p.Body, &p.CreatedAt); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// dbtx is the part of *sql.DB and *sql.Tx the thread writes need.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// AppendContribution adds a post to an existing thread.
func (s *SQLiteStore) AppendContribution(ctx context.Context, subjectID string, c domain.Contribution) (*domain.Post, error) {
	return appendContribution(ctx, s.db, subjectID, c)
}

// IncrementReplyCount bumps the thread's reply counter by one.
func (s *SQLiteStore) IncrementReplyCount(ctx context.Context, subjectID string) error {
	return incrementReplyCount(ctx, s.db, subjectID)
}

// PublishContribution appends a post and bumps the thread's reply counter in
// one transaction.
func (s *SQLiteStore) PublishContribution(ctx context.Context, subjectID string, c domain.Contribution) (*domain.Post, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	post, err := appendContribution(ctx, tx, subjectID, c)
	if err != nil {
		return nil, err
	}
	if err := incrementReplyCount(ctx, tx, subjectID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit contribution: %w", err)
	}
	return post, nil
}

func appendContribution(ctx context.Context, q dbtx, subjectID string, c domain.Contribution) (*domain.Post, error) {
	var exists int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM threads WHERE subject_id = ?`, subjectID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", subjectID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	post := &domain.Post{
		PostID:    "post_" + uuid.New().String(),
		SubjectID: subjectID,
		Author:    c.Author,
		Body:      c.Body,
		CreatedAt: time.Now(),
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO posts (post_id, subject_id, author, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		post.PostID, post.SubjectID, post.Author, post.Body, post.CreatedAt)
	if err != nil {
		return nil, err
	}
	return post, nil
}

func incrementReplyCount(ctx context.Context, q dbtx, subjectID string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE threads SET reply_count = reply_count + 1 WHERE subject_id = ?`,
		subjectID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("thread %s: %w", subjectID, domain.ErrNotFound)
	}
	return nil
}

// UpsertParticipant creates or updates a participant.
func (s *SQLiteStore) UpsertParticipant(ctx context.Context, p *domain.Participant) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("participant name is required: %w", domain.ErrInvalidArgument)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO participants (name, role, active, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET role = excluded.role, active = excluded.active`,
		p.Name, p.Role, p.Active, p.CreatedAt)
	return err
}

// ListParticipants returns every participant in directory order.
func (s *SQLiteStore) ListParticipants(ctx context.Context) ([]domain.Participant, error) {
	return s.listParticipants(ctx, false)
}

// ListAvailableParticipants returns the active participants in directory order.
func (s *SQLiteStore) ListAvailableParticipants(ctx context.Context) ([]domain.Participant, error) {
	return s.listParticipants(ctx, true)
}

func (s *SQLiteStore) listParticipants(ctx context.Context, activeOnly bool) ([]domain.Participant, error) {
	query := `SELECT name, role, active, created_at FROM participants`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	participants := []domain.Participant{}
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.Name, &p.Role, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}
