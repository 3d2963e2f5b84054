package threadstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite thread store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SQLiteDSNForFile returns a DSN for path with WAL and a busy timeout.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite thread store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Append(ctx context.Context, msg Message) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("sqlite thread store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	msg = normalizeMessage(msg, time.Now())
	if msg.ThreadID == "" {
		return 0, errors.New("sqlite thread store: threadID is empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "sqlite thread store: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO thread_sequences (thread_id, seq) VALUES (?, 1)
		ON CONFLICT(thread_id) DO UPDATE SET seq = thread_sequences.seq + 1
		RETURNING seq
	`, msg.ThreadID).Scan(&seq)
	if err != nil {
		return 0, errors.Wrap(err, "sqlite thread store: next seq")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO thread_messages (
			thread_id, seq, role, channel, collection_name, content, created_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ThreadID, seq, string(msg.Role), string(msg.Channel), msg.CollectionName, msg.Content, msg.CreatedAtMs)
	if err != nil {
		return 0, errors.Wrap(err, "sqlite thread store: insert message")
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "sqlite thread store: commit")
	}
	return seq, nil
}

func (s *SQLiteStore) List(ctx context.Context, threadID string, limit int) ([]Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite thread store: db is nil")
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, errors.New("sqlite thread store: threadID is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, seq, role, channel, collection_name, content, created_at_ms
		FROM thread_messages
		WHERE thread_id = ?
		ORDER BY seq ASC
		LIMIT ?
	`, threadID, normalizeLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "sqlite thread store: query messages")
	}
	defer func() { _ = rows.Close() }()

	out := []Message{}
	for rows.Next() {
		var (
			m       Message
			role    string
			channel string
		)
		if err := rows.Scan(&m.ThreadID, &m.Seq, &role, &channel, &m.CollectionName, &m.Content, &m.CreatedAtMs); err != nil {
			return nil, errors.Wrap(err, "sqlite thread store: scan message")
		}
		m.Role = Role(role)
		m.Channel = Channel(channel)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite thread store: iterate messages")
	}
	return out, nil
}

func (s *SQLiteStore) Threads(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite thread store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := s.db.QueryContext(ctx, `SELECT thread_id FROM thread_sequences ORDER BY thread_id ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite thread store: query threads")
	}
	defer func() { _ = rows.Close() }()
	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "sqlite thread store: scan thread")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite thread store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS thread_sequences (
		  thread_id TEXT PRIMARY KEY,
		  seq INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS thread_messages (
		  thread_id TEXT NOT NULL,
		  seq INTEGER NOT NULL,
		  role TEXT NOT NULL,
		  channel TEXT NOT NULL,
		  collection_name TEXT NOT NULL DEFAULT '',
		  content TEXT NOT NULL,
		  created_at_ms INTEGER NOT NULL,
		  PRIMARY KEY (thread_id, seq)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrap(err, "sqlite thread store: migrate")
		}
	}
	return nil
}
