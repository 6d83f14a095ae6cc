// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	folderQueue = "queue"
	folderBad   = "bad"
)

const createOutboxTable = `
CREATE TABLE IF NOT EXISTS email_outbox (
	id TEXT NOT NULL,
	folder TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (id, folder)
)
`

const upsertOutbox = `
INSERT INTO email_outbox (id, folder, payload, created_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (id, folder) DO UPDATE SET payload = EXCLUDED.payload
`

// PostgresStorage keeps messages in a single email_outbox table. The folder
// column plays the role of the queue and quarantine directories; like the
// directories, a write to one folder never touches the other.
type PostgresStorage struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

var _ Storage = (*PostgresStorage)(nil)

// NewPostgresStorage opens a connection pool for dsn and checks it.
func NewPostgresStorage(dsn string, log *zap.SugaredLogger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresStorageFromDB(db, log), nil
}

// NewPostgresStorageFromDB wraps an existing pool.
func NewPostgresStorageFromDB(db *sql.DB, log *zap.SugaredLogger) *PostgresStorage {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &PostgresStorage{db: db, log: log.Named("mail-storage")}
}

// Migrate creates the outbox table if needed.
func (s *PostgresStorage) Migrate() error {
	if _, err := s.db.Exec(createOutboxTable); err != nil {
		return fmt.Errorf("create email_outbox: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func (s *PostgresStorage) WriteMessage(msg *EmailMessage) error {
	return s.write(s.db, folderQueue, msg)
}

func (s *PostgresStorage) ReadMessage(id string) (*EmailMessage, bool, error) {
	return s.read(folderQueue, id)
}

func (s *PostgresStorage) MessageExists(id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}
	var exists bool
	err := s.db.QueryRow("SELECT EXISTS (SELECT 1 FROM email_outbox WHERE id = $1 AND folder = $2)", id, folderQueue).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check message %s: %w", id, err)
	}
	return exists, nil
}

func (s *PostgresStorage) DeleteMessage(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if _, err := s.db.Exec("DELETE FROM email_outbox WHERE id = $1 AND folder = $2", id, folderQueue); err != nil {
		return fmt.Errorf("delete message %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStorage) MessageIDs() ([]string, error) {
	return s.ids(folderQueue)
}

func (s *PostgresStorage) MessagesCount() (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM email_outbox WHERE folder = $1", folderQueue).Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

func (s *PostgresStorage) MoveToBadEmail(msg *EmailMessage) error {
	if msg == nil {
		return ErrNilMessage
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin quarantine %s: %w", msg.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.write(tx, folderBad, msg); err != nil {
		return fmt.Errorf("quarantine message: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM email_outbox WHERE id = $1 AND folder = $2", msg.ID, folderQueue); err != nil {
		return fmt.Errorf("remove quarantined message %s from queue: %w", msg.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit quarantine %s: %w", msg.ID, err)
	}
	s.log.Infow("Message moved to quarantine",
		"id", msg.ID,
		"retryCount", msg.RetryCount,
		"lastError", msg.LastError)
	return nil
}

func (s *PostgresStorage) DeleteAllMessages() error {
	if _, err := s.db.Exec("DELETE FROM email_outbox WHERE folder = $1", folderQueue); err != nil {
		return fmt.Errorf("delete all messages: %w", err)
	}
	return nil
}

func (s *PostgresStorage) BadMessageIDs() ([]string, error) {
	return s.ids(folderBad)
}

func (s *PostgresStorage) ReadBadMessage(id string) (*EmailMessage, bool, error) {
	return s.read(folderBad, id)
}

func (s *PostgresStorage) RestoreBadEmail(id string) (*EmailMessage, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin restore %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	var payload string
	err = tx.QueryRow("SELECT payload FROM email_outbox WHERE id = $1 AND folder = $2 FOR UPDATE", id, folderBad).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read quarantined message %s: %w", id, err)
	}
	var msg EmailMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", id, err)
	}
	if _, err := tx.Exec(upsertOutbox, id, folderQueue, payload, msg.Created); err != nil {
		return nil, fmt.Errorf("restore message %s: %w", id, err)
	}
	if _, err := tx.Exec("DELETE FROM email_outbox WHERE id = $1 AND folder = $2", id, folderBad); err != nil {
		return nil, fmt.Errorf("remove restored message %s from quarantine: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit restore %s: %w", id, err)
	}
	s.log.Infow("Message restored from quarantine", "id", id, "retryCount", msg.RetryCount)
	return &msg, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (s *PostgresStorage) write(db execer, folder string, msg *EmailMessage) error {
	if msg == nil {
		return ErrNilMessage
	}
	if err := validateID(msg.ID); err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", msg.ID, err)
	}
	if _, err := db.Exec(upsertOutbox, msg.ID, folder, string(payload), msg.Created); err != nil {
		return fmt.Errorf("write message %s: %w", msg.ID, err)
	}
	return nil
}

func (s *PostgresStorage) read(folder, id string) (*EmailMessage, bool, error) {
	if err := validateID(id); err != nil {
		return nil, false, err
	}
	var payload string
	err := s.db.QueryRow("SELECT payload FROM email_outbox WHERE id = $1 AND folder = $2", id, folder).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read message %s: %w", id, err)
	}
	var msg EmailMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return nil, false, fmt.Errorf("decode message %s: %w", id, err)
	}
	return &msg, true, nil
}

func (s *PostgresStorage) ids(folder string) ([]string, error) {
	rows, err := s.db.Query("SELECT id FROM email_outbox WHERE folder = $1 ORDER BY created_at", folder)
	if err != nil {
		return nil, fmt.Errorf("list %s messages: %w", folder, err)
	}
	defer func() { _ = rows.Close() }()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s message id: %w", folder, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Truncate removes every row, queued and quarantined. Used by tests.
func (s *PostgresStorage) Truncate() error {
	_, err := s.db.Exec("TRUNCATE TABLE email_outbox")
	return err
}
