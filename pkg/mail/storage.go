// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const messageFileExt = ".json"

var (
	// ErrInvalidID is returned for ids that cannot be used as a storage key.
	ErrInvalidID = errors.New("invalid message id")
	// ErrMessageNotFound is returned by operations that require an existing message.
	ErrMessageNotFound = errors.New("message not found")
)

// Storage is the durable home of queued and quarantined messages. It is the
// source of truth after a restart.
type Storage interface {
	// WriteMessage persists the full message under its id, replacing any
	// previous version atomically.
	WriteMessage(msg *EmailMessage) error
	// ReadMessage returns found=false without an error when the id is unknown.
	ReadMessage(id string) (*EmailMessage, bool, error)
	MessageExists(id string) (bool, error)
	// DeleteMessage is idempotent.
	DeleteMessage(id string) error
	// MessageIDs lists queued ids in no particular order.
	MessageIDs() ([]string, error)
	MessagesCount() (int, error)
	// MoveToBadEmail quarantines the message; it is never retried automatically.
	MoveToBadEmail(msg *EmailMessage) error
	// DeleteAllMessages clears the queue. Quarantined messages are kept.
	DeleteAllMessages() error

	BadMessageIDs() ([]string, error)
	ReadBadMessage(id string) (*EmailMessage, bool, error)
	// RestoreBadEmail moves a quarantined message back into the queue.
	RestoreBadEmail(id string) (*EmailMessage, error)
}

// FileStorage keeps one JSON file per message, named by id, in a queue folder
// and a quarantine folder.
type FileStorage struct {
	queueDir string
	badDir   string
	log      *zap.SugaredLogger
}

var _ Storage = (*FileStorage)(nil)

// NewFileStorage creates both folders if they do not exist yet.
func NewFileStorage(queueDir, badDir string, log *zap.SugaredLogger) (*FileStorage, error) {
	if queueDir == "" || badDir == "" {
		return nil, errors.New("queue and quarantine folders are required")
	}
	if filepath.Clean(queueDir) == filepath.Clean(badDir) {
		return nil, errors.New("queue and quarantine folders must differ")
	}
	for _, dir := range []string{queueDir, badDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create storage folder %s: %w", dir, err)
		}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &FileStorage{
		queueDir: queueDir,
		badDir:   badDir,
		log:      log.Named("mail-storage"),
	}, nil
}

// QueueDir returns the folder holding queued messages.
func (s *FileStorage) QueueDir() string { return s.queueDir }

// BadDir returns the quarantine folder.
func (s *FileStorage) BadDir() string { return s.badDir }

func (s *FileStorage) WriteMessage(msg *EmailMessage) error {
	if msg == nil {
		return ErrNilMessage
	}
	return writeMessageFile(s.queueDir, msg)
}

func (s *FileStorage) ReadMessage(id string) (*EmailMessage, bool, error) {
	return readMessageFile(s.queueDir, id)
}

func (s *FileStorage) MessageExists(id string) (bool, error) {
	path, err := messagePath(s.queueDir, id)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat message %s: %w", id, err)
	}
}

func (s *FileStorage) DeleteMessage(id string) error {
	path, err := messagePath(s.queueDir, id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete message %s: %w", id, err)
	}
	return nil
}

func (s *FileStorage) MessageIDs() ([]string, error) {
	return listMessageIDs(s.queueDir)
}

func (s *FileStorage) MessagesCount() (int, error) {
	ids, err := listMessageIDs(s.queueDir)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// MoveToBadEmail writes the message's current state into the quarantine folder
// before removing it from the queue folder, so a crash in between leaves a
// duplicate rather than a lost message.
func (s *FileStorage) MoveToBadEmail(msg *EmailMessage) error {
	if msg == nil {
		return ErrNilMessage
	}
	if err := writeMessageFile(s.badDir, msg); err != nil {
		return fmt.Errorf("quarantine message %s: %w", msg.ID, err)
	}
	if err := s.DeleteMessage(msg.ID); err != nil {
		return err
	}
	s.log.Infow("Message moved to quarantine",
		"id", msg.ID,
		"retryCount", msg.RetryCount,
		"lastError", msg.LastError)
	return nil
}

func (s *FileStorage) DeleteAllMessages() error {
	entries, err := os.ReadDir(s.queueDir)
	if err != nil {
		return fmt.Errorf("read queue folder: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.queueDir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (s *FileStorage) BadMessageIDs() ([]string, error) {
	return listMessageIDs(s.badDir)
}

func (s *FileStorage) ReadBadMessage(id string) (*EmailMessage, bool, error) {
	return readMessageFile(s.badDir, id)
}

func (s *FileStorage) RestoreBadEmail(id string) (*EmailMessage, error) {
	msg, found, err := readMessageFile(s.badDir, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	if err := writeMessageFile(s.queueDir, msg); err != nil {
		return nil, err
	}
	path, _ := messagePath(s.badDir, id)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove quarantined message %s: %w", id, err)
	}
	s.log.Infow("Message restored from quarantine", "id", id, "retryCount", msg.RetryCount)
	return msg, nil
}

// validateID rejects ids that would escape the storage folder.
func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") || strings.HasPrefix(id, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func messagePath(dir, id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	return filepath.Join(dir, id+messageFileExt), nil
}

// writeMessageFile writes to a temp file in the target folder and renames it
// into place, so readers never observe a partial file.
func writeMessageFile(dir string, msg *EmailMessage) error {
	path, err := messagePath(dir, msg.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", msg.ID, err)
	}

	tmp, err := os.CreateTemp(dir, "."+msg.ID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", msg.ID, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write message %s: %w", msg.ID, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync message %s: %w", msg.ID, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close message %s: %w", msg.ID, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("commit message %s: %w", msg.ID, err)
	}
	return nil
}

func readMessageFile(dir, id string) (*EmailMessage, bool, error) {
	path, err := messagePath(dir, id)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read message %s: %w", id, err)
	}
	var msg EmailMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, false, fmt.Errorf("decode message %s: %w", id, err)
	}
	return &msg, true, nil
}

func listMessageIDs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read folder %s: %w", dir, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, messageFileExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, messageFileExt))
	}
	return ids, nil
}
