package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/spigell/zhipin-responder/internal/browser"
)

var ErrNoRecord = errors.New("no stored session")

// Record is the persisted part of a session.
type Record struct {
	Account         string           `json:"account"`
	Cookies         []browser.Cookie `json:"cookies"`
	AuthenticatedAt time.Time        `json:"authenticated_at"`
}

// Store persists cookie sets keyed by account.
type Store interface {
	Load(ctx context.Context, account string) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, account string) error
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// FileStore keeps one JSON file per account.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(account string) string {
	return filepath.Join(s.dir, unsafeFileChars.ReplaceAllString(account, "_")+".json")
}

func (s *FileStore) Load(_ context.Context, account string) (*Record, error) {
	raw, err := os.ReadFile(s.path(account))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoRecord
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode session for %s: %w", account, err)
	}
	return &rec, nil
}

func (s *FileStore) Save(_ context.Context, rec *Record) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path(rec.Account) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(rec.Account))
}

func (s *FileStore) Delete(_ context.Context, account string) error {
	err := os.Remove(s.path(account))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
