// Package history persists finished conversation turns per character
// configuration and history id.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	RoleHuman    = "human"
	RoleAI       = "ai"
	RoleMetadata = "metadata"
)

// Entry is one persisted message.
type Entry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Name      string    `json:"name,omitempty"`
	Avatar    string    `json:"avatar,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Store loads and appends conversation history.
type Store interface {
	Load(ctx context.Context, confUID string, historyUID string) ([]Entry, error)
	Append(ctx context.Context, confUID string, historyUID string, entry Entry) error
}

// FileStore keeps one JSON array per history under dir/confUID/historyUID.json.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("history dir is required")
	}

	return &FileStore{dir: dir}, nil
}

// Load returns the chronological entries of one history. A history that was
// never written loads as empty. Metadata entries are skipped.
func (s *FileStore) Load(ctx context.Context, confUID string, historyUID string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.path(confUID, historyUID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := readEntries(path)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.Role == RoleMetadata {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *FileStore) Append(ctx context.Context, confUID string, historyUID string, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.Role != RoleHuman && entry.Role != RoleAI {
		return fmt.Errorf("history role %q is not supported", entry.Role)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	path, err := s.path(confUID, historyUID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := readEntries(path)
	if err != nil {
		return err
	}
	entries = append(entries, entry)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}

	content, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o600); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace history: %w", err)
	}
	return nil
}

func (s *FileStore) path(confUID string, historyUID string) (string, error) {
	confUID = strings.TrimSpace(confUID)
	historyUID = strings.TrimSpace(historyUID)
	if !validID(confUID) || !validID(historyUID) {
		return "", fmt.Errorf("invalid history id %q/%q", confUID, historyUID)
	}

	return filepath.Join(s.dir, confUID, historyUID+".json"), nil
}

func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

func readEntries(path string) ([]Entry, error) {
	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(content, &entries); err != nil {
		return nil, fmt.Errorf("parse history %s: %w", filepath.Base(path), err)
	}
	return entries, nil
}
