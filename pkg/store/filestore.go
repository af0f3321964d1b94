package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/conclave-ai/conclave/pkg/models"
)

// reservedFiles are names in the data directory that are not
// conversation documents.
var reservedFiles = map[string]bool{
	"config.json": true,
}

// FileStore keeps each conversation as one pretty-printed JSON file in
// a flat directory. Writes to the same conversation serialize on a
// per-id mutex; the document on disk is always a complete snapshot.
type FileStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileStore creates the data directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileStore{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *FileStore) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *FileStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid conversation id %q", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func (s *FileStore) read(id string) (*models.Conversation, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read conversation %s: %w", id, err)
	}
	var c models.Conversation
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse conversation %s: %w", id, err)
	}
	return &c, nil
}

func (s *FileStore) write(c *models.Conversation) error {
	path, err := s.path(c.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode conversation %s: %w", c.ID, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write conversation %s: %w", c.ID, err)
	}
	return nil
}

// update runs fn inside the per-conversation critical section and
// persists the document when fn reports a change.
func (s *FileStore) update(id string, fn func(*models.Conversation) (bool, error)) error {
	unlock := s.lock(id)
	defer unlock()

	c, err := s.read(id)
	if err != nil {
		return err
	}
	changed, err := fn(c)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.write(c)
}

func (s *FileStore) Create(ctx context.Context, id string) (*models.Conversation, error) {
	unlock := s.lock(id)
	defer unlock()

	c := models.NewConversation(id)
	if err := s.write(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *FileStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	unlock := s.lock(id)
	defer unlock()
	return s.read(id)
}

func (s *FileStore) Save(ctx context.Context, c *models.Conversation) error {
	unlock := s.lock(c.ID)
	defer unlock()
	return s.write(c)
}

// List scans the directory, skipping reserved and malformed files.
func (s *FileStore) List(ctx context.Context) ([]models.ConversationMetadata, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	metas := make([]models.ConversationMetadata, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || reservedFiles[name] || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		c, err := s.read(id)
		if err != nil {
			slog.Warn("Skipping unreadable conversation file", "file", name, "error", err)
			continue
		}
		metas = append(metas, c.Metadata())
	}

	sort.SliceStable(metas, func(i, j int) bool {
		return metas[i].CreatedAt > metas[j].CreatedAt
	})
	return metas, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()

	path, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	return nil
}

func (s *FileStore) AddUserMessage(ctx context.Context, id, content string) error {
	return s.update(id, func(c *models.Conversation) (bool, error) {
		c.Messages = append(c.Messages, models.NewUserMessage(content))
		return true, nil
	})
}

func (s *FileStore) AddAssistantMessage(ctx context.Context, id string, stage1 []models.ModelResponse, stage2 []models.ModelRanking, stage3 models.ChairmanAnswer) error {
	return s.update(id, func(c *models.Conversation) (bool, error) {
		c.Messages = append(c.Messages, models.NewAssistantMessage(stage1, stage2, stage3))
		return true, nil
	})
}

func (s *FileStore) AppendMessage(ctx context.Context, id string, msg models.Message) error {
	return s.update(id, func(c *models.Conversation) (bool, error) {
		c.Messages = append(c.Messages, msg)
		return true, nil
	})
}

func (s *FileStore) SetLastUserStatus(ctx context.Context, id string, status models.UserMessageStatus) (bool, error) {
	found := false
	err := s.update(id, func(c *models.Conversation) (bool, error) {
		found = setLastUserStatus(c, status)
		return found, nil
	})
	return found, err
}

func (s *FileStore) LastUserMessage(ctx context.Context, id string) (*models.Message, error) {
	unlock := s.lock(id)
	defer unlock()

	c, err := s.read(id)
	if err != nil {
		return nil, err
	}
	return lastUserMessage(c), nil
}

func (s *FileStore) RemovePendingUserMessages(ctx context.Context, id string, keepLast bool) (int, error) {
	removed := 0
	err := s.update(id, func(c *models.Conversation) (bool, error) {
		removed = removePendingUserMessages(c, keepLast)
		return removed > 0, nil
	})
	return removed, err
}

func (s *FileStore) UpdateTitle(ctx context.Context, id, title string) error {
	return s.update(id, func(c *models.Conversation) (bool, error) {
		c.Title = title
		return true, nil
	})
}
