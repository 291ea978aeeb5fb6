package greeting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spigell/zhipin-responder/internal/jobs"
)

// History remembers postings greeted in earlier runs.
type History interface {
	Contains(id string) bool
	Add(ctx context.Context, posting *jobs.JobPosting) error
}

type MemoryHistory struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewMemoryHistory(ids ...string) *MemoryHistory {
	h := &MemoryHistory{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		h.ids[id] = struct{}{}
	}
	return h
}

func (h *MemoryHistory) Contains(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.ids[id]
	return ok
}

func (h *MemoryHistory) Add(_ context.Context, posting *jobs.JobPosting) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ids[posting.ID] = struct{}{}
	return nil
}

// FileHistory keeps greeted postings in the exclude-file JSON format, so the
// same file can feed the exclude_file filter.
type FileHistory struct {
	mu      sync.Mutex
	path    string
	entries *jobs.ExcludedPostings
	ids     map[string]struct{}
}

// OpenFileHistory loads path. A missing file starts an empty history.
func OpenFileHistory(path string) (*FileHistory, error) {
	entries, err := jobs.ExcludedPostingsFromFile(path)
	if errors.Is(err, os.ErrNotExist) {
		entries = &jobs.ExcludedPostings{}
	} else if err != nil {
		return nil, fmt.Errorf("open greeting history: %w", err)
	}

	h := &FileHistory{path: path, entries: entries, ids: map[string]struct{}{}}
	for _, id := range entries.PostingIDs() {
		h.ids[id] = struct{}{}
	}
	return h, nil
}

func (h *FileHistory) Contains(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.ids[id]
	return ok
}

// Add records the posting and rewrites the file.
func (h *FileHistory) Add(_ context.Context, posting *jobs.JobPosting) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.ids[posting.ID]; ok {
		return nil
	}

	h.entries.Items = append(h.entries.Items, &jobs.ExcludedPosting{
		ID:         posting.ID,
		URL:        posting.URL,
		Company:    posting.Company,
		Actor:      jobs.ExcludeActorGreeting,
		ExcludedAt: time.Now().UTC(),
	})
	h.ids[posting.ID] = struct{}{}

	if err := h.entries.ToFile(h.path); err != nil {
		return fmt.Errorf("write greeting history %s: %w", h.path, err)
	}
	return nil
}

func (h *FileHistory) IDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries.PostingIDs()
}
