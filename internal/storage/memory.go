package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xaenox/mail-pilot/internal/models"
)

type MemoryStorage struct {
	mu   sync.RWMutex
	runs map[string]*models.RunRecord
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		runs: make(map[string]*models.RunRecord),
	}
}

func (s *MemoryStorage) SaveRun(ctx context.Context, run *models.RunRecord) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *run
	cp.Payload = append([]byte(nil), run.Payload...)
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemoryStorage) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, ErrNotFound
	}
	cp := *run
	cp.Payload = append([]byte(nil), run.Payload...)
	return &cp, nil
}

func (s *MemoryStorage) ListRuns(ctx context.Context, limit int) ([]*models.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*models.RunRecord, 0, len(s.runs))
	for _, r := range s.runs {
		cp := *r
		cp.Payload = nil
		runs = append(runs, &cp)
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].ID < runs[j].ID
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
