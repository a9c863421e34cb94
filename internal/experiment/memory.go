package experiment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps experiments for the lifetime of the process.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Experiment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Experiment{}}
}

func (s *MemoryStore) Create(ctx context.Context, e Experiment) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[e.ID]; ok {
		return fmt.Errorf("experiment %s already exists", e.ID)
	}
	e.StartedAt = e.StartedAt.UTC()
	s.records[e.ID] = e
	return nil
}

func (s *MemoryStore) Finish(ctx context.Context, id string, status Status, endedAt time.Time, message string) (Experiment, error) {
	if err := validateFinish(id, status); err != nil {
		return Experiment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.records[strings.TrimSpace(id)]
	if !ok {
		return Experiment{}, ErrNotFound
	}
	ended := endedAt.UTC()
	e.Status = status
	e.EndedAt = &ended
	e.Message = message
	s.records[e.ID] = e
	return e, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.records[strings.TrimSpace(id)]
	if !ok {
		return Experiment{}, ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]Experiment, error) {
	s.mu.Lock()
	out := make([]Experiment, 0, len(s.records))
	for _, e := range s.records {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, e)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit := filter.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
