package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/testbench-io/testbench/internal/runs"
)

type memoryRunStore struct {
	mu   sync.Mutex
	runs map[string]runs.Record
}

// NewMemoryRunStore returns a RunStore backed by a map. Records are cloned
// on the way in and out.
func NewMemoryRunStore() RunStore {
	return &memoryRunStore{runs: make(map[string]runs.Record)}
}

func (s *memoryRunStore) SaveRun(_ context.Context, rec runs.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[rec.ID] = rec.Clone()
	return nil
}

func (s *memoryRunStore) GetRun(_ context.Context, id string) (runs.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[id]
	if !ok {
		return runs.Record{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return rec.Clone(), nil
}

func (s *memoryRunStore) ListRunsByTest(_ context.Context, testID string, limit int) ([]runs.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]runs.Record, 0)
	for _, rec := range s.runs {
		if rec.Kind != runs.RecordKindTest || rec.TestID != testID {
			continue
		}
		out = append(out, rec.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
