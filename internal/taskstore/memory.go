// File: internal/taskstore/memory.go
package taskstore

import (
	"context"
	"sync"
)

// InMemoryStore is the ephemeral Store used for development and tests.
type InMemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]TaskRecord
	steps map[string][]StepRecord
}

// Compile-time interface check.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tasks: make(map[string]TaskRecord),
		steps: make(map[string][]StepRecord),
	}
}

func (s *InMemoryStore) SaveTask(_ context.Context, rec TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[rec.TaskID] = rec
	return nil
}

func (s *InMemoryStore) SaveStep(_ context.Context, rec StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[rec.TaskID] = append(s.steps[rec.TaskID], rec)
	return nil
}

func (s *InMemoryStore) GetTask(_ context.Context, taskID string) (TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tasks[taskID]
	if !ok {
		return TaskRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *InMemoryStore) ListSteps(_ context.Context, taskID string) ([]StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	steps := s.steps[taskID]
	out := make([]StepRecord, len(steps))
	copy(out, steps)
	return out, nil
}

func (s *InMemoryStore) Close() {}
