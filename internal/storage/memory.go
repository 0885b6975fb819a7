package storage

import (
	"context"
	"sync"

	"hnse/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	states      map[string]model.PersistedState
	summaries   map[string][]model.CycleSummary
	examples    map[string][]model.TrainingExample
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.states = make(map[string]model.PersistedState)
	s.summaries = make(map[string][]model.CycleSummary)
	s.examples = make(map[string][]model.TrainingExample)
	return nil
}

func (s *MemoryStore) SaveState(_ context.Context, state model.PersistedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[state.ID] = state
	return nil
}

func (s *MemoryStore) GetState(_ context.Context, id string) (model.PersistedState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[id]
	return state, ok, nil
}

func (s *MemoryStore) SaveCycleSummary(_ context.Context, runID string, summary model.CycleSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summaries[runID] = append(s.summaries[runID], summary)
	return nil
}

func (s *MemoryStore) GetCycleSummaries(_ context.Context, runID string) ([]model.CycleSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries, ok := s.summaries[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.CycleSummary, len(summaries))
	copy(copied, summaries)
	return copied, true, nil
}

func (s *MemoryStore) SaveTrainingExamples(_ context.Context, runID string, examples []model.TrainingExample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.TrainingExample, len(examples))
	copy(copied, examples)
	s.examples[runID] = copied
	return nil
}

func (s *MemoryStore) GetTrainingExamples(_ context.Context, runID string) ([]model.TrainingExample, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	examples, ok := s.examples[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.TrainingExample, len(examples))
	copy(copied, examples)
	return copied, true, nil
}
