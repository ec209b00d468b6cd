package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/options-market/internal/model"
)

// MemoryStore implements Store with in-memory slices. Nothing survives the
// process.
type MemoryStore struct {
	mu        sync.RWMutex
	events    map[string][]model.Event
	summaries map[string]map[int64]model.RoundSummary
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:    make(map[string][]model.Event),
		summaries: make(map[string]map[int64]model.RoundSummary),
	}
}

func (s *MemoryStore) AppendEvents(_ context.Context, runID string, events []model.Event) error {
	if runID == "" {
		return fmt.Errorf("append events: empty run id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[runID] = append(s.events[runID], events...)
	return nil
}

func (s *MemoryStore) EventsByContract(_ context.Context, runID string, id model.ContractID) ([]model.Event, error) {
	return s.filter(runID, func(e *model.Event) bool { return e.ContractID == id })
}

func (s *MemoryStore) EventsByUser(_ context.Context, runID, userID string) ([]model.Event, error) {
	return s.filter(runID, func(e *model.Event) bool { return e.Involves(userID) })
}

func (s *MemoryStore) filter(runID string, keep func(*model.Event) bool) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.events[runID]
	if !ok {
		if _, hasRounds := s.summaries[runID]; !hasRounds {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
	}
	result := make([]model.Event, 0)
	for i := range log {
		if keep(&log[i]) {
			result = append(result, log[i])
		}
	}
	return result, nil
}

func (s *MemoryStore) SaveRoundSummary(_ context.Context, rs *model.RoundSummary) error {
	if rs.RunID == "" {
		return fmt.Errorf("save round summary: empty run id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summaries[rs.RunID] == nil {
		s.summaries[rs.RunID] = make(map[int64]model.RoundSummary)
	}
	s.summaries[rs.RunID][rs.Round] = *rs
	return nil
}

func (s *MemoryStore) ListRoundSummaries(_ context.Context, runID string) ([]model.RoundSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rounds, ok := s.summaries[runID]
	if !ok {
		if _, hasEvents := s.events[runID]; !hasEvents {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
	}
	result := make([]model.RoundSummary, 0, len(rounds))
	for _, rs := range rounds {
		result = append(result, rs)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Round < result[j].Round })
	return result, nil
}
