package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps runs and step records in memory. It backs tests and
// single-process setups that do not need crash durability.
type MemoryStore struct {
	mu    sync.RWMutex
	runs  map[uuid.UUID]*Run
	steps map[string]*StepRecord
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:  make(map[uuid.UUID]*Run),
		steps: make(map[string]*StepRecord),
	}
}

func stepKey(runID uuid.UUID, step string) string {
	return runID.String() + "::" + step
}

func (s *MemoryStore) CreateRun(_ context.Context, job string, trig Trigger) (*Run, error) {
	run := &Run{
		ID:        uuid.New(),
		Job:       job,
		Trigger:   trig,
		Status:    RunStatusRunning,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	cp := *run
	return &cp, nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID uuid.UUID) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	cp := *run
	return &cp, nil
}

func (s *MemoryStore) CompleteRun(_ context.Context, runID uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	now := time.Now().UTC()
	run.Status = status
	run.CompletedAt = &now
	return nil
}

func (s *MemoryStore) ListPendingRuns(_ context.Context, job string) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pending []Run
	for _, run := range s.runs {
		if run.Job == job && run.Status == RunStatusRunning {
			pending = append(pending, *run)
		}
	}
	return pending, nil
}

func (s *MemoryStore) GetStep(_ context.Context, runID uuid.UUID, step string) (*StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.steps[stepKey(runID, step)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) SaveStep(_ context.Context, rec *StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stepKey(rec.RunID, rec.Step)
	// First write wins; a replayed save of the same step is a no-op.
	if _, exists := s.steps[key]; exists {
		return nil
	}
	cp := *rec
	s.steps[key] = &cp
	return nil
}
