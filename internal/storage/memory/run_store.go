package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/ed-forum-harvester/internal/forum"
)

// RunStore keeps the run ledger in memory. It backs single-shot CLI runs
// when no database is configured.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]forum.Run
}

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]forum.Run)}
}

// StartRun records a new run in running status.
func (s *RunStore) StartRun(_ context.Context, run forum.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	run.Status = forum.RunStatusRunning
	run.Finished = nil
	s.runs[run.ID] = run
	return nil
}

// FinishRun stores the terminal state of a run.
func (s *RunStore) FinishRun(_ context.Context, run forum.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[run.ID]
	if !ok {
		return fmt.Errorf("finish run %s: %w", run.ID, forum.ErrRunNotFound)
	}
	existing.Status = run.Status
	existing.Finished = copyTime(run)
	existing.ErrorText = run.ErrorText
	existing.Counters = run.Counters
	existing.CorpusURI = run.CorpusURI
	existing.CorpusSHA256 = run.CorpusSHA256
	s.runs[run.ID] = existing
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (forum.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return forum.Run{}, fmt.Errorf("get run %s: %w", runID, forum.ErrRunNotFound)
	}
	run.Finished = copyTime(run)
	return run, nil
}

func copyTime(run forum.Run) *time.Time {
	if run.Finished == nil {
		return nil
	}
	ts := *run.Finished
	return &ts
}
