// Package memory is an in-memory implementation of the storage interfaces,
// used in tests and for storage-less deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/calliope-ai/calliope/internal/domain"
	"github.com/calliope-ai/calliope/internal/storage"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu          sync.RWMutex
	executions  map[string]*domain.Execution
	stepResults map[string][]*domain.StepResult
	events      map[string][]*domain.ExecutionEvent
	chainJobs   map[string]*storage.ChainJob
	docJobs     map[string]*domain.DocumentJob
}

var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		executions:  make(map[string]*domain.Execution),
		stepResults: make(map[string][]*domain.StepResult),
		events:      make(map[string][]*domain.ExecutionEvent),
		chainJobs:   make(map[string]*storage.ChainJob),
		docJobs:     make(map[string]*domain.DocumentJob),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateExecution(_ context.Context, ex *domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[ex.ID]; exists {
		return domain.ErrValidation("execution already exists: " + ex.ID)
	}
	if ex.StartedAt.IsZero() {
		ex.StartedAt = time.Now().UTC()
	}
	cp := *ex
	s.executions[ex.ID] = &cp
	return nil
}

func (s *Store) UpdateExecution(_ context.Context, ex *domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[ex.ID]; !exists {
		return domain.ErrNotFound("execution not found: " + ex.ID)
	}
	cp := *ex
	s.executions[ex.ID] = &cp
	return nil
}

func (s *Store) GetExecution(_ context.Context, id string) (*domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ex, exists := s.executions[id]
	if !exists {
		return nil, domain.ErrNotFound("execution not found: " + id)
	}
	cp := *ex
	return &cp, nil
}

func (s *Store) CreateStepResult(_ context.Context, sr *domain.StepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sr
	s.stepResults[sr.ExecutionID] = append(s.stepResults[sr.ExecutionID], &cp)
	return nil
}

func (s *Store) UpdateStepResult(_ context.Context, sr *domain.StepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.stepResults[sr.ExecutionID] {
		if existing.ID == sr.ID {
			cp := *sr
			s.stepResults[sr.ExecutionID][i] = &cp
			return nil
		}
	}
	return domain.ErrNotFound("step result not found: " + sr.ID)
}

func (s *Store) ListStepResults(_ context.Context, executionID string) ([]*domain.StepResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := make([]*domain.StepResult, 0, len(s.stepResults[executionID]))
	for _, sr := range s.stepResults[executionID] {
		cp := *sr
		results = append(results, &cp)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Position < results[j].Position
	})
	return results, nil
}

func (s *Store) AppendEvent(_ context.Context, evt *domain.ExecutionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}
	cp := *evt
	s.events[evt.ExecutionID] = append(s.events[evt.ExecutionID], &cp)
	return nil
}

func (s *Store) ListEvents(_ context.Context, executionID string) ([]*domain.ExecutionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]*domain.ExecutionEvent, 0, len(s.events[executionID]))
	for _, evt := range s.events[executionID] {
		cp := *evt
		events = append(events, &cp)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Seq < events[j].Seq
	})
	return events, nil
}

func (s *Store) CreateChainJob(_ context.Context, job *storage.ChainJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.chainJobs[job.ID]; exists {
		return domain.ErrValidation("job already exists: " + job.ID)
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.StatusChangedAt.IsZero() {
		job.StatusChangedAt = now
	}
	cp := *job
	s.chainJobs[job.ID] = &cp
	return nil
}

func (s *Store) UpdateChainJob(_ context.Context, job *storage.ChainJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.chainJobs[job.ID]; !exists {
		return domain.ErrNotFound("job not found: " + job.ID)
	}
	job.UpdatedAt = time.Now().UTC()
	cp := *job
	s.chainJobs[job.ID] = &cp
	return nil
}

func (s *Store) GetChainJob(_ context.Context, id string) (*storage.ChainJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, exists := s.chainJobs[id]
	if !exists {
		return nil, domain.ErrNotFound("job not found: " + id)
	}
	cp := *job
	return &cp, nil
}

func (s *Store) DeleteChainJobsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, job := range s.chainJobs {
		if job.Status.Terminal() && job.StatusChangedAt.Before(cutoff) {
			delete(s.chainJobs, id)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) CreateDocumentJob(_ context.Context, job *domain.DocumentJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docJobs[job.ID]; exists {
		return domain.ErrValidation("job already exists: " + job.ID)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	cp := *job
	s.docJobs[job.ID] = &cp
	return nil
}

func (s *Store) UpdateDocumentJob(_ context.Context, job *domain.DocumentJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docJobs[job.ID]; !exists {
		return domain.ErrNotFound("job not found: " + job.ID)
	}
	cp := *job
	s.docJobs[job.ID] = &cp
	return nil
}

func (s *Store) GetDocumentJob(_ context.Context, id string) (*domain.DocumentJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, exists := s.docJobs[id]
	if !exists {
		return nil, domain.ErrNotFound("job not found: " + id)
	}
	cp := *job
	return &cp, nil
}
