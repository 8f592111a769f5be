package report

import (
	"context"
	"sync"

	"go.yarde.network/sweeper/pkg/outcome"
)

// MemStore is an in-memory Store for tests and the all-in-one mode.
type MemStore struct {
	mu      sync.Mutex
	reports map[string]*Report
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{reports: make(map[string]*Report)}
}

// GetReport returns a copy of the record for a job ID, or nil if none exists.
func (m *MemStore) GetReport(_ context.Context, jobID string) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rep, ok := m.reports[jobID]
	if !ok {
		return nil, nil
	}
	cp := *rep
	return &cp, nil
}

// RecordOutcomes folds a batch of outcomes into the store.
func (m *MemStore) RecordOutcomes(_ context.Context, outcomes []Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, out := range outcomes {
		rep, ok := m.reports[out.JobID]
		if !ok {
			rep = &Report{JobID: out.JobID}
			m.reports[out.JobID] = rep
		}
		switch {
		case out.Code == outcome.StillWorking:
			rep.LastProgress = out.Time
		case out.Code == outcome.Success:
			rep.LastSuccess = out.Time
			rep.ConsecFailures = 0
		default:
			rep.LastFailure = out.Time
			rep.FailureBucket = out.Code
			rep.FailureMessage = truncateMessage(out.Message)
			rep.ConsecFailures++
		}
	}
	return nil
}

var _ Store = (*MemStore)(nil)
