// Package report tracks the durable last-outcome record per job ID.
//
// The scheduler reads these records to decide whether a job is due
// and how urgently. Workers (via the results consumer) write them.
// Records are created on the first reported outcome and updated,
// never replaced, by every subsequent one. This package never
// deletes records; retention is a separate process.
package report

import (
	"context"
	"time"

	"go.yarde.network/sweeper/pkg/outcome"
)

// Report is the last-outcome record for one job ID.
type Report struct {
	JobID          string
	LastSuccess    time.Time // zero if never succeeded
	LastFailure    time.Time // zero if never failed
	FailureBucket  outcome.Code
	FailureMessage string
	LastProgress   time.Time // zero if no heartbeat recorded
	ConsecFailures uint32    // reset on success
}

// Outcome is one reported job outcome.
type Outcome struct {
	JobID   string
	Code    outcome.Code
	Message string
	Time    time.Time
}

// Store is the read/write contract of the job report ledger.
type Store interface {
	// GetReport returns the record for a job ID, or nil if none exists.
	GetReport(ctx context.Context, jobID string) (*Report, error)
	// RecordOutcomes folds a batch of outcomes into the ledger.
	RecordOutcomes(ctx context.Context, outcomes []Outcome) error
}
