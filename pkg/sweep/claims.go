package sweep

import (
	"go.yarde.network/sweeper/pkg/entities"
	"go.yarde.network/sweeper/pkg/jobid"
	"go.yarde.network/sweeper/pkg/report"
)

// The build pipeline streams claims through four explicit stages:
// a raw inventory Observation becomes an Expectation (a collectible
// fact), survives the gate as a Candidate, and leaves scoring as a
// ScoredCandidate bound for the queue. Each stage's value is
// constructed upstream and read-only downstream.

// Observation is one raw inventory row seen while building a sweep.
type Observation struct {
	Parent entities.Parent
	// Entity is nil for parent-level observations.
	Entity *entities.Entity
}

// Expectation is one collectible fact inferred from an observation.
type Expectation struct {
	ID jobid.JobID
	// SideData is the auxiliary context of the job's parent scope.
	SideData string
}

// Candidate is an expectation that passed the gate.
type Candidate struct {
	Expectation
	// Report is the durable last-outcome record, nil if never collected.
	Report *report.Report
}

// ScoredCandidate is a candidate with its final queue priority.
type ScoredCandidate struct {
	Candidate
	Score float64
}
