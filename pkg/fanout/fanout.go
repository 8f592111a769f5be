// Package fanout hands dispatched jobs to the worker fleet.
//
// The scheduler depends only on submit being non-blocking and
// returning immediately; execution is asynchronous, at-least-once,
// on a separate pool.
package fanout

import (
	"context"
)

// Job is one dispatched job descriptor.
type Job struct {
	Sweep    string  `json:"sweep"`
	JobID    string  `json:"job_id"`
	Score    float64 `json:"score"`
	SideData string  `json:"side_data,omitempty"`
}

// Submitter submits job descriptors for asynchronous execution.
type Submitter interface {
	Submit(ctx context.Context, job Job) error
}

// Chan is an in-memory Submitter for tests and the all-in-one mode.
type Chan struct {
	C chan Job
}

// NewChan creates a channel submitter with the given backlog.
func NewChan(backlog int) *Chan {
	return &Chan{C: make(chan Job, backlog)}
}

// Submit enqueues the job on the channel.
func (c *Chan) Submit(ctx context.Context, job Job) error {
	select {
	case c.C <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Submitter = (*Chan)(nil)
