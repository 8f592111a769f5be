// Package breakdown splits over-large per-parent jobs into per-child jobs.
//
// A per-parent job that keeps failing with a "too much data" outcome
// will never fit in one unit of work. Instead of retrying it forever,
// the splitter expands it into one job per child entity from the
// inventory. Expansion runs as an explicit worklist over an arena of
// nodes, so iteration count and memory stay bounded even if derived
// jobs become splittable themselves.
package breakdown

import (
	"context"

	"go.uber.org/zap"
	"go.yarde.network/sweeper/pkg/entities"
	"go.yarde.network/sweeper/pkg/jobid"
	"go.yarde.network/sweeper/pkg/outcome"
	"go.yarde.network/sweeper/pkg/report"
)

// Options stores splitter tuning parameters.
type Options struct {
	// Threshold is the count of consecutive too-much-data failures
	// before a per-parent job gets split.
	Threshold uint32
	// MaxNodes bounds the expansion arena.
	MaxNodes int
	// PageSize of inventory scans.
	PageSize uint
}

// DefaultOptions returns the default splitter options.
// Only pass by value, not reference, to avoid modifying this globally.
var DefaultOptions = Options{
	Threshold: 3,
	MaxNodes:  4096,
	PageSize:  256,
}

// Inventory enumerates the child entities of a parent scope.
// Satisfied by entities.Store.
type Inventory interface {
	EntitiesOf(ctx context.Context, parent, afterID string, limit uint) ([]entities.Entity, error)
}

// Splitter expands over-large jobs.
type Splitter struct {
	Reports  report.Store
	Entities Inventory
	Log      *zap.Logger
	Options  Options
}

// node is one arena entry of the expansion tree.
type node struct {
	id     jobid.JobID
	parent int32 // arena index, -1 at the root
}

// Expand returns the jobs to schedule in place of the given one.
// A job below the failure threshold comes back unchanged as the only
// element. Store errors during expansion degrade the affected node to
// a leaf; they never abort the expansion.
func (s *Splitter) Expand(ctx context.Context, root jobid.JobID) []jobid.JobID {
	arena := []node{{id: root, parent: -1}}
	work := []int32{0}
	var leaves []jobid.JobID
	for len(work) > 0 {
		idx := work[len(work)-1]
		work = work[:len(work)-1]
		n := arena[idx]
		if !s.shouldSplit(ctx, n.id) {
			leaves = append(leaves, n.id)
			continue
		}
		children, err := s.children(ctx, n.id)
		if err != nil {
			s.Log.Error("Failed to enumerate children, keeping job whole",
				zap.String("job.id", n.id.String()), zap.Error(err))
			leaves = append(leaves, n.id)
			continue
		}
		if len(children) == 0 {
			// Nothing known to split into.
			leaves = append(leaves, n.id)
			continue
		}
		s.Log.Info("Breaking down over-large job",
			zap.String("job.id", n.id.String()),
			zap.Int("child_count", len(children)))
		for _, child := range children {
			if len(arena) >= s.Options.MaxNodes {
				// Arena full: emit the rest unexpanded.
				leaves = append(leaves, child)
				continue
			}
			arena = append(arena, node{id: child, parent: idx})
			work = append(work, int32(len(arena)-1))
		}
	}
	return leaves
}

// shouldSplit decides whether a job is stuck on too-much-data failures.
func (s *Splitter) shouldSplit(ctx context.Context, id jobid.JobID) bool {
	if !id.IsPerParent() {
		return false
	}
	rep, err := s.Reports.GetReport(ctx, id.String())
	if err != nil {
		s.Log.Error("Failed to read job report",
			zap.String("job.id", id.String()), zap.Error(err))
		return false
	}
	if rep == nil {
		return false
	}
	return rep.FailureBucket == outcome.TooMuchData &&
		rep.ConsecFailures >= s.Options.Threshold
}

// children derives one per-entity job per known child of the parent scope.
func (s *Splitter) children(ctx context.Context, id jobid.JobID) ([]jobid.JobID, error) {
	var out []jobid.JobID
	afterID := ""
	for {
		ents, err := s.Entities.EntitiesOf(ctx, id.Parent, afterID, s.Options.PageSize)
		if err != nil {
			return nil, err
		}
		if len(ents) == 0 {
			return out, nil
		}
		for _, ent := range ents {
			child := id
			child.EntityKind = ent.Kind
			child.EntityID = ent.ID
			out = append(out, child)
		}
		afterID = ents[len(ents)-1].ID
	}
}
