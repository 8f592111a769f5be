package sweep

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.yarde.network/sweeper/pkg/breakdown"
	"go.yarde.network/sweeper/pkg/entities"
	"go.yarde.network/sweeper/pkg/jobid"
)

// BuilderOptions stores expectation-building parameters.
type BuilderOptions struct {
	// ParentPage and EntityPage size the inventory scans.
	ParentPage uint
	EntityPage uint
	// MetricsDays is how many recent days get their own daily metrics job.
	MetricsDays int
	// MetricsWeeks is how many past weeks get a weekly metrics job.
	MetricsWeeks int
}

// DefaultBuilderOptions returns the default build parameters.
// Only pass by value, not reference, to avoid modifying this globally.
var DefaultBuilderOptions = BuilderOptions{
	ParentPage:   64,
	EntityPage:   256,
	MetricsDays:  3,
	MetricsWeeks: 8,
}

// Inventory is the read side of the entity inventory.
// Satisfied by entities.Store.
type Inventory interface {
	Parents(ctx context.Context, afterID string, limit uint) ([]entities.Parent, error)
	EntitiesOf(ctx context.Context, parent, afterID string, limit uint) ([]entities.Entity, error)
}

// Builder infers the plausible universe of collectible facts for one
// sweep from the entity inventory.
//
// Per parent scope it expects a catalog run (children may have
// appeared), a comments report, and per known child entity a profile,
// a media list, dated metrics over recent days and weeks, and
// lifetime metrics. Stuck per-parent jobs go through the breakdown
// splitter before they are emitted.
type Builder struct {
	Inventory Inventory
	// Splitter expands over-large per-parent jobs. Optional.
	Splitter *breakdown.Splitter
	Log      *zap.Logger
	Options  BuilderOptions
}

// Build streams the sweep's expectations to the sink, parent by
// parent. Sink errors abort the build; inventory errors do too, since
// without the inventory there is no sweep to build.
func (b *Builder) Build(ctx context.Context, sink func(context.Context, Expectation) error) error {
	now := time.Now()
	afterParent := ""
	for {
		parents, err := b.Inventory.Parents(ctx, afterParent, b.Options.ParentPage)
		if err != nil {
			return fmt.Errorf("failed to scan parents: %w", err)
		}
		if len(parents) == 0 {
			return nil
		}
		for _, parent := range parents {
			if err := b.buildParent(ctx, now, parent, sink); err != nil {
				return err
			}
		}
		afterParent = parents[len(parents)-1].ID
	}
}

func (b *Builder) buildParent(
	ctx context.Context,
	now time.Time,
	parent entities.Parent,
	sink func(context.Context, Expectation) error,
) error {
	base := jobid.JobID{
		Namespace: parent.Namespace,
		Parent:    parent.ID,
	}
	// The catalog run discovers new children; must-run every sweep.
	catalog := base
	catalog.ReportType = jobid.TypeCatalog
	if err := sink(ctx, Expectation{ID: catalog, SideData: parent.Meta}); err != nil {
		return err
	}
	// Comments change constantly; collected across the whole scope
	// unless the scope is too large and got broken down.
	comments := base
	comments.ReportType = jobid.TypeComments
	if err := b.emit(ctx, parent, comments, sink); err != nil {
		return err
	}
	afterEntity := ""
	for {
		ents, err := b.Inventory.EntitiesOf(ctx, parent.ID, afterEntity, b.Options.EntityPage)
		if err != nil {
			return fmt.Errorf("failed to scan entities of %s: %w", parent.ID, err)
		}
		if len(ents) == 0 {
			return nil
		}
		for _, ent := range ents {
			if err := b.buildEntity(ctx, now, parent, ent, sink); err != nil {
				return err
			}
		}
		afterEntity = ents[len(ents)-1].ID
	}
}

func (b *Builder) buildEntity(
	ctx context.Context,
	now time.Time,
	parent entities.Parent,
	ent entities.Entity,
	sink func(context.Context, Expectation) error,
) error {
	base := jobid.JobID{
		Namespace:  parent.Namespace,
		Parent:     parent.ID,
		EntityKind: ent.Kind,
		EntityID:   ent.ID,
	}
	for _, reportType := range [...]jobid.Type{
		jobid.TypeProfile,
		jobid.TypeMediaList,
		jobid.TypeMetricsLifetime,
	} {
		id := base
		id.ReportType = reportType
		if err := b.emit(ctx, parent, id, sink); err != nil {
			return err
		}
	}
	day := now.UTC().Truncate(24 * time.Hour)
	for i := 1; i <= b.Options.MetricsDays; i++ {
		id := base
		id.ReportType = jobid.TypeMetricsDaily
		id.Variant = "day"
		id.RangeStart = day.AddDate(0, 0, -i)
		id.RangeEnd = id.RangeStart
		if err := b.emit(ctx, parent, id, sink); err != nil {
			return err
		}
	}
	week := startOfWeek(day)
	for i := 1; i <= b.Options.MetricsWeeks; i++ {
		id := base
		id.ReportType = jobid.TypeMetricsDaily
		id.Variant = "week"
		id.RangeStart = week.AddDate(0, 0, -7*i)
		id.RangeEnd = id.RangeStart.AddDate(0, 0, 6)
		if err := b.emit(ctx, parent, id, sink); err != nil {
			return err
		}
	}
	return nil
}

// emit runs one derived job through the breakdown splitter and hands
// the resulting jobs to the sink.
func (b *Builder) emit(
	ctx context.Context,
	parent entities.Parent,
	id jobid.JobID,
	sink func(context.Context, Expectation) error,
) error {
	ids := []jobid.JobID{id}
	if b.Splitter != nil && id.IsPerParent() {
		ids = b.Splitter.Expand(ctx, id)
	}
	for _, leaf := range ids {
		if err := sink(ctx, Expectation{ID: leaf, SideData: parent.Meta}); err != nil {
			return err
		}
	}
	return nil
}

// startOfWeek returns the Monday midnight at or before t.
func startOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset)
}
