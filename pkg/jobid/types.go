package jobid

import "time"

// Type classifies what a job collects.
type Type string

// Class describes the refresh behavior of a report type.
type Class int

// Report type classes.
const (
	// ClassExistence covers reports about discrete entity existence
	// (listings, comments, media). Refreshed on a fixed per-type interval.
	ClassExistence Class = iota
	// ClassDatedMetric covers metrics over a dated range.
	// Refreshed on an interval that grows with the age of the range.
	ClassDatedMetric
	// ClassLifetime covers undated cumulative metrics.
	// Refreshed on a fixed multi-hour interval regardless of age.
	ClassLifetime
)

// Spec holds the scheduling attributes of a report type.
type Spec struct {
	Class   Class
	MustRun bool // forced to the must-run score, passes every gate
	// Refresh is the re-collection interval for ClassExistence types.
	// Ignored for other classes.
	Refresh time.Duration
}

// Built-in report types.
const (
	TypeCatalog         Type = "catalog"          // per-parent child enumeration, must run every sweep
	TypeProfile         Type = "profile"          // slow-changing entity profile
	TypeComments        Type = "comments"         // fast-changing comment threads
	TypeMediaList       Type = "media-list"       // medium-churn media inventory
	TypeMetricsDaily    Type = "metrics-daily"    // metrics over one dated day range
	TypeMetricsLifetime Type = "metrics-lifetime" // undated cumulative metrics
)

var specs = map[Type]Spec{
	TypeCatalog:         {Class: ClassExistence, MustRun: true},
	TypeProfile:         {Class: ClassExistence, Refresh: 7 * 24 * time.Hour},
	TypeComments:        {Class: ClassExistence, Refresh: 4 * time.Hour},
	TypeMediaList:       {Class: ClassExistence, Refresh: 24 * time.Hour},
	TypeMetricsDaily:    {Class: ClassDatedMetric},
	TypeMetricsLifetime: {Class: ClassLifetime},
}

// Register adds or replaces the spec of a report type.
// Not safe for concurrent use with Lookup; call during init only.
func Register(t Type, spec Spec) {
	specs[t] = spec
}

// Lookup returns the spec for a report type.
// The second return is false for unknown types.
func Lookup(t Type) (Spec, bool) {
	spec, ok := specs[t]
	return spec, ok
}
