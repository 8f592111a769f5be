// Package jobid defines the structured key identifying one unit of schedulable work.
//
// A JobID is a plain string on the wire and in the queue,
// built by joining its fields in a fixed order.
// Equal field tuples always serialize to the same string,
// which makes the serialized form usable as a de-duplication key.
package jobid

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// Sep separates JobID fields in the serialized form.
// Occurrences inside field values are percent-escaped by String
// and restored by Parse.
const Sep = ":"

var fieldEscaper = strings.NewReplacer("%", "%25", Sep, "%3A")
var fieldUnescaper = strings.NewReplacer("%3A", Sep, "%25", "%")

// DateFormat is the serialization format for range fields.
const DateFormat = "2006-01-02"

// JobID identifies one unit of schedulable work.
// Empty EntityID marks a per-parent job that summarizes
// work for all children of the parent scope.
// Immutable once constructed.
type JobID struct {
	Namespace  string
	Parent     string // parent scope identifier
	EntityKind string
	EntityID   string
	ReportType Type
	Variant    string
	RangeStart time.Time // zero for undated jobs
	RangeEnd   time.Time
}

// String returns the canonical serialized form.
func (j JobID) String() string {
	fields := [8]string{
		fieldEscaper.Replace(j.Namespace),
		fieldEscaper.Replace(j.Parent),
		fieldEscaper.Replace(j.EntityKind),
		fieldEscaper.Replace(j.EntityID),
		fieldEscaper.Replace(string(j.ReportType)),
		fieldEscaper.Replace(j.Variant),
		formatDate(j.RangeStart),
		formatDate(j.RangeEnd),
	}
	return strings.Join(fields[:], Sep)
}

// Parse rebuilds a JobID from its serialized form.
func Parse(s string) (JobID, error) {
	fields := strings.Split(s, Sep)
	if len(fields) != 8 {
		return JobID{}, fmt.Errorf("malformed job ID (%d fields): %q", len(fields), s)
	}
	start, err := parseDate(fields[6])
	if err != nil {
		return JobID{}, fmt.Errorf("malformed range start in %q: %w", s, err)
	}
	end, err := parseDate(fields[7])
	if err != nil {
		return JobID{}, fmt.Errorf("malformed range end in %q: %w", s, err)
	}
	return JobID{
		Namespace:  fieldUnescaper.Replace(fields[0]),
		Parent:     fieldUnescaper.Replace(fields[1]),
		EntityKind: fieldUnescaper.Replace(fields[2]),
		EntityID:   fieldUnescaper.Replace(fields[3]),
		ReportType: Type(fieldUnescaper.Replace(fields[4])),
		Variant:    fieldUnescaper.Replace(fields[5]),
		RangeStart: start,
		RangeEnd:   end,
	}, nil
}

// IsPerParent reports whether the job summarizes all children of its parent scope.
func (j JobID) IsPerParent() bool {
	return j.EntityID == ""
}

// IsDated reports whether the job targets a dated range.
func (j JobID) IsDated() bool {
	return !j.RangeStart.IsZero()
}

// ShardValue returns the stable value used for hash-based shard assignment.
// Jobs of the same parent scope land on the same shard.
func (j JobID) ShardValue() uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(j.Namespace))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(j.Parent))
	return h.Sum32()
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(DateFormat)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(DateFormat, s)
}
