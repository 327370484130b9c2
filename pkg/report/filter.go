package report

import "fmt"

// Bounds are the four optional numeric bounds for one phase. Nil means the
// bound is not set.
type Bounds struct {
	PercentMin *float64
	PercentMax *float64
	DaysMin    *float64
	DaysMax    *float64
}

func (b Bounds) active() bool {
	return b.PercentMin != nil || b.PercentMax != nil || b.DaysMin != nil || b.DaysMax != nil
}

// Filter holds up to sixteen independent bounds, four per phase, combined
// with AND semantics. An entirely-empty filter is invalid input.
type Filter struct {
	Dev    Bounds
	Wait   Bounds
	Review Bounds
	Merge  Bounds
}

// Empty reports whether no bound is set on any phase.
func (f Filter) Empty() bool {
	return !f.Dev.active() && !f.Wait.active() && !f.Review.active() && !f.Merge.active()
}

// phaseNames fixes the evaluation order; predicates short-circuit in this
// order so exclusion counts identify the first failing bound.
var phaseNames = []string{"dev", "wait", "review", "merge"}

// MergeOpenMRBucket is the diagnostic bucket for non-merged rows excluded
// because a merge-phase bound was set; the merge phase has no meaning for an
// open MR, so such rows never count against the per-predicate buckets.
const MergeOpenMRBucket = "merge-open-mr"

// FilteredRow is a surviving row plus the phases that had at least one
// active bound and passed it.
type FilteredRow struct {
	BatchRow
	PassedPhases []string
}

// FilterResult is the outcome of applying a Filter to a row set.
type FilterResult struct {
	Rows []FilteredRow
	// Exclusions counts, per failing predicate (e.g. "wait-percent-max") or
	// the merge-open-mr bucket, how many rows it eliminated. It lets an
	// operator spot the single most restrictive bound when a query returns
	// zero rows.
	Exclusions map[string]int
	Excluded   int
}

// ApplyFilter evaluates f over rows. Rows with a fetch error bypass
// filtering entirely and are always kept, so failed fetches stay visible.
// ApplyFilter is a pure function: same input, same output.
func ApplyFilter(rows []BatchRow, f Filter) (*FilterResult, error) {
	if f.Empty() {
		return nil, ErrEmptyFilter
	}

	result := &FilterResult{Exclusions: make(map[string]int)}
	for _, row := range rows {
		if row.Error != "" {
			result.Rows = append(result.Rows, FilteredRow{BatchRow: row})
			continue
		}

		passed, bucket := evaluateRow(&row, f)
		if bucket != "" {
			result.Exclusions[bucket]++
			result.Excluded++
			continue
		}
		result.Rows = append(result.Rows, FilteredRow{BatchRow: row, PassedPhases: passed})
	}
	return result, nil
}

// evaluateRow checks each phase in fixed order and returns either the list
// of passed phases or the diagnostic bucket of the first failing predicate.
func evaluateRow(row *BatchRow, f Filter) (passed []string, bucket string) {
	for _, name := range phaseNames {
		bounds := f.bounds(name)
		if !bounds.active() {
			continue
		}
		if name == "merge" && !row.Merged() {
			return nil, MergeOpenMRBucket
		}

		percent, days := row.phaseValues(name)
		if bucket := checkBounds(name, bounds, percent, days); bucket != "" {
			return nil, bucket
		}
		passed = append(passed, name)
	}
	return passed, ""
}

// checkBounds applies one phase's predicates, short-circuiting on the first
// failure.
func checkBounds(name string, b Bounds, percent, days float64) string {
	switch {
	case b.PercentMin != nil && percent < *b.PercentMin:
		return name + "-percent-min"
	case b.PercentMax != nil && percent > *b.PercentMax:
		return name + "-percent-max"
	case b.DaysMin != nil && days < *b.DaysMin:
		return name + "-days-min"
	case b.DaysMax != nil && days > *b.DaysMax:
		return name + "-days-max"
	}
	return ""
}

func (f Filter) bounds(name string) Bounds {
	switch name {
	case "dev":
		return f.Dev
	case "wait":
		return f.Wait
	case "review":
		return f.Review
	case "merge":
		return f.Merge
	}
	panic(fmt.Sprintf("unknown phase %q", name))
}

// phaseValues returns the row's percentage and duration-in-days for one
// phase.
func (r *BatchRow) phaseValues(name string) (percent, days float64) {
	s := r.Breakdown.Dev
	switch name {
	case "wait":
		s = r.Breakdown.Wait
	case "review":
		s = r.Breakdown.Review
	case "merge":
		s = r.Breakdown.Merge
	}
	return s.Percentage, s.DurationSeconds / 86400.0
}
