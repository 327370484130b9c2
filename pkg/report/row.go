// Package report turns per-MR phase breakdowns into filtered, aggregated
// cross-MR reports, and orchestrates the batch fetch/compute pipeline that
// produces them.
package report

import (
	"github.com/lis186/gitlab-mr-cli-sub000/pkg/phase"
)

// MR status values carried on a row.
const (
	StatusMerged = "merged"
	StatusOpen   = "open"
)

// MRType is the independently-computed merge request classification used by
// the aggregate summary cross tabs.
type MRType string

// MR types.
const (
	MRTypeStandard          MRType = "standard"
	MRTypeDraft             MRType = "draft"
	MRTypeActiveDevelopment MRType = "active_development"
)

// BatchRow is one MR's flattened comparison record. Rows with Error set are
// excluded from all statistics but retained in totals and counts.
type BatchRow struct {
	Ref              string
	Title            string
	WebURL           string
	Author           string
	Status           string
	Type             MRType
	Additions        int
	Deletions        int
	ReviewComments   int
	AIReviewComments int
	CycleTimeHours   float64
	Breakdown        phase.Breakdown
	CommitsBehind    *int
	Error            string
}

// Merged reports whether the row's MR has been merged.
func (r *BatchRow) Merged() bool { return r.Status == StatusMerged }

// HasAIReview reports whether at least one AI-authored review landed outside
// the merge phase; this drives the withAI/withoutAI summary split.
func (r *BatchRow) HasAIReview() bool { return r.AIReviewComments > 0 }
