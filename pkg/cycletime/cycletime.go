// Package cycletime calculates four-stage cycle time for a single merge
// request from its raw commit and comment timestamps.
//
// The four stages are Coding (first commit to MR creation), Pickup (review
// becoming available to the first review comment), Review (first to last
// review comment) and Merge (last review comment to merge). Negative raw
// deltas from clock skew or rebases are clamped to zero and reported through
// a caller-supplied warning callback; they are never errors.
package cycletime

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lis186/gitlab-mr-cli-sub000/pkg/timeline"
)

// Precondition errors. Both are terminal for the one MR but must not abort
// a batch.
var (
	ErrNotMerged = errors.New("merge request is not merged")
	ErrNoCommits = errors.New("merge request has no commits")
)

// MergeSlack absorbs clock skew between the comment-authoring service and
// the merge event: a comment timestamped up to this long after the merge is
// still counted as review input.
const MergeSlack = 5 * time.Second

// Timestamps are the boundary times the stages were derived from.
// FirstReviewAt and LastReviewAt are nil when no review activity exists.
type Timestamps struct {
	FirstCommitAt time.Time
	CreatedAt     time.Time
	FirstReviewAt *time.Time
	LastReviewAt  *time.Time
	MergedAt      time.Time
}

// Stages hold the four durations in hours. PickupHours and ReviewHours are
// nil when the MR has no review phase (a Draft that never became Ready, or
// no qualifying review comments).
type Stages struct {
	CodingHours float64
	PickupHours *float64
	ReviewHours *float64
	MergeHours  float64
}

// Metrics is the cycle-time result for one merge request.
type Metrics struct {
	MRRef      string
	Timestamps Timestamps
	Stages     Stages
}

// WarnFunc receives human-readable messages about clamped negative
// durations. It may be nil.
type WarnFunc func(msg string)

// clamped carries a non-negative duration together with the warning that a
// negative raw delta produced, letting the caller decide whether to log,
// collect, or ignore it.
type clamped struct {
	hours   float64
	warning string
}

// clampHours converts from→to into hours, flooring negative deltas at zero.
func clampHours(from, to time.Time, stage, ref string) clamped {
	hours := to.Sub(from).Hours()
	if hours < 0 {
		return clamped{
			hours:   0,
			warning: fmt.Sprintf("%s: negative %s duration (%s to %s), clamped to 0", ref, stage, from.Format(time.RFC3339), to.Format(time.RFC3339)),
		}
	}
	return clamped{hours: hours}
}

// Compute calculates cycle-time metrics for one merge request.
//
// It fails with ErrNotMerged when the MR has no merge timestamp and with
// ErrNoCommits when the commit list is empty. Commits and comments may be
// unsorted. Each negative-duration correction invokes warn; there is no
// other side effect.
func Compute(data *timeline.MRData, warn WarnFunc) (Metrics, error) {
	if !data.Merged() {
		return Metrics{}, fmt.Errorf("%s: %w", data.Ref, ErrNotMerged)
	}
	if len(data.Commits) == 0 {
		return Metrics{}, fmt.Errorf("%s: %w", data.Ref, ErrNoCommits)
	}
	emit := func(c clamped) float64 {
		if c.warning != "" && warn != nil {
			warn(c.warning)
		}
		return c.hours
	}

	commits := make([]timeline.Commit, len(data.Commits))
	copy(commits, data.Commits)
	sort.Slice(commits, func(i, j int) bool { return commits[i].Timestamp.Before(commits[j].Timestamp) })
	firstCommitAt := commits[0].Timestamp

	// Draft MRs only enter review at an explicit Ready transition. Without
	// one, comments are activity on a change nobody asked to have reviewed,
	// so the pickup/review stages stay null.
	readyAt, hasReady := readyMarkerTime(data.Comments)
	reviewStart := data.CreatedAt
	if data.IsDraft {
		if !hasReady {
			coding := emit(clampHours(firstCommitAt, data.CreatedAt, "coding", data.Ref))
			merge := emit(clampHours(data.CreatedAt, data.MergedAt, "merge", data.Ref))
			return Metrics{
				MRRef: data.Ref,
				Timestamps: Timestamps{
					FirstCommitAt: firstCommitAt,
					CreatedAt:     data.CreatedAt,
					MergedAt:      data.MergedAt,
				},
				Stages: Stages{CodingHours: coding, MergeHours: merge},
			}, nil
		}
		reviewStart = readyAt
	}

	firstReview, lastReview := reviewWindow(data.Comments, reviewStart, data.MergedAt)

	metrics := Metrics{
		MRRef: data.Ref,
		Timestamps: Timestamps{
			FirstCommitAt: firstCommitAt,
			CreatedAt:     data.CreatedAt,
			MergedAt:      data.MergedAt,
		},
	}
	metrics.Stages.CodingHours = emit(clampHours(firstCommitAt, data.CreatedAt, "coding", data.Ref))

	mergeFrom := data.CreatedAt
	if firstReview != nil {
		metrics.Timestamps.FirstReviewAt = firstReview
		metrics.Timestamps.LastReviewAt = lastReview

		pickup := emit(clampHours(reviewStart, *firstReview, "pickup", data.Ref))
		review := emit(clampHours(*firstReview, *lastReview, "review", data.Ref))
		metrics.Stages.PickupHours = &pickup
		metrics.Stages.ReviewHours = &review
		mergeFrom = *lastReview
	}
	metrics.Stages.MergeHours = emit(clampHours(mergeFrom, data.MergedAt, "merge", data.Ref))

	return metrics, nil
}

// readyMarkerTime finds the first system-authored "marked as ready" note.
func readyMarkerTime(comments []timeline.Comment) (time.Time, bool) {
	var readyAt time.Time
	found := false
	for _, c := range comments {
		if !c.System || !timeline.IsReadyMarker(c.Body) {
			continue
		}
		if !found || c.CreatedAt.Before(readyAt) {
			readyAt = c.CreatedAt
			found = true
		}
	}
	return readyAt, found
}

// reviewWindow returns the first and last qualifying review comment times.
// A comment qualifies when it is non-system, non-empty, targets the merge
// request itself, and sits inside [reviewStart, mergedAt+MergeSlack].
func reviewWindow(comments []timeline.Comment, reviewStart, mergedAt time.Time) (first, last *time.Time) {
	deadline := mergedAt.Add(MergeSlack)
	for _, c := range comments {
		if c.System || c.Body == "" || c.TargetType != timeline.CommentTargetMergeRequest {
			continue
		}
		if c.CreatedAt.Before(reviewStart) || c.CreatedAt.After(deadline) {
			continue
		}
		ts := c.CreatedAt
		if first == nil || ts.Before(*first) {
			first = &ts
		}
		if last == nil || ts.After(*last) {
			last = &ts
		}
	}
	return first, last
}
