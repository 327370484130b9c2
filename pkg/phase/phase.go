// Package phase decomposes a merge request timeline into Dev, Wait, Review
// and Merge phases with durations, percentages and activity intensity.
package phase

import (
	"math"
	"time"

	"github.com/lis186/gitlab-mr-cli-sub000/pkg/timeline"
)

// Interval is one pre-segmented slice of the MR lifetime.
type Interval struct {
	From            time.Time
	To              time.Time
	DurationSeconds float64
}

// Intensity counts activity inside one phase window. Level buckets the
// commit+comment count: 0 for none, 1 for up to 2, 2 for up to 5, 3 above.
type Intensity struct {
	Commits  int
	Comments int
	Level    int
}

// Stat describes one phase of the breakdown.
type Stat struct {
	DurationSeconds float64
	Percentage      float64
	Intensity       Intensity
}

// Breakdown is the four-phase decomposition of one merge request.
//
// Invariants: the four DurationSeconds sum to TotalDurationSeconds exactly,
// and the four rounded percentages sum to 100 within one point whenever the
// total is positive.
type Breakdown struct {
	Dev                             Stat
	Wait                            Stat
	Review                          Stat
	Merge                           Stat
	TotalDurationSeconds            float64
	Estimated                       bool
	FirstReviewInferredFromApproved bool
}

// Fixed split used when no segments exist at all. This is a last-resort
// illustrative estimate, not a measurement; Estimated marks it downstream.
const (
	estimatedDevShare    = 0.30
	estimatedWaitShare   = 0.10
	estimatedReviewShare = 0.50
	estimatedMergeShare  = 0.10
)

// boundaries are the timestamps the phases hang off.
type boundaries struct {
	devStart     time.Time // earliest pre-creation commit, else createdAt
	waitStart    time.Time // last "marked as ready", else createdAt
	firstReview  time.Time // zero when no review happened
	approvedAt   time.Time // zero when never approved before end
	end          time.Time
	inferredByAp bool
}

// SegmentsFromEvents splits the [createdAt, end] lifetime at every event
// timestamp, producing contiguous intervals that cover the whole span.
func SegmentsFromEvents(events []timeline.Event, createdAt, end time.Time) []Interval {
	if !end.After(createdAt) {
		return nil
	}
	cuts := []time.Time{createdAt}
	for _, ev := range events {
		if ev.Timestamp.After(createdAt) && ev.Timestamp.Before(end) {
			cuts = append(cuts, ev.Timestamp)
		}
	}
	cuts = append(cuts, end)

	var segments []Interval
	for i := 0; i+1 < len(cuts); i++ {
		if !cuts[i+1].After(cuts[i]) {
			continue
		}
		segments = append(segments, Interval{
			From:            cuts[i],
			To:              cuts[i+1],
			DurationSeconds: cuts[i+1].Sub(cuts[i]).Seconds(),
		})
	}
	return segments
}

// Decompose assigns every segment of an MR's lifetime to a phase.
//
// end is the merge timestamp for merged MRs, or the analysis time for open
// ones. segments must cover the lifetime; when they have gaps, phases fall
// back to direct boundary-timestamp arithmetic, and when no segments exist
// at all the result is the fixed estimated split.
func Decompose(events []timeline.Event, createdAt, end time.Time, segments []Interval) Breakdown {
	b := computeBoundaries(events, createdAt, end)
	drafts := draftIntervals(events, createdAt, end)

	if len(segments) == 0 {
		return estimatedBreakdown(events, b, createdAt, end)
	}

	// Dev time is everything before the MR existed plus every spell spent
	// back in Draft, each cycle measured independently and summed.
	var devSeconds float64
	if b.devStart.Before(createdAt) {
		devSeconds = createdAt.Sub(b.devStart).Seconds()
	}
	for _, d := range drafts {
		devSeconds += d.DurationSeconds
	}

	var waitSeconds, reviewSeconds, mergeSeconds float64
	reviewEnd := end
	if !b.approvedAt.IsZero() {
		reviewEnd = b.approvedAt
	}
	for _, seg := range segments {
		if insideAny(seg, drafts) {
			continue // already accounted to dev
		}
		switch {
		case !b.firstReview.IsZero() && within(seg, b.waitStart, b.firstReview):
			waitSeconds += seg.DurationSeconds
		case !b.firstReview.IsZero() && within(seg, b.firstReview, reviewEnd):
			reviewSeconds += seg.DurationSeconds
		case !b.approvedAt.IsZero() && within(seg, b.approvedAt, end):
			mergeSeconds += seg.DurationSeconds
		case b.firstReview.IsZero() && !seg.From.Before(b.waitStart):
			// No review ever happened: trailing intervals are all wait.
			waitSeconds += seg.DurationSeconds
		}
	}

	// Segment coverage can have gaps. When a phase came out empty despite
	// valid boundaries, recompute it from the boundaries directly.
	if waitSeconds == 0 && !b.firstReview.IsZero() && b.firstReview.After(b.waitStart) {
		waitSeconds = b.firstReview.Sub(b.waitStart).Seconds()
	}
	if reviewSeconds == 0 && !b.firstReview.IsZero() && reviewEnd.After(b.firstReview) {
		reviewSeconds = reviewEnd.Sub(b.firstReview).Seconds()
	}
	if mergeSeconds == 0 && !b.approvedAt.IsZero() && end.After(b.approvedAt) {
		mergeSeconds = end.Sub(b.approvedAt).Seconds()
	}

	return assemble(events, b, devSeconds, waitSeconds, reviewSeconds, mergeSeconds, false)
}

// computeBoundaries derives the phase boundary timestamps from the events.
func computeBoundaries(events []timeline.Event, createdAt, end time.Time) boundaries {
	b := boundaries{devStart: createdAt, waitStart: createdAt, end: end}

	for _, ev := range events {
		switch ev.Type {
		case timeline.EventMarkedAsReady:
			if ev.Timestamp.After(b.waitStart) && ev.Timestamp.Before(end) {
				b.waitStart = ev.Timestamp
			}
		case timeline.EventCommitPushed:
			if ev.Timestamp.Before(b.devStart) {
				b.devStart = ev.Timestamp
			}
		}
	}

	for _, ev := range events {
		if ev.Type != timeline.EventAIReviewStarted && ev.Type != timeline.EventHumanReviewStarted {
			continue
		}
		if ev.Timestamp.Before(b.waitStart) || !ev.Timestamp.Before(end) {
			continue
		}
		if b.firstReview.IsZero() || ev.Timestamp.Before(b.firstReview) {
			b.firstReview = ev.Timestamp
		}
	}

	for _, ev := range events {
		if ev.Type != timeline.EventApproved || !ev.Timestamp.Before(end) {
			continue
		}
		if b.approvedAt.IsZero() || ev.Timestamp.Before(b.approvedAt) {
			b.approvedAt = ev.Timestamp
		}
	}

	// No explicit review event at all: infer the review start from the
	// first approval instead and flag the inference.
	if b.firstReview.IsZero() && !b.approvedAt.IsZero() {
		b.firstReview = b.approvedAt
		b.inferredByAp = true
	}
	return b
}

// draftIntervals pairs each "marked as draft" with the following "marked as
// ready" (or the end of the lifetime), supporting multiple draft cycles.
func draftIntervals(events []timeline.Event, createdAt, end time.Time) []Interval {
	var intervals []Interval
	var draftStart time.Time
	inDraft := false

	for _, ev := range events {
		switch ev.Type {
		case timeline.EventMarkedAsDraft:
			if !inDraft {
				draftStart = ev.Timestamp
				if draftStart.Before(createdAt) {
					draftStart = createdAt
				}
				inDraft = true
			}
		case timeline.EventMarkedAsReady:
			if inDraft && ev.Timestamp.After(draftStart) {
				intervals = append(intervals, Interval{
					From:            draftStart,
					To:              ev.Timestamp,
					DurationSeconds: ev.Timestamp.Sub(draftStart).Seconds(),
				})
			}
			inDraft = false
		}
	}
	if inDraft && end.After(draftStart) {
		intervals = append(intervals, Interval{
			From:            draftStart,
			To:              end,
			DurationSeconds: end.Sub(draftStart).Seconds(),
		})
	}
	return intervals
}

// within reports whether the segment lies inside [from, to].
func within(seg Interval, from, to time.Time) bool {
	return !seg.From.Before(from) && !seg.To.After(to)
}

func insideAny(seg Interval, intervals []Interval) bool {
	for _, iv := range intervals {
		if within(seg, iv.From, iv.To) {
			return true
		}
	}
	return false
}

// estimatedBreakdown emits the fixed 30/10/50/10 split over the lifetime.
func estimatedBreakdown(events []timeline.Event, b boundaries, createdAt, end time.Time) Breakdown {
	total := end.Sub(createdAt).Seconds()
	if total < 0 {
		total = 0
	}
	bd := assemble(events, b,
		total*estimatedDevShare,
		total*estimatedWaitShare,
		total*estimatedReviewShare,
		total*estimatedMergeShare,
		true)
	return bd
}

// assemble fills the breakdown from the four phase durations.
func assemble(events []timeline.Event, b boundaries, dev, wait, review, merge float64, estimated bool) Breakdown {
	total := dev + wait + review + merge

	bd := Breakdown{
		Dev:                             Stat{DurationSeconds: dev},
		Wait:                            Stat{DurationSeconds: wait},
		Review:                          Stat{DurationSeconds: review},
		Merge:                           Stat{DurationSeconds: merge},
		TotalDurationSeconds:            total,
		Estimated:                       estimated,
		FirstReviewInferredFromApproved: b.inferredByAp,
	}
	if total > 0 {
		bd.Dev.Percentage = roundPct(dev / total * 100)
		bd.Wait.Percentage = roundPct(wait / total * 100)
		bd.Review.Percentage = roundPct(review / total * 100)
		bd.Merge.Percentage = roundPct(merge / total * 100)
	}

	reviewEnd := b.end
	mergeStart := b.end
	if !b.approvedAt.IsZero() {
		reviewEnd = b.approvedAt
		mergeStart = b.approvedAt
	}
	waitEnd := b.firstReview
	if waitEnd.IsZero() {
		waitEnd = reviewEnd
	}
	bd.Dev.Intensity = intensity(events, b.devStart, b.waitStart)
	bd.Wait.Intensity = intensity(events, b.waitStart, waitEnd)
	if !b.firstReview.IsZero() {
		bd.Review.Intensity = intensity(events, b.firstReview, reviewEnd)
	}
	bd.Merge.Intensity = intensity(events, mergeStart, b.end)
	return bd
}

func roundPct(v float64) float64 {
	return math.Round(v*10) / 10
}

// intensity counts commits and non-bot comments inside [from, to).
func intensity(events []timeline.Event, from, to time.Time) Intensity {
	var in Intensity
	if !to.After(from) {
		return in
	}
	for _, ev := range events {
		if ev.Timestamp.Before(from) || !ev.Timestamp.Before(to) {
			continue
		}
		switch ev.Type {
		case timeline.EventCommitPushed:
			in.Commits++
		case timeline.EventHumanReviewStarted, timeline.EventAuthorResponse:
			in.Comments++
		}
	}
	switch n := in.Commits + in.Comments; {
	case n == 0:
		in.Level = 0
	case n <= 2:
		in.Level = 1
	case n <= 5:
		in.Level = 2
	default:
		in.Level = 3
	}
	return in
}
