package report

import (
	"github.com/lis186/gitlab-mr-cli-sub000/pkg/stats"
)

// Band carries the mean plus the percentile spread used for duration
// metrics.
type Band struct {
	Mean float64
	P50  float64
	P75  float64
	P90  float64
	P95  float64
}

// CountBand is the narrower spread used for count metrics (code changes,
// review comments).
type CountBand struct {
	Mean float64
	P50  float64
	P90  float64
}

// GroupSummary is the rollup for one AI-review split group, further broken
// down by MR type.
type GroupSummary struct {
	Rows           int
	ByType         map[MRType]int
	CycleTimeHours Band
}

// AggregateSummary is the cross-MR rollup over a (typically filtered) row
// set. Rows with a fetch error count toward Total and Failed but contribute
// to no statistic.
type AggregateSummary struct {
	Total     int
	Succeeded int
	Failed    int

	CodeChanges    CountBand
	ReviewComments CountBand

	CycleTimeHours Band
	DevHours       Band
	WaitHours      Band
	ReviewHours    Band
	MergeHours     Band

	WithAIReview    GroupSummary
	WithoutAIReview GroupSummary
}

// BuildSummary computes the aggregate rollup for rows.
func BuildSummary(rows []BatchRow) AggregateSummary {
	summary := AggregateSummary{
		Total:           len(rows),
		WithAIReview:    GroupSummary{ByType: make(map[MRType]int)},
		WithoutAIReview: GroupSummary{ByType: make(map[MRType]int)},
	}

	var codeChanges, reviewComments []float64
	var cycle, dev, wait, review, merge []float64
	var aiCycle, noAICycle []float64

	for i := range rows {
		row := &rows[i]
		if row.Error != "" {
			summary.Failed++
			continue
		}
		summary.Succeeded++

		codeChanges = append(codeChanges, float64(row.Additions+row.Deletions))
		reviewComments = append(reviewComments, float64(row.ReviewComments))
		cycle = append(cycle, row.CycleTimeHours)
		dev = append(dev, row.Breakdown.Dev.DurationSeconds/3600)
		wait = append(wait, row.Breakdown.Wait.DurationSeconds/3600)
		review = append(review, row.Breakdown.Review.DurationSeconds/3600)
		merge = append(merge, row.Breakdown.Merge.DurationSeconds/3600)

		if row.HasAIReview() {
			summary.WithAIReview.Rows++
			summary.WithAIReview.ByType[row.Type]++
			aiCycle = append(aiCycle, row.CycleTimeHours)
		} else {
			summary.WithoutAIReview.Rows++
			summary.WithoutAIReview.ByType[row.Type]++
			noAICycle = append(noAICycle, row.CycleTimeHours)
		}
	}

	summary.CodeChanges = countBand(codeChanges)
	summary.ReviewComments = countBand(reviewComments)
	summary.CycleTimeHours = band(cycle)
	summary.DevHours = band(dev)
	summary.WaitHours = band(wait)
	summary.ReviewHours = band(review)
	summary.MergeHours = band(merge)
	summary.WithAIReview.CycleTimeHours = band(aiCycle)
	summary.WithoutAIReview.CycleTimeHours = band(noAICycle)
	return summary
}

func band(values []float64) Band {
	p := func(pct float64) float64 {
		v, _ := stats.Percentile(values, pct)
		return v
	}
	return Band{Mean: stats.Mean(values), P50: p(50), P75: p(75), P90: p(90), P95: p(95)}
}

func countBand(values []float64) CountBand {
	p := func(pct float64) float64 {
		v, _ := stats.Percentile(values, pct)
		return v
	}
	return CountBand{Mean: stats.Mean(values), P50: p(50), P90: p(90)}
}

// SummarizeFiltered is a convenience for rolling up a filter result.
func SummarizeFiltered(result *FilterResult) AggregateSummary {
	rows := make([]BatchRow, 0, len(result.Rows))
	for _, fr := range result.Rows {
		rows = append(rows, fr.BatchRow)
	}
	return BuildSummary(rows)
}
