package report

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lis186/gitlab-mr-cli-sub000/pkg/phase"
	"github.com/lis186/gitlab-mr-cli-sub000/pkg/timeline"
)

// Fetcher retrieves one MR's raw records from the remote API. Implementations
// live outside this package (pkg/gitlab provides the real one).
type Fetcher interface {
	FetchMR(ctx context.Context, ref string) (*timeline.MRData, error)
}

// CommitsBehindProvider reports how many commits a branch trails its base
// by. It is optional and feeds branch-staleness scoring only, never the
// phase accounting.
type CommitsBehindProvider interface {
	CommitsBehind(ctx context.Context, ref string) (int, error)
}

// Config holds orchestrator tuning.
type Config struct {
	// Number of MRs fetched concurrently; batches run strictly
	// sequentially, so this bounds peak outstanding requests (default: 10).
	BatchSize int

	// An MR whose last pre-review commit lands more than this long after
	// creation is classified Active-Development (default: 24h).
	ActiveDevThreshold time.Duration

	Classifier timeline.ClassifierConfig

	// Optional branch-staleness provider.
	CommitsBehind CommitsBehindProvider

	Logger *slog.Logger

	// Now is the observation time used for open MRs; defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:          10,
		ActiveDevThreshold: 24 * time.Hour,
		Classifier:         timeline.DefaultClassifierConfig(),
	}
}

// Orchestrator fetches and computes batch comparison rows for many MRs with
// partial-failure isolation.
type Orchestrator struct {
	fetcher    Fetcher
	classifier *timeline.Classifier
	cache      *runCache
	cfg        Config
}

// BatchResult is the outcome of one batch run.
type BatchResult struct {
	Rows      []BatchRow
	Succeeded int
	Failed    int
}

// NewOrchestrator builds an orchestrator around fetcher.
func NewOrchestrator(fetcher Fetcher, cfg Config) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.ActiveDevThreshold <= 0 {
		cfg.ActiveDevThreshold = 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		fetcher:    fetcher,
		classifier: timeline.NewClassifier(cfg.Classifier),
		cache:      newRunCache(),
		cfg:        cfg,
	}
}

// Run fetches and computes rows for every ref. Rows come back in input
// order, re-associated by identifier, with fetch failures converted to
// error rows. Only a run where every single MR failed returns an error, a
// PartialFailureError carrying up to three sample messages.
func (o *Orchestrator) Run(ctx context.Context, refs []string) (*BatchResult, error) {
	// The timeline cache only serves one run; stale cross-run entries must
	// never survive into a fresh analysis.
	o.cache.Clear()

	result := &BatchResult{Rows: make([]BatchRow, 0, len(refs))}

	for start := 0; start < len(refs); start += o.cfg.BatchSize {
		end := min(start+o.cfg.BatchSize, len(refs))
		batch := refs[start:end]

		o.cfg.Logger.InfoContext(ctx, "Processing batch",
			"from", start, "to", end, "total", len(refs))

		rows := make([]BatchRow, len(batch))
		var wg sync.WaitGroup
		for i, ref := range batch {
			wg.Add(1)
			go func(i int, ref string) {
				defer wg.Done()
				rows[i] = o.buildRow(ctx, ref)
			}(i, ref)
		}
		// Settle the whole batch before collecting: one MR's failure must
		// not abort its siblings.
		wg.Wait()

		result.Rows = append(result.Rows, rows...)
	}

	var samples []string
	for i := range result.Rows {
		if result.Rows[i].Error == "" {
			result.Succeeded++
			continue
		}
		result.Failed++
		if len(samples) < maxFailureSamples {
			samples = append(samples, result.Rows[i].Ref+": "+result.Rows[i].Error)
		}
	}

	if len(refs) > 0 && result.Succeeded == 0 {
		return nil, &PartialFailureError{Total: len(refs), Samples: samples}
	}
	return result, nil
}

// buildRow fetches (or reuses) one MR's timeline and computes its row.
func (o *Orchestrator) buildRow(ctx context.Context, ref string) BatchRow {
	entry, ok := o.cache.get(ref)
	if !ok {
		data, err := o.fetcher.FetchMR(ctx, ref)
		if err != nil {
			o.cfg.Logger.WarnContext(ctx, "Failed to fetch MR", "ref", ref, "error", err)
			return BatchRow{Ref: ref, Error: err.Error()}
		}
		entry = cachedTimeline{data: data, events: timeline.Assemble(data, o.classifier)}
		o.cache.put(ref, entry)
	}

	data, events := entry.data, entry.events
	end := data.MergedAt
	status := StatusMerged
	if !data.Merged() {
		end = o.cfg.Now()
		status = StatusOpen
	}

	segments := phase.SegmentsFromEvents(events, data.CreatedAt, end)
	breakdown := phase.Decompose(events, data.CreatedAt, end, segments)

	row := BatchRow{
		Ref:       ref,
		Title:     data.Title,
		WebURL:    data.WebURL,
		Author:    data.Author.Username,
		Status:    status,
		Type:      classifyMRType(events, data.CreatedAt, o.cfg.ActiveDevThreshold),
		Additions: data.Additions,
		Deletions: data.Deletions,
		Breakdown: breakdown,
	}
	if data.Merged() {
		row.CycleTimeHours = data.MergedAt.Sub(data.CreatedAt).Hours()
	}
	row.ReviewComments, row.AIReviewComments = countReviews(events, end)

	if o.cfg.CommitsBehind != nil {
		if behind, err := o.cfg.CommitsBehind.CommitsBehind(ctx, ref); err != nil {
			o.cfg.Logger.WarnContext(ctx, "Failed to get commits behind", "ref", ref, "error", err)
		} else {
			row.CommitsBehind = &behind
		}
	}
	return row
}

// classifyMRType applies the three-rule MR type decision: a ready-marker
// event means Draft; else a last pre-review commit landing long after
// creation means Active-Development; else Standard.
func classifyMRType(events []timeline.Event, createdAt time.Time, activeDevThreshold time.Duration) MRType {
	var firstReview, lastPreReviewCommit time.Time
	for _, ev := range events {
		if ev.Type == timeline.EventMarkedAsReady {
			return MRTypeDraft
		}
		if ev.Type == timeline.EventAIReviewStarted || ev.Type == timeline.EventHumanReviewStarted {
			if firstReview.IsZero() || ev.Timestamp.Before(firstReview) {
				firstReview = ev.Timestamp
			}
		}
	}
	for _, ev := range events {
		if ev.Type != timeline.EventCommitPushed {
			continue
		}
		if !firstReview.IsZero() && ev.Timestamp.After(firstReview) {
			continue
		}
		if ev.Timestamp.After(lastPreReviewCommit) {
			lastPreReviewCommit = ev.Timestamp
		}
	}
	if !lastPreReviewCommit.IsZero() && lastPreReviewCommit.Sub(createdAt) > activeDevThreshold {
		return MRTypeActiveDevelopment
	}
	return MRTypeStandard
}

// countReviews counts review comments, and separately the AI-authored ones
// outside the merge phase (before the first approval, or any when the MR
// was never approved).
func countReviews(events []timeline.Event, end time.Time) (total, ai int) {
	var approvedAt time.Time
	for _, ev := range events {
		if ev.Type == timeline.EventApproved && ev.Timestamp.Before(end) {
			if approvedAt.IsZero() || ev.Timestamp.Before(approvedAt) {
				approvedAt = ev.Timestamp
			}
		}
	}
	mergePhaseStart := end
	if !approvedAt.IsZero() {
		mergePhaseStart = approvedAt
	}

	for _, ev := range events {
		switch ev.Type {
		case timeline.EventAIReviewStarted:
			total++
			if ev.Timestamp.Before(mergePhaseStart) {
				ai++
			}
		case timeline.EventHumanReviewStarted:
			total++
		}
	}
	return total, ai
}
