package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/lis186/gitlab-mr-cli-sub000/pkg/timeline"
)

// fakeFetcher serves canned MR records and records how often each ref was
// fetched.
type fakeFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
	mrs   map[string]*timeline.MRData
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		calls: make(map[string]int),
		fail:  make(map[string]error),
		mrs:   make(map[string]*timeline.MRData),
	}
}

func (f *fakeFetcher) FetchMR(_ context.Context, ref string) (*timeline.MRData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[ref]++
	if err, ok := f.fail[ref]; ok {
		return nil, err
	}
	if mr, ok := f.mrs[ref]; ok {
		return mr, nil
	}
	return mergedMR(ref), nil
}

func (f *fakeFetcher) callCount(ref string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[ref]
}

var testBase = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// mergedMR builds a plain merged MR: one commit an hour before creation, a
// human review comment at +2h, an approval at +3h, merged at +10h.
func mergedMR(ref string) *timeline.MRData {
	return &timeline.MRData{
		Ref:       ref,
		Title:     "Add feature",
		WebURL:    "https://gitlab.example.com/" + ref,
		Author:    timeline.User{ID: "u1", Username: "alice"},
		CreatedAt: testBase,
		MergedAt:  testBase.Add(10 * time.Hour),
		Additions: 120,
		Deletions: 30,
		Commits:   []timeline.Commit{{SHA: "abc123", Timestamp: testBase.Add(-time.Hour)}},
		Comments: []timeline.Comment{
			{
				Body:       "Looks good overall",
				AuthorID:   "u2",
				AuthorName: "bob",
				TargetType: timeline.CommentTargetMergeRequest,
				CreatedAt:  testBase.Add(2 * time.Hour),
			},
		},
		Approvals: []timeline.Approval{{UserID: "u2", Timestamp: testBase.Add(3 * time.Hour)}},
	}
}

func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

func TestRunPartialFailures(t *testing.T) {
	fetcher := newFakeFetcher()
	refs := make([]string, 12)
	for i := range refs {
		refs[i] = fmt.Sprintf("proj!%d", i+1)
	}
	fetcher.fail["proj!4"] = errors.New("not found")
	fetcher.fail["proj!8"] = errors.New("access denied")

	result, err := NewOrchestrator(fetcher, quietConfig()).Run(context.Background(), refs)
	if err != nil {
		t.Fatalf("Partial failures must not fail the run, got %v", err)
	}
	if len(result.Rows) != 12 {
		t.Fatalf("Expected 12 rows, got %d", len(result.Rows))
	}
	if result.Succeeded != 10 || result.Failed != 2 {
		t.Errorf("Expected 10 succeeded / 2 failed, got %d/%d", result.Succeeded, result.Failed)
	}
	for i, row := range result.Rows {
		if row.Ref != refs[i] {
			t.Errorf("Row %d out of input order: expected %s, got %s", i, refs[i], row.Ref)
		}
	}
	if result.Rows[3].Error != "not found" || result.Rows[7].Error != "access denied" {
		t.Errorf("Failed rows not re-associated: %q / %q", result.Rows[3].Error, result.Rows[7].Error)
	}
	if result.Rows[0].Error != "" {
		t.Errorf("Unexpected error on successful row: %q", result.Rows[0].Error)
	}
}

func TestRunAllFailed(t *testing.T) {
	fetcher := newFakeFetcher()
	refs := make([]string, 12)
	for i := range refs {
		refs[i] = fmt.Sprintf("proj!%d", i+1)
		fetcher.fail[refs[i]] = fmt.Errorf("boom %d", i+1)
	}

	result, err := NewOrchestrator(fetcher, quietConfig()).Run(context.Background(), refs)
	if result != nil {
		t.Error("Expected nil result when every MR failed")
	}
	var pf *PartialFailureError
	if !errors.As(err, &pf) {
		t.Fatalf("Expected PartialFailureError, got %v", err)
	}
	if pf.Total != 12 {
		t.Errorf("Expected total 12, got %d", pf.Total)
	}
	if len(pf.Samples) != maxFailureSamples {
		t.Errorf("Expected %d samples, got %d", maxFailureSamples, len(pf.Samples))
	}
}

func TestRunEmptyRefs(t *testing.T) {
	result, err := NewOrchestrator(newFakeFetcher(), quietConfig()).Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(result.Rows) != 0 {
		t.Errorf("Expected no rows, got %d", len(result.Rows))
	}
}

func TestRunReusesTimelineWithinRun(t *testing.T) {
	fetcher := newFakeFetcher()
	refs := []string{"proj!1", "proj!1", "proj!1"}

	result, err := NewOrchestrator(fetcher, quietConfig()).Run(context.Background(), refs)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(result.Rows) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(result.Rows))
	}
	if got := fetcher.callCount("proj!1"); got != 1 {
		t.Errorf("Expected a single fetch for a repeated ref, got %d", got)
	}
}

func TestRunClearsCacheBetweenRuns(t *testing.T) {
	fetcher := newFakeFetcher()
	o := NewOrchestrator(fetcher, quietConfig())

	for range 2 {
		if _, err := o.Run(context.Background(), []string{"proj!1"}); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	if got := fetcher.callCount("proj!1"); got != 2 {
		t.Errorf("Expected a fresh fetch per run, got %d fetches", got)
	}
}

func TestRunMergedRowFields(t *testing.T) {
	fetcher := newFakeFetcher()

	result, err := NewOrchestrator(fetcher, quietConfig()).Run(context.Background(), []string{"proj!1"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	row := result.Rows[0]

	if row.Status != StatusMerged {
		t.Errorf("Expected merged status, got %s", row.Status)
	}
	if row.Type != MRTypeStandard {
		t.Errorf("Expected standard type, got %s", row.Type)
	}
	if row.Author != "alice" || row.Additions != 120 || row.Deletions != 30 {
		t.Errorf("Row metadata wrong: %+v", row)
	}
	if math.Abs(row.CycleTimeHours-10) > 1e-9 {
		t.Errorf("Expected cycle time 10h, got %v", row.CycleTimeHours)
	}
	if row.ReviewComments != 1 || row.AIReviewComments != 0 {
		t.Errorf("Expected 1 review comment, 0 AI, got %d/%d", row.ReviewComments, row.AIReviewComments)
	}

	// One hour of pre-creation work plus the 10-hour lifetime.
	want := 11 * 3600.0
	if math.Abs(row.Breakdown.TotalDurationSeconds-want) > 1e-6 {
		t.Errorf("Expected total %v, got %v", want, row.Breakdown.TotalDurationSeconds)
	}
	sum := row.Breakdown.Dev.DurationSeconds + row.Breakdown.Wait.DurationSeconds +
		row.Breakdown.Review.DurationSeconds + row.Breakdown.Merge.DurationSeconds
	if sum != row.Breakdown.TotalDurationSeconds {
		t.Errorf("Phase durations %v do not sum to total %v", sum, row.Breakdown.TotalDurationSeconds)
	}
}

func TestRunOpenMRUsesAnalysisTime(t *testing.T) {
	fetcher := newFakeFetcher()
	open := mergedMR("proj!1")
	open.MergedAt = time.Time{}
	fetcher.mrs["proj!1"] = open

	cfg := quietConfig()
	cfg.Now = func() time.Time { return testBase.Add(6 * time.Hour) }

	result, err := NewOrchestrator(fetcher, cfg).Run(context.Background(), []string{"proj!1"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	row := result.Rows[0]

	if row.Status != StatusOpen {
		t.Errorf("Expected open status, got %s", row.Status)
	}
	if row.CycleTimeHours != 0 {
		t.Errorf("Open MRs have no cycle time, got %v", row.CycleTimeHours)
	}
	// One hour pre-creation plus six observed hours.
	want := 7 * 3600.0
	if math.Abs(row.Breakdown.TotalDurationSeconds-want) > 1e-6 {
		t.Errorf("Expected total %v, got %v", want, row.Breakdown.TotalDurationSeconds)
	}
}

// fakeBehind is a canned CommitsBehindProvider.
type fakeBehind struct {
	behind int
	err    error
}

func (f *fakeBehind) CommitsBehind(context.Context, string) (int, error) {
	return f.behind, f.err
}

func TestRunCommitsBehind(t *testing.T) {
	cfg := quietConfig()
	cfg.CommitsBehind = &fakeBehind{behind: 4}

	result, err := NewOrchestrator(newFakeFetcher(), cfg).Run(context.Background(), []string{"proj!1"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.Rows[0].CommitsBehind == nil || *result.Rows[0].CommitsBehind != 4 {
		t.Errorf("Expected commits behind 4, got %v", result.Rows[0].CommitsBehind)
	}

	cfg.CommitsBehind = &fakeBehind{err: errors.New("no base")}
	result, err = NewOrchestrator(newFakeFetcher(), cfg).Run(context.Background(), []string{"proj!1"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.Rows[0].CommitsBehind != nil {
		t.Error("A staleness lookup failure must leave the row without the field, not fail it")
	}
}

func TestClassifyMRType(t *testing.T) {
	classifier := timeline.NewClassifier(timeline.DefaultClassifierConfig())

	draft := mergedMR("proj!1")
	draft.IsDraft = true
	draft.Comments = append(draft.Comments, timeline.Comment{
		Body:      "marked this merge request as ready",
		System:    true,
		CreatedAt: testBase.Add(time.Hour),
	})
	events := timeline.Assemble(draft, classifier)
	if got := classifyMRType(events, draft.CreatedAt, 24*time.Hour); got != MRTypeDraft {
		t.Errorf("Expected draft type, got %s", got)
	}

	active := mergedMR("proj!2")
	active.MergedAt = testBase.Add(80 * time.Hour)
	active.Commits = append(active.Commits, timeline.Commit{SHA: "def456", Timestamp: testBase.Add(40 * time.Hour)})
	active.Comments = nil
	active.Approvals = []timeline.Approval{{UserID: "u2", Timestamp: testBase.Add(60 * time.Hour)}}
	events = timeline.Assemble(active, classifier)
	if got := classifyMRType(events, active.CreatedAt, 24*time.Hour); got != MRTypeActiveDevelopment {
		t.Errorf("Expected active_development type, got %s", got)
	}

	events = timeline.Assemble(mergedMR("proj!3"), classifier)
	if got := classifyMRType(events, testBase, 24*time.Hour); got != MRTypeStandard {
		t.Errorf("Expected standard type, got %s", got)
	}
}
