package timeline

import (
	"testing"
	"time"
)

func testMRData(created, merged time.Time) *MRData {
	return &MRData{
		Ref:       "group/project!42",
		Author:    User{ID: "alice", Username: "alice"},
		CreatedAt: created,
		MergedAt:  merged,
		Commits: []Commit{
			{SHA: "c1", Timestamp: created.Add(-2 * time.Hour)},
			{SHA: "c2", Timestamp: created.Add(30 * time.Minute)},
		},
		Comments: []Comment{
			{Body: "lgtm", AuthorID: "carol", AuthorName: "Carol", TargetType: CommentTargetMergeRequest, CreatedAt: created.Add(time.Hour)},
			{Body: "thanks", AuthorID: "alice", AuthorName: "alice", TargetType: CommentTargetMergeRequest, CreatedAt: created.Add(90 * time.Minute)},
			{Body: "added label", AuthorID: "gitlab", System: true, CreatedAt: created.Add(time.Minute)},
		},
		Approvals: []Approval{{UserID: "carol", Timestamp: created.Add(2 * time.Hour)}},
	}
}

func TestAssembleOrderingAndSequence(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	merged := created.Add(3 * time.Hour)
	events := Assemble(testMRData(created, merged), NewClassifier(DefaultClassifierConfig()))

	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			t.Fatalf("Events out of order at %d: %v before %v", i, events[i].Timestamp, events[i-1].Timestamp)
		}
	}
	for i, ev := range events {
		if ev.Sequence != i {
			t.Errorf("Event %d has sequence %d", i, ev.Sequence)
		}
	}
	// Interval to next must match the timestamp gap.
	for i := 0; i+1 < len(events); i++ {
		want := events[i+1].Timestamp.Sub(events[i].Timestamp).Seconds()
		if events[i].IntervalToNextSeconds != want {
			t.Errorf("Event %d interval = %g, want %g", i, events[i].IntervalToNextSeconds, want)
		}
	}
}

func TestAssembleEventTypes(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	merged := created.Add(3 * time.Hour)
	events := Assemble(testMRData(created, merged), NewClassifier(DefaultClassifierConfig()))

	counts := make(map[EventType]int)
	for _, ev := range events {
		counts[ev.Type]++
	}
	if counts[EventMRCreated] != 1 {
		t.Errorf("Expected 1 mr_created, got %d", counts[EventMRCreated])
	}
	if counts[EventCommitPushed] != 2 {
		t.Errorf("Expected 2 commit_pushed, got %d", counts[EventCommitPushed])
	}
	if counts[EventHumanReviewStarted] != 1 {
		t.Errorf("Expected 1 human_review_started, got %d", counts[EventHumanReviewStarted])
	}
	if counts[EventAuthorResponse] != 1 {
		t.Errorf("Expected 1 author_response, got %d", counts[EventAuthorResponse])
	}
	if counts[EventApproved] != 1 {
		t.Errorf("Expected 1 approved, got %d", counts[EventApproved])
	}
	if counts[EventMerged] != 1 {
		t.Errorf("Expected 1 merged, got %d", counts[EventMerged])
	}
	// The "added label" system note matches no marker and is dropped.
	if counts[EventMarkedAsDraft] != 0 || counts[EventMarkedAsReady] != 0 {
		t.Errorf("Unexpected draft/ready events: %v", counts)
	}
}

func TestAssembleDraftToggles(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	data := testMRData(created, created.Add(3*time.Hour))
	data.IsDraft = true
	data.Comments = append(data.Comments, Comment{
		Body: "**marked this merge request as ready**", AuthorID: "gitlab", System: true,
		CreatedAt: created.Add(45 * time.Minute),
	})

	events := Assemble(data, NewClassifier(DefaultClassifierConfig()))
	var sawDraft, sawReady bool
	for _, ev := range events {
		switch ev.Type {
		case EventMarkedAsDraft:
			sawDraft = true
		case EventMarkedAsReady:
			sawReady = true
		}
	}
	if !sawDraft {
		t.Error("Expected marked_as_draft event for a draft MR")
	}
	if !sawReady {
		t.Error("Expected marked_as_ready event from markdown-wrapped system note")
	}
}

func TestReadyMarkerMatching(t *testing.T) {
	cases := []struct {
		body string
		want bool
	}{
		{"marked this merge request as ready", true},
		{"**Marked as ready**", true},
		{"_marked this merge request as ready_", true},
		{"marked this merge request as draft", false},
		{"ready to go", false},
		{"remarked as readyish", false},
	}
	for _, tc := range cases {
		if got := IsReadyMarker(tc.body); got != tc.want {
			t.Errorf("IsReadyMarker(%q) = %v, want %v", tc.body, got, tc.want)
		}
	}
}
