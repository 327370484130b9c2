// Package timeline reconstructs a normalized, time-ordered event timeline
// from raw merge request records and classifies every actor on it.
package timeline

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// Role identifies how an actor participated in a merge request.
type Role string

// Actor roles.
const (
	RoleAuthor        Role = "author"
	RoleAIReviewer    Role = "ai_reviewer"
	RoleHumanReviewer Role = "human_reviewer"
	RoleSystem        Role = "system"
)

// EventType is the fixed vocabulary of timeline events.
type EventType string

// Timeline event types.
const (
	EventMRCreated          EventType = "mr_created"
	EventCommitPushed       EventType = "commit_pushed"
	EventMarkedAsDraft      EventType = "marked_as_draft"
	EventMarkedAsReady      EventType = "marked_as_ready"
	EventAIReviewStarted    EventType = "ai_review_started"
	EventHumanReviewStarted EventType = "human_review_started"
	EventApproved           EventType = "approved"
	EventMerged             EventType = "merged"
	EventAuthorResponse     EventType = "author_response"
)

// Actor is the classified identity attached to an event.
type Actor struct {
	ID          string
	DisplayName string
	Role        Role
}

// Event is one normalized entry on a merge request timeline. Events are
// immutable once assembled.
type Event struct {
	Timestamp             time.Time
	Actor                 Actor
	Type                  EventType
	Details               string
	Sequence              int
	IntervalToNextSeconds float64
}

// User identifies a merge request participant as returned by the remote API.
type User struct {
	ID       string
	Username string
}

// Commit is a raw commit record.
type Commit struct {
	SHA       string
	Timestamp time.Time
}

// Comment is a raw note record.
type Comment struct {
	Body       string
	AuthorID   string
	AuthorName string
	TargetType string
	CreatedAt  time.Time
	System     bool
}

// Approval is a raw approval record.
type Approval struct {
	UserID    string
	Timestamp time.Time
}

// MRData is everything the remote API provides for one merge request.
type MRData struct {
	Ref       string
	Title     string
	WebURL    string
	Author    User
	CreatedAt time.Time
	MergedAt  time.Time // zero when the MR has not been merged
	IsDraft   bool
	Additions int
	Deletions int
	Commits   []Commit
	Comments  []Comment
	Approvals []Approval
}

// Merged reports whether the MR has been merged.
func (d *MRData) Merged() bool { return !d.MergedAt.IsZero() }

// CommentTargetMergeRequest is the note target type that counts as review
// activity; notes on commits or snippets do not.
const CommentTargetMergeRequest = "MergeRequest"

// Ready/draft transition markers appear in system notes. Upstream systems
// may wrap the marker text in markdown, so bodies are stripped of emphasis
// markup before matching.
var (
	readyMarkerPattern = regexp.MustCompile(`(?i)\b(marked this merge request as ready|marked as ready)\b`)
	draftMarkerPattern = regexp.MustCompile(`(?i)\b(marked this merge request as draft|marked as draft)\b`)
	markupReplacer     = strings.NewReplacer("*", "", "_", "", "`", "", "~", "")
)

// StripMarkup removes emphasis markup from a comment body.
func StripMarkup(body string) string {
	return markupReplacer.Replace(body)
}

// IsReadyMarker reports whether body is a "marked as ready" system message.
func IsReadyMarker(body string) bool {
	return readyMarkerPattern.MatchString(StripMarkup(body))
}

// IsDraftMarker reports whether body is a "marked as draft" system message.
func IsDraftMarker(body string) bool {
	return draftMarkerPattern.MatchString(StripMarkup(body))
}

// Assemble builds the ordered event timeline for one merge request.
//
// Every raw record becomes exactly one event: commits push, system draft
// toggles, classified review comments, approvals, and the creation/merge
// boundary events. Events are sorted non-decreasing by timestamp; ties keep
// the original API return order (stable sort). Sequence numbers and the
// interval to the following event are assigned after sorting.
func Assemble(data *MRData, classifier *Classifier) []Event {
	author := data.Author
	events := make([]Event, 0, len(data.Commits)+len(data.Comments)+len(data.Approvals)+3)

	events = append(events, Event{
		Timestamp: data.CreatedAt,
		Actor:     Actor{ID: author.ID, DisplayName: author.Username, Role: RoleAuthor},
		Type:      EventMRCreated,
	})
	if data.IsDraft {
		events = append(events, Event{
			Timestamp: data.CreatedAt,
			Actor:     Actor{Role: RoleSystem},
			Type:      EventMarkedAsDraft,
		})
	}

	for _, c := range data.Commits {
		events = append(events, Event{
			Timestamp: c.Timestamp,
			Actor:     Actor{ID: author.ID, DisplayName: author.Username, Role: RoleAuthor},
			Type:      EventCommitPushed,
			Details:   c.SHA,
		})
	}

	burst := classifier.BurstIdentities(data.Comments, data.CreatedAt)
	for _, c := range data.Comments {
		if ev, ok := commentEvent(c, data.Author.ID, classifier, burst); ok {
			events = append(events, ev)
		}
	}

	for _, a := range data.Approvals {
		role := classifier.RoleFor(a.UserID, "", false, data.Author.ID, burst)
		events = append(events, Event{
			Timestamp: a.Timestamp,
			Actor:     Actor{ID: a.UserID, Role: role},
			Type:      EventApproved,
		})
	}

	if data.Merged() {
		events = append(events, Event{
			Timestamp: data.MergedAt,
			Actor:     Actor{Role: RoleSystem},
			Type:      EventMerged,
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	for i := range events {
		events[i].Sequence = i
		if i+1 < len(events) {
			events[i].IntervalToNextSeconds = events[i+1].Timestamp.Sub(events[i].Timestamp).Seconds()
		}
	}
	return events
}

// commentEvent converts one raw note into its timeline event. System notes
// that are not draft/ready transition markers carry no timeline meaning and
// are dropped.
func commentEvent(c Comment, authorID string, classifier *Classifier, burst map[string]bool) (Event, bool) {
	if c.System {
		var typ EventType
		switch {
		case IsReadyMarker(c.Body):
			typ = EventMarkedAsReady
		case IsDraftMarker(c.Body):
			typ = EventMarkedAsDraft
		default:
			return Event{}, false
		}
		return Event{
			Timestamp: c.CreatedAt,
			Actor:     Actor{ID: c.AuthorID, DisplayName: c.AuthorName, Role: RoleSystem},
			Type:      typ,
			Details:   c.Body,
		}, true
	}

	role := classifier.RoleFor(c.AuthorID, c.AuthorName, false, authorID, burst)
	typ := EventHumanReviewStarted
	switch role {
	case RoleAuthor:
		typ = EventAuthorResponse
	case RoleAIReviewer:
		typ = EventAIReviewStarted
	case RoleHumanReviewer, RoleSystem:
	}
	return Event{
		Timestamp: c.CreatedAt,
		Actor:     Actor{ID: c.AuthorID, DisplayName: c.AuthorName, Role: role},
		Type:      typ,
		Details:   c.Body,
	}, true
}
