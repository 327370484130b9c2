package gitlab

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lis186/gitlab-mr-cli-sub000/pkg/timeline"
)

const perPage = 100

// ParseRef splits a merge request reference of the form
// "group/project!42" into its project path and MR IID.
func ParseRef(ref string) (project string, iid int, err error) {
	idx := strings.LastIndex(ref, "!")
	if idx <= 0 || idx == len(ref)-1 {
		return "", 0, fmt.Errorf("invalid MR reference %q, expected project!iid", ref)
	}
	iid, err = strconv.Atoi(ref[idx+1:])
	if err != nil || iid <= 0 {
		return "", 0, fmt.Errorf("invalid MR IID in reference %q", ref)
	}
	return ref[:idx], iid, nil
}

// API wire types. Fields follow the GitLab v4 REST schema.
type apiUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type apiMR struct {
	IID                  int        `json:"iid"`
	Title                string     `json:"title"`
	WebURL               string     `json:"web_url"`
	State                string     `json:"state"`
	Draft                bool       `json:"draft"`
	CreatedAt            time.Time  `json:"created_at"`
	MergedAt             *time.Time `json:"merged_at"`
	Author               apiUser    `json:"author"`
	DivergedCommitsCount *int       `json:"diverged_commits_count"`
}

type apiCommit struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

type apiNote struct {
	Body         string    `json:"body"`
	Author       apiUser   `json:"author"`
	CreatedAt    time.Time `json:"created_at"`
	System       bool      `json:"system"`
	NoteableType string    `json:"noteable_type"`
}

type apiApprovals struct {
	ApprovedBy []struct {
		User apiUser `json:"user"`
	} `json:"approved_by"`
}

type apiDiff struct {
	Diff string `json:"diff"`
}

// GitLab records approvals as system notes; the approvals endpoint reports
// who approved but not when, so timestamps come from these notes.
var approvedMarkerPattern = regexp.MustCompile(`(?i)\bapproved this merge request\b`)

// FetchMR retrieves one merge request's record, commits, notes, approvals
// and diff stats, and converts them into timeline input.
func (c *Client) FetchMR(ctx context.Context, ref string) (*timeline.MRData, error) {
	project, iid, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	mrURL := c.mrURL(project, iid)

	var mr apiMR
	if err := c.getJSON(ctx, mrURL+"?include_diverged_commits_count=true", &mr); err != nil {
		return nil, fmt.Errorf("failed to fetch MR %s: %w", ref, err)
	}
	commits, err := pagedGet[apiCommit](ctx, c, mrURL+"/commits")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch commits for %s: %w", ref, err)
	}
	notes, err := pagedGet[apiNote](ctx, c, mrURL+"/notes")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch notes for %s: %w", ref, err)
	}
	var approvals apiApprovals
	if err := c.getJSON(ctx, mrURL+"/approvals", &approvals); err != nil {
		return nil, fmt.Errorf("failed to fetch approvals for %s: %w", ref, err)
	}
	diffs, err := pagedGet[apiDiff](ctx, c, mrURL+"/diffs")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch diffs for %s: %w", ref, err)
	}

	data := convert(ref, &mr, commits, notes, &approvals)
	data.Additions, data.Deletions = countDiffLines(diffs)
	c.logger.InfoContext(ctx, "Fetched MR",
		"ref", ref, "commits", len(commits), "notes", len(notes), "state", mr.State)
	return data, nil
}

// CommitsBehind reports how many commits the MR's source branch trails its
// target by, using the divergence count GitLab computes server-side.
func (c *Client) CommitsBehind(ctx context.Context, ref string) (int, error) {
	project, iid, err := ParseRef(ref)
	if err != nil {
		return 0, err
	}

	var mr apiMR
	if err := c.getJSON(ctx, c.mrURL(project, iid)+"?include_diverged_commits_count=true", &mr); err != nil {
		return 0, fmt.Errorf("failed to fetch divergence for %s: %w", ref, err)
	}
	if mr.DivergedCommitsCount == nil {
		return 0, fmt.Errorf("divergence not reported for %s", ref)
	}
	return *mr.DivergedCommitsCount, nil
}

func (c *Client) mrURL(project string, iid int) string {
	return fmt.Sprintf("%s/api/v4/projects/%s/merge_requests/%d",
		c.baseURL, url.PathEscape(project), iid)
}

// pagedGet follows GitLab offset pagination until a short page.
func pagedGet[T any](ctx context.Context, c *Client, base string) ([]T, error) {
	var all []T
	for page := 1; ; page++ {
		var batch []T
		pageURL := fmt.Sprintf("%s?per_page=%d&page=%d", base, perPage, page)
		if err := c.getJSON(ctx, pageURL, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < perPage {
			return all, nil
		}
	}
}

// convert maps the wire records onto timeline input.
func convert(ref string, mr *apiMR, commits []apiCommit, notes []apiNote, approvals *apiApprovals) *timeline.MRData {
	data := &timeline.MRData{
		Ref:       ref,
		Title:     mr.Title,
		WebURL:    mr.WebURL,
		Author:    convertUser(mr.Author),
		CreatedAt: mr.CreatedAt,
		IsDraft:   mr.Draft,
	}
	if mr.MergedAt != nil {
		data.MergedAt = *mr.MergedAt
	}

	for _, commit := range commits {
		data.Commits = append(data.Commits, timeline.Commit{
			SHA:       commit.ID,
			Timestamp: commit.CreatedAt,
		})
	}
	for _, note := range notes {
		data.Comments = append(data.Comments, timeline.Comment{
			Body:       note.Body,
			AuthorID:   strconv.FormatInt(note.Author.ID, 10),
			AuthorName: note.Author.Username,
			TargetType: note.NoteableType,
			CreatedAt:  note.CreatedAt,
			System:     note.System,
		})
	}
	data.Approvals = convertApprovals(notes, approvals)
	return data
}

func convertUser(u apiUser) timeline.User {
	return timeline.User{ID: strconv.FormatInt(u.ID, 10), Username: u.Username}
}

// convertApprovals pairs each approver from the approvals endpoint with the
// timestamp of their "approved this merge request" system note. When the
// endpoint reports nobody (e.g. approvals are not configured), the notes
// alone decide.
func convertApprovals(notes []apiNote, approvals *apiApprovals) []timeline.Approval {
	approvers := make(map[string]bool, len(approvals.ApprovedBy))
	for _, a := range approvals.ApprovedBy {
		approvers[strconv.FormatInt(a.User.ID, 10)] = true
	}

	var result []timeline.Approval
	for _, note := range notes {
		if !note.System || !approvedMarkerPattern.MatchString(note.Body) {
			continue
		}
		userID := strconv.FormatInt(note.Author.ID, 10)
		if len(approvers) > 0 && !approvers[userID] {
			continue
		}
		result = append(result, timeline.Approval{UserID: userID, Timestamp: note.CreatedAt})
	}
	return result
}

// countDiffLines sums added and removed lines across unified diffs,
// skipping the +++/--- file headers.
func countDiffLines(diffs []apiDiff) (additions, deletions int) {
	for _, d := range diffs {
		for _, line := range strings.Split(d.Diff, "\n") {
			switch {
			case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			case strings.HasPrefix(line, "+"):
				additions++
			case strings.HasPrefix(line, "-"):
				deletions++
			}
		}
	}
	return additions, deletions
}
