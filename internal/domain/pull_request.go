package domain

import "time"

// PullRequestStatus is the derived classification of a pull request
type PullRequestStatus string

const (
	StatusMerged PullRequestStatus = "merged"
	StatusClosed PullRequestStatus = "closed"
	StatusOpen   PullRequestStatus = "open"
)

// PullRequestRecord is an immutable snapshot of a pull request and its review activity
type PullRequestRecord struct {
	Repository        RepositoryIdentity
	Number            int
	Title             string
	State             string
	Author            string
	CreatedAt         time.Time
	ClosedAt          *time.Time
	MergedAt          *time.Time
	Additions         int
	Deletions         int
	FilesChanged      int
	ReviewCount       int
	CommentCount      int
	ParticipantCount  int
	DescriptionLength int
}

// Status derives merged, closed or open from the record's timestamps and state
func (p *PullRequestRecord) Status() PullRequestStatus {
	switch {
	case p.MergedAt != nil:
		return StatusMerged
	case p.State == "closed":
		return StatusClosed
	default:
		return StatusOpen
	}
}

// AnalysisTime is the time between creation and merge (or close). Zero for open PRs.
func (p *PullRequestRecord) AnalysisTime() time.Duration {
	end := p.MergedAt
	if end == nil {
		end = p.ClosedAt
	}
	if end == nil || end.Before(p.CreatedAt) {
		return 0
	}
	return end.Sub(p.CreatedAt)
}

// TotalLines is additions plus deletions
func (p *PullRequestRecord) TotalLines() int {
	return p.Additions + p.Deletions
}
