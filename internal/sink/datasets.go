package sink

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
)

// RepositorySchema is the column list of the repository dataset
var RepositorySchema = Schema{
	"id", "owner", "name", "stars", "age_years", "merged_prs", "releases",
	"update_recency_hours", "primary_language", "closed_issue_ratio",
	"closed_issues", "open_issues", "created_at", "updated_at", "captured_at",
}

// PullRequestSchema is the column list of the pull request dataset
var PullRequestSchema = Schema{
	"repository", "number", "title", "status", "state", "author",
	"created_at", "closed_at", "merged_at", "additions", "deletions", "files_changed",
	"reviews", "comments", "participants", "description_length", "analysis_hours",
}

// SnapshotRow encodes a snapshot in RepositorySchema order
func SnapshotRow(s domain.RepositorySnapshot) []string {
	return []string{
		strconv.Itoa(s.ID),
		s.Identity.Owner,
		s.Identity.Name,
		strconv.Itoa(s.Stars),
		formatFloat(s.AgeYears(), 2),
		strconv.Itoa(s.MergedPRCount),
		strconv.Itoa(s.ReleaseCount),
		formatFloat(s.Recency().Hours(), 1),
		s.LanguageOrUnknown(),
		formatFloat(s.ClosedIssueRatio(), 4),
		strconv.Itoa(s.ClosedIssueCount),
		strconv.Itoa(s.OpenIssueCount),
		formatTime(s.CreatedAt),
		formatTime(s.UpdatedAt),
		formatTime(s.CapturedAt),
	}
}

// PullRequestRow encodes a record in PullRequestSchema order
func PullRequestRow(p domain.PullRequestRecord) []string {
	return []string{
		p.Repository.FullName(),
		strconv.Itoa(p.Number),
		p.Title,
		string(p.Status()),
		p.State,
		p.Author,
		formatTime(p.CreatedAt),
		formatTimePtr(p.ClosedAt),
		formatTimePtr(p.MergedAt),
		strconv.Itoa(p.Additions),
		strconv.Itoa(p.Deletions),
		strconv.Itoa(p.FilesChanged),
		strconv.Itoa(p.ReviewCount),
		strconv.Itoa(p.CommentCount),
		strconv.Itoa(p.ParticipantCount),
		strconv.Itoa(p.DescriptionLength),
		formatFloat(p.AnalysisTime().Hours(), 2),
	}
}

func formatFloat(v float64, decimals int) string {
	return strconv.FormatFloat(v, 'f', decimals, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// SnapshotFile is a SnapshotSink appending to one repository dataset
type SnapshotFile struct {
	w    *Writer
	path string
}

// NewSnapshotFile creates a snapshot sink for path
func NewSnapshotFile(w *Writer, path string) *SnapshotFile {
	return &SnapshotFile{w: w, path: path}
}

// WriteSnapshots appends snaps to the dataset
func (f *SnapshotFile) WriteSnapshots(ctx context.Context, runID string, snaps []domain.RepositorySnapshot) error {
	rows := make([][]string, len(snaps))
	for i, s := range snaps {
		rows[i] = SnapshotRow(s)
	}
	return f.w.Write(rows, f.path, RepositorySchema)
}

// PullRequestFile is a PullRequestSink appending to one pull request dataset
type PullRequestFile struct {
	w    *Writer
	path string
}

// NewPullRequestFile creates a pull request sink for path
func NewPullRequestFile(w *Writer, path string) *PullRequestFile {
	return &PullRequestFile{w: w, path: path}
}

// WritePullRequests appends records to the dataset
func (f *PullRequestFile) WritePullRequests(ctx context.Context, runID string, records []domain.PullRequestRecord) error {
	rows := make([][]string, len(records))
	for i, p := range records {
		rows[i] = PullRequestRow(p)
	}
	return f.w.Write(rows, f.path, PullRequestSchema)
}

// ReadSnapshots loads a repository dataset written by SnapshotFile
func ReadSnapshots(path string, delimiter rune) ([]domain.RepositorySnapshot, error) {
	rows, err := readAll(path, delimiter)
	if err != nil {
		return nil, err
	}

	snaps := make([]domain.RepositorySnapshot, 0, len(rows))
	for i, row := range rows {
		p := rowParser{row: row}
		s := domain.RepositorySnapshot{
			ID:               p.number("id"),
			Identity:         domain.RepositoryIdentity{Owner: row["owner"], Name: row["name"]},
			Stars:            p.number("stars"),
			ReleaseCount:     p.number("releases"),
			MergedPRCount:    p.number("merged_prs"),
			ClosedIssueCount: p.number("closed_issues"),
			OpenIssueCount:   p.number("open_issues"),
			CreatedAt:        p.timestamp("created_at"),
			UpdatedAt:        p.timestamp("updated_at"),
			CapturedAt:       p.timestamp("captured_at"),
		}
		if lang := row["primary_language"]; lang != "Unknown" {
			s.PrimaryLanguage = lang
		}
		if p.err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, p.err)
		}
		snaps = append(snaps, s)
	}
	return snaps, nil
}

// ReadPullRequests loads a pull request dataset written by PullRequestFile
func ReadPullRequests(path string, delimiter rune) ([]domain.PullRequestRecord, error) {
	rows, err := readAll(path, delimiter)
	if err != nil {
		return nil, err
	}

	records := make([]domain.PullRequestRecord, 0, len(rows))
	for i, row := range rows {
		p := rowParser{row: row}
		repo, err := domain.ParseFullName(row["repository"])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		r := domain.PullRequestRecord{
			Repository:        repo,
			Number:            p.number("number"),
			Title:             row["title"],
			State:             row["state"],
			Author:            row["author"],
			CreatedAt:         p.timestamp("created_at"),
			ClosedAt:          p.optionalTimestamp("closed_at"),
			MergedAt:          p.optionalTimestamp("merged_at"),
			Additions:         p.number("additions"),
			Deletions:         p.number("deletions"),
			FilesChanged:      p.number("files_changed"),
			ReviewCount:       p.number("reviews"),
			CommentCount:      p.number("comments"),
			ParticipantCount:  p.number("participants"),
			DescriptionLength: p.number("description_length"),
		}
		if p.err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, p.err)
		}
		records = append(records, r)
	}
	return records, nil
}

// rowParser converts fields, keeping the first error
type rowParser struct {
	row map[string]string
	err error
}

func (p *rowParser) number(col string) int {
	v := strings.TrimSpace(p.row[col])
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		if f, ferr := strconv.ParseFloat(v, 64); ferr == nil {
			return int(f)
		}
		if p.err == nil {
			p.err = fmt.Errorf("column %s: %q is not a number", col, v)
		}
	}
	return n
}

func (p *rowParser) timestamp(col string) time.Time {
	t := p.optionalTimestamp(col)
	if t == nil {
		return time.Time{}
	}
	return *t
}

func (p *rowParser) optionalTimestamp(col string) *time.Time {
	v := strings.TrimSpace(p.row[col])
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		if p.err == nil {
			p.err = fmt.Errorf("column %s: %w", col, err)
		}
		return nil
	}
	t = t.UTC()
	return &t
}
