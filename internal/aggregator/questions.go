package aggregator

import (
	"sort"
	"strconv"

	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
)

// RepositoryQuestions answers the popular-repository questions over a snapshot dataset
func RepositoryQuestions(snaps []domain.RepositorySnapshot) []domain.ResearchResult {
	age := column[domain.RepositorySnapshot]{"age_years", func(s domain.RepositorySnapshot) float64 { return s.AgeYears() }}
	merged := column[domain.RepositorySnapshot]{"merged_prs", func(s domain.RepositorySnapshot) float64 { return float64(s.MergedPRCount) }}
	releases := column[domain.RepositorySnapshot]{"releases", func(s domain.RepositorySnapshot) float64 { return float64(s.ReleaseCount) }}
	recency := column[domain.RepositorySnapshot]{"update_recency_hours", func(s domain.RepositorySnapshot) float64 { return s.Recency().Hours() }}
	ratio := column[domain.RepositorySnapshot]{"closed_issue_ratio", func(s domain.RepositorySnapshot) float64 { return s.ClosedIssueRatio() }}

	languages := LanguageCounts(snaps)
	top := map[string]bool{}
	for i := 0; i < len(languages) && i < 5; i++ {
		top[languages[i].Category] = true
	}
	var topSnaps []domain.RepositorySnapshot
	for _, s := range snaps {
		if top[s.LanguageOrUnknown()] {
			topSnaps = append(topSnaps, s)
		}
	}
	byLanguage := func(s domain.RepositorySnapshot) string { return s.LanguageOrUnknown() }

	return []domain.ResearchResult{
		{ID: "RQ01", Question: "Are popular systems mature/old?",
			Rows: describeAll(snaps, []column[domain.RepositorySnapshot]{age})},
		{ID: "RQ02", Question: "Do popular systems receive many external contributions?",
			Rows: describeAll(snaps, []column[domain.RepositorySnapshot]{merged})},
		{ID: "RQ03", Question: "Do popular systems release often?",
			Rows: describeAll(snaps, []column[domain.RepositorySnapshot]{releases})},
		{ID: "RQ04", Question: "Are popular systems updated often?",
			Rows: describeAll(snaps, []column[domain.RepositorySnapshot]{recency})},
		{ID: "RQ05", Question: "Are popular systems written in the most popular languages?",
			GroupBy: "primary_language", Counts: languages},
		{ID: "RQ06", Question: "Do popular systems close a high share of their issues?",
			Rows: describeAll(snaps, []column[domain.RepositorySnapshot]{ratio})},
		{ID: "RQ07", Question: "Do systems in the most common languages get more contributions, releases and updates?",
			GroupBy: "primary_language",
			Rows:    describeBy(topSnaps, byLanguage, []column[domain.RepositorySnapshot]{merged, releases, recency})},
	}
}

// PullRequestQuestions answers the code-review questions over a pull request dataset,
// first grouped by final status, then by number of reviews.
func PullRequestQuestions(prs []domain.PullRequestRecord) []domain.ResearchResult {
	type pr = domain.PullRequestRecord
	files := column[pr]{"files_changed", func(p pr) float64 { return float64(p.FilesChanged) }}
	additions := column[pr]{"additions", func(p pr) float64 { return float64(p.Additions) }}
	deletions := column[pr]{"deletions", func(p pr) float64 { return float64(p.Deletions) }}
	analysis := column[pr]{"analysis_hours", func(p pr) float64 { return p.AnalysisTime().Hours() }}
	description := column[pr]{"description_length", func(p pr) float64 { return float64(p.DescriptionLength) }}
	participants := column[pr]{"participants", func(p pr) float64 { return float64(p.ParticipantCount) }}
	comments := column[pr]{"comments", func(p pr) float64 { return float64(p.CommentCount) }}

	size := []column[pr]{files, additions, deletions}
	interactions := []column[pr]{participants, comments}

	byStatus := func(p pr) string { return string(p.Status()) }
	byReviews := func(p pr) string { return strconv.Itoa(p.ReviewCount) }

	return []domain.ResearchResult{
		{ID: "RQ01", Question: "How does PR size relate to the final outcome?", GroupBy: "status",
			Rows: describeBy(prs, byStatus, size)},
		{ID: "RQ02", Question: "How does analysis time relate to the final outcome?", GroupBy: "status",
			Rows: describeBy(prs, byStatus, []column[pr]{analysis})},
		{ID: "RQ03", Question: "How does the description relate to the final outcome?", GroupBy: "status",
			Rows: describeBy(prs, byStatus, []column[pr]{description})},
		{ID: "RQ04", Question: "How do interactions relate to the final outcome?", GroupBy: "status",
			Rows: describeBy(prs, byStatus, interactions)},
		{ID: "RQ05", Question: "How does PR size relate to the number of reviews?", GroupBy: "reviews",
			Rows: describeBy(prs, byReviews, size)},
		{ID: "RQ06", Question: "How does analysis time relate to the number of reviews?", GroupBy: "reviews",
			Rows: describeBy(prs, byReviews, []column[pr]{analysis})},
		{ID: "RQ07", Question: "How does the description relate to the number of reviews?", GroupBy: "reviews",
			Rows: describeBy(prs, byReviews, []column[pr]{description})},
		{ID: "RQ08", Question: "How do interactions relate to the number of reviews?", GroupBy: "reviews",
			Rows: describeBy(prs, byReviews, interactions)},
	}
}

// LanguageCounts returns primary languages by descending frequency, ties by name
func LanguageCounts(snaps []domain.RepositorySnapshot) []domain.CountRow {
	counts := map[string]int{}
	for _, s := range snaps {
		counts[s.LanguageOrUnknown()]++
	}
	rows := make([]domain.CountRow, 0, len(counts))
	for lang, n := range counts {
		rows = append(rows, domain.CountRow{Category: lang, Count: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Category < rows[j].Category
	})
	return rows
}
