package collector

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/go-github/v55/github"

	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
)

// PullRequestCriteria selects which pull requests of a repository are collected
type PullRequestCriteria struct {
	MinReviews    int           // reviews a PR needs to be kept
	MinReviewTime time.Duration // minimum time between creation and merge or close
	MaxPages      int           // listing pages of 100 PRs to scan per repository, 0 for all
	MinPRs        int           // repositories with fewer closed PRs are skipped, 0 disables the check
}

// CountClosedPullRequests returns the number of merged or closed pull requests of a repository
func (c *Client) CountClosedPullRequests(ctx context.Context, repo domain.RepositoryIdentity) (int, error) {
	query := fmt.Sprintf("repo:%s is:pr is:closed", repo.FullName())
	opts := &github.SearchOptions{ListOptions: github.ListOptions{PerPage: 1}}

	var result *github.IssuesSearchResult
	err := c.do(WithResource(ctx, ResourceSearch), func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		result, resp, err = c.gh.Search.Issues(ctx, query, opts)
		return resp, err
	})
	if err != nil {
		return 0, fmt.Errorf("counting pull requests for %s: %w", repo, err)
	}
	return result.GetTotal(), nil
}

// PullRequests returns the merged or closed pull requests of repo that meet the criteria,
// enriched with size, review and discussion counts. A PR whose details cannot be fetched is
// skipped; failing to list the repository's PRs is an error.
func (c *Client) PullRequests(ctx context.Context, repo domain.RepositoryIdentity, criteria PullRequestCriteria) ([]domain.PullRequestRecord, error) {
	candidates, err := c.listClosedPullRequests(ctx, repo, criteria)
	if err != nil {
		return nil, err
	}

	var records []domain.PullRequestRecord
	for _, pr := range candidates {
		record, keep, err := c.enrichPullRequest(ctx, repo, pr, criteria)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warn().Err(err).Str("repo", repo.FullName()).Int("number", pr.GetNumber()).Msg("skipping pull request")
			continue
		}
		if keep {
			records = append(records, record)
		}
	}
	return records, nil
}

func (c *Client) listClosedPullRequests(ctx context.Context, repo domain.RepositoryIdentity, criteria PullRequestCriteria) ([]*github.PullRequest, error) {
	opts := &github.PullRequestListOptions{
		State:       "closed",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var candidates []*github.PullRequest
	for pages := 1; ; pages++ {
		var prs []*github.PullRequest
		var resp *github.Response
		err := c.do(ctx, func(ctx context.Context) (*github.Response, error) {
			var err error
			prs, resp, err = c.gh.PullRequests.List(ctx, repo.Owner, repo.Name, opts)
			return resp, err
		})
		if err != nil {
			return nil, fmt.Errorf("listing pull requests for %s (page %d): %w", repo, opts.Page, err)
		}

		for _, pr := range prs {
			if reviewDuration(pr) >= criteria.MinReviewTime {
				candidates = append(candidates, pr)
			}
		}

		if resp.NextPage == 0 || (criteria.MaxPages > 0 && pages >= criteria.MaxPages) {
			break
		}
		opts.Page = resp.NextPage
	}
	return candidates, nil
}

// reviewDuration is the time from creation to merge, or to close for unmerged PRs
func reviewDuration(pr *github.PullRequest) time.Duration {
	end := pr.MergedAt
	if end == nil {
		end = pr.ClosedAt
	}
	if end == nil {
		return -1
	}
	return end.Time.Sub(pr.GetCreatedAt().Time)
}

func (c *Client) enrichPullRequest(ctx context.Context, repo domain.RepositoryIdentity, pr *github.PullRequest, criteria PullRequestCriteria) (domain.PullRequestRecord, bool, error) {
	number := pr.GetNumber()

	reviews, err := c.listReviews(ctx, repo, number)
	if err != nil {
		return domain.PullRequestRecord{}, false, err
	}
	if len(reviews) < criteria.MinReviews {
		return domain.PullRequestRecord{}, false, nil
	}

	var detail *github.PullRequest
	err = c.do(ctx, func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		detail, resp, err = c.gh.PullRequests.Get(ctx, repo.Owner, repo.Name, number)
		return resp, err
	})
	if err != nil {
		return domain.PullRequestRecord{}, false, fmt.Errorf("getting %s#%d: %w", repo, number, err)
	}

	participants := map[string]bool{}
	addLogin := func(u *github.User) {
		if login := u.GetLogin(); login != "" {
			participants[login] = true
		}
	}
	addLogin(detail.GetUser())
	for _, r := range reviews {
		addLogin(r.GetUser())
	}

	issueComments, err := c.listIssueComments(ctx, repo, number)
	if err != nil {
		return domain.PullRequestRecord{}, false, err
	}
	for _, cm := range issueComments {
		addLogin(cm.GetUser())
	}

	reviewComments, err := c.listReviewComments(ctx, repo, number)
	if err != nil {
		return domain.PullRequestRecord{}, false, err
	}
	for _, cm := range reviewComments {
		addLogin(cm.GetUser())
	}

	record := domain.PullRequestRecord{
		Repository:        repo,
		Number:            number,
		Title:             detail.GetTitle(),
		State:             detail.GetState(),
		Author:            detail.GetUser().GetLogin(),
		CreatedAt:         detail.GetCreatedAt().Time.UTC(),
		Additions:         detail.GetAdditions(),
		Deletions:         detail.GetDeletions(),
		FilesChanged:      detail.GetChangedFiles(),
		ReviewCount:       len(reviews),
		CommentCount:      detail.GetComments() + detail.GetReviewComments(),
		ParticipantCount:  len(participants),
		DescriptionLength: utf8.RuneCountInString(detail.GetBody()),
	}
	if detail.ClosedAt != nil {
		t := detail.ClosedAt.Time.UTC()
		record.ClosedAt = &t
	}
	if detail.MergedAt != nil {
		t := detail.MergedAt.Time.UTC()
		record.MergedAt = &t
	}
	return record, true, nil
}

func (c *Client) listReviews(ctx context.Context, repo domain.RepositoryIdentity, number int) ([]*github.PullRequestReview, error) {
	opts := &github.ListOptions{PerPage: 100}
	var all []*github.PullRequestReview

	for {
		var reviews []*github.PullRequestReview
		var resp *github.Response
		err := c.do(ctx, func(ctx context.Context) (*github.Response, error) {
			var err error
			reviews, resp, err = c.gh.PullRequests.ListReviews(ctx, repo.Owner, repo.Name, number, opts)
			return resp, err
		})
		if err != nil {
			return nil, fmt.Errorf("listing reviews for %s#%d (page %d): %w", repo, number, opts.Page, err)
		}
		all = append(all, reviews...)

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (c *Client) listIssueComments(ctx context.Context, repo domain.RepositoryIdentity, number int) ([]*github.IssueComment, error) {
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	var all []*github.IssueComment

	for {
		var comments []*github.IssueComment
		var resp *github.Response
		err := c.do(ctx, func(ctx context.Context) (*github.Response, error) {
			var err error
			comments, resp, err = c.gh.Issues.ListComments(ctx, repo.Owner, repo.Name, number, opts)
			return resp, err
		})
		if err != nil {
			return nil, fmt.Errorf("listing comments for %s#%d (page %d): %w", repo, number, opts.Page, err)
		}
		all = append(all, comments...)

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (c *Client) listReviewComments(ctx context.Context, repo domain.RepositoryIdentity, number int) ([]*github.PullRequestComment, error) {
	opts := &github.PullRequestListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	var all []*github.PullRequestComment

	for {
		var comments []*github.PullRequestComment
		var resp *github.Response
		err := c.do(ctx, func(ctx context.Context) (*github.Response, error) {
			var err error
			comments, resp, err = c.gh.PullRequests.ListComments(ctx, repo.Owner, repo.Name, number, opts)
			return resp, err
		})
		if err != nil {
			return nil, fmt.Errorf("listing review comments for %s#%d (page %d): %w", repo, number, opts.Page, err)
		}
		all = append(all, comments...)

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}
