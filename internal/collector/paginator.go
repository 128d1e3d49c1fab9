package collector

import (
	"context"
	"fmt"

	"github.com/google/go-github/v55/github"

	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
	apperrors "github.com/kurihiro0119/github-lab-harvester/internal/errors"
	"github.com/kurihiro0119/github-lab-harvester/internal/logger"
)

// searchResultCap is the number of results GitHub search will page through
const searchResultCap = 1000

// IdentitySource supplies the repositories a harvest runs over
type IdentitySource interface {
	Identities(ctx context.Context, target int) ([]domain.SearchHit, error)
}

// RepositorySearcher returns one page of repository search results
type RepositorySearcher interface {
	SearchRepositories(ctx context.Context, query string, page, perPage int) ([]domain.SearchHit, error)
}

// SearchRepositories returns one page of query results sorted by stars, descending.
// Pages beyond GitHub's search window come back empty.
func (c *Client) SearchRepositories(ctx context.Context, query string, page, perPage int) ([]domain.SearchHit, error) {
	if (page-1)*perPage >= searchResultCap {
		return nil, nil
	}

	opts := &github.SearchOptions{
		Sort:        "stars",
		Order:       "desc",
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	}

	var result *github.RepositoriesSearchResult
	err := c.do(WithResource(ctx, ResourceSearch), func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		result, resp, err = c.gh.Search.Repositories(ctx, query, opts)
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("searching repositories (page %d): %w", page, err)
	}

	hits := make([]domain.SearchHit, 0, len(result.Repositories))
	for _, repo := range result.Repositories {
		hits = append(hits, domain.SearchHit{
			Identity: domain.RepositoryIdentity{
				Owner: repo.GetOwner().GetLogin(),
				Name:  repo.GetName(),
			},
			Stars: repo.GetStargazersCount(),
		})
	}
	return hits, nil
}

// Paginator walks search result pages until a target count is reached
type Paginator struct {
	searcher RepositorySearcher
	query    string
	pageSize int
	log      *logger.Logger
}

// NewPaginator creates a paginator over query
func NewPaginator(searcher RepositorySearcher, query string, pageSize int) *Paginator {
	return &Paginator{
		searcher: searcher,
		query:    query,
		pageSize: pageSize,
		log:      logger.Named("paginator"),
	}
}

// Identities implements IdentitySource with the paginator's page size
func (p *Paginator) Identities(ctx context.Context, target int) ([]domain.SearchHit, error) {
	return p.Fetch(ctx, target, p.pageSize)
}

// Fetch requests pages starting at 1 until target hits are accumulated or a page comes back
// short. Any failed page aborts with SOURCE_UNAVAILABLE and no partial result. Repositories
// already seen on an earlier page are dropped.
func (p *Paginator) Fetch(ctx context.Context, target, pageSize int) ([]domain.SearchHit, error) {
	if target <= 0 {
		return []domain.SearchHit{}, nil
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if target > searchResultCap {
		p.log.Warn().Int("target", target).Int("search_window", searchResultCap).
			Msg("target exceeds the search result window, the run will find fewer repositories")
	}

	seen := make(map[domain.RepositoryIdentity]bool, target)
	hits := make([]domain.SearchHit, 0, target)

	for page := 1; len(hits) < target; page++ {
		items, err := p.searcher.SearchRepositories(ctx, p.query, page, pageSize)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, apperrors.NewSourceUnavailableError(
				fmt.Sprintf("search %q failed on page %d", p.query, page), err)
		}

		for _, item := range items {
			if seen[item.Identity] {
				continue
			}
			seen[item.Identity] = true
			hits = append(hits, item)
			if len(hits) == target {
				break
			}
		}

		p.log.Debug().Int("page", page).Int("items", len(items)).Int("total", len(hits)).Msg("search page fetched")

		if len(items) < pageSize {
			break
		}
	}
	if len(hits) < target {
		p.log.Warn().Int("target", target).Int("found", len(hits)).Str("query", p.query).
			Msg("search ended before the target was reached")
	}
	return hits, nil
}
