package harvest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kurihiro0119/github-lab-harvester/internal/collector"
	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
	apperrors "github.com/kurihiro0119/github-lab-harvester/internal/errors"
)

// RunPullRequests enriches the pull requests of every repository on a bounded worker pool.
// A repository whose retryable failures outlast MaxRetriesPerBatch attempts is logged and
// skipped; the others continue. Each repository's
// records are flushed to the sinks as soon as it completes.
func (o *Orchestrator) RunPullRequests(ctx context.Context, repos []domain.RepositoryIdentity, criteria collector.PullRequestCriteria) (*domain.HarvestResult[domain.PullRequestRecord], error) {
	run := o.startRun(ctx, domain.PhasePullRequests)

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		records []domain.PullRequestRecord
		failed  int
		skipped int
		done    int
	)

	// Limit concurrent goroutines
	semaphore := make(chan struct{}, o.opts.Concurrency)

	for _, repo := range repos {
		wg.Add(1)
		go func(repo domain.RepositoryIdentity) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-semaphore }()

			prs, ok, err := o.retryRepository(ctx, repo, criteria)

			mu.Lock()
			defer mu.Unlock()
			done++

			switch {
			case err != nil:
				if ctx.Err() != nil {
					return
				}
				failed++
				o.log.Warn().Err(err).Str("repo", repo.FullName()).Msg("skipping repository")
				return
			case !ok:
				skipped++
				return
			}

			if len(prs) > 0 {
				for _, s := range o.prs {
					if err := s.WritePullRequests(ctx, run.ID, prs); err != nil {
						failed++
						o.log.Error().Err(err).Str("repo", repo.FullName()).Msg("failed to flush pull requests")
						return
					}
				}
			}
			records = append(records, prs...)
			o.log.Info().Str("repo", repo.FullName()).Int("pull_requests", len(prs)).
				Int("done", done).Int("of", len(repos)).Msg("repository completed")
		}(repo)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		o.finishRun(ctx, run, len(records), failed, err)
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Repository.FullName() != b.Repository.FullName() {
			return a.Repository.FullName() < b.Repository.FullName()
		}
		return a.Number < b.Number
	})

	o.finishRun(ctx, run, len(records), failed, nil)
	return &domain.HarvestResult[domain.PullRequestRecord]{
		RunID:   run.ID,
		Records: records,
		Failed:  failed,
		Skipped: skipped,
	}, nil
}

// retryRepository runs harvestRepository, retrying retryable failures up to MaxRetriesPerBatch
// attempts with RetryDelay between them
func (o *Orchestrator) retryRepository(ctx context.Context, repo domain.RepositoryIdentity, criteria collector.PullRequestCriteria) ([]domain.PullRequestRecord, bool, error) {
	for attempt := 1; ; attempt++ {
		prs, ok, err := o.harvestRepository(ctx, repo, criteria)
		if err == nil {
			return prs, ok, nil
		}
		if !apperrors.IsRetryable(err) || attempt >= o.opts.MaxRetriesPerBatch {
			return nil, false, fmt.Errorf("attempt %d of %d: %w", attempt, o.opts.MaxRetriesPerBatch, err)
		}

		o.log.Warn().Err(err).Str("repo", repo.FullName()).Int("attempt", attempt).Msg("repository failed, retrying")
		if err := o.opts.Sleep(ctx, o.opts.RetryDelay); err != nil {
			return nil, false, err
		}
	}
}

// harvestRepository returns ok=false when the repository has too few closed pull requests
func (o *Orchestrator) harvestRepository(ctx context.Context, repo domain.RepositoryIdentity, criteria collector.PullRequestCriteria) ([]domain.PullRequestRecord, bool, error) {
	if o.pulls == nil {
		return nil, false, fmt.Errorf("no pull request source configured")
	}
	if criteria.MinPRs > 0 {
		n, err := o.pulls.CountClosedPullRequests(ctx, repo)
		if err != nil {
			return nil, false, err
		}
		if n < criteria.MinPRs {
			o.log.Debug().Str("repo", repo.FullName()).Int("closed_prs", n).Msg("below minimum pull request count")
			return nil, false, nil
		}
	}

	prs, err := o.pulls.PullRequests(ctx, repo, criteria)
	if err != nil {
		return nil, false, err
	}
	return prs, true, nil
}
