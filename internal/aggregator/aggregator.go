package aggregator

import (
	"context"
	"fmt"

	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
	apperrors "github.com/kurihiro0119/github-lab-harvester/internal/errors"
	"github.com/kurihiro0119/github-lab-harvester/internal/storage"
)

// Aggregator answers research questions over stored harvest runs
type Aggregator interface {
	// Questions computes the research-question results matching the run's phase
	Questions(ctx context.Context, runID string) ([]domain.ResearchResult, error)

	// Languages builds the popular-language report of a repository run
	Languages(ctx context.Context, runID string) (*LanguageReport, error)
}

// aggregator implements the Aggregator interface
type aggregator struct {
	storage storage.Storage
}

// NewAggregator creates a new aggregator
func NewAggregator(storage storage.Storage) Aggregator {
	return &aggregator{
		storage: storage,
	}
}

// Questions loads the run's dataset and computes its research questions
func (a *aggregator) Questions(ctx context.Context, runID string) ([]domain.ResearchResult, error) {
	run, err := a.storage.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	switch run.Phase {
	case domain.PhaseRepositories:
		snaps, err := a.storage.GetSnapshots(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("loading snapshots of run %s: %w", runID, err)
		}
		return RepositoryQuestions(snaps), nil
	case domain.PhasePullRequests:
		prs, err := a.storage.GetPullRequests(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("loading pull requests of run %s: %w", runID, err)
		}
		return PullRequestQuestions(prs), nil
	default:
		return nil, apperrors.NewBadRequestError(fmt.Sprintf("run %s has unknown phase %q", runID, run.Phase))
	}
}

// Languages builds the language report of a repository run
func (a *aggregator) Languages(ctx context.Context, runID string) (*LanguageReport, error) {
	run, err := a.storage.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Phase != domain.PhaseRepositories {
		return nil, apperrors.NewBadRequestError(fmt.Sprintf("run %s did not harvest repositories", runID))
	}

	snaps, err := a.storage.GetSnapshots(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading snapshots of run %s: %w", runID, err)
	}
	return BuildLanguageReport(snaps), nil
}
