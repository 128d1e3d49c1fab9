package storage

import (
	"context"

	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
)

// Storage is the abstract interface for the persistence layer
type Storage interface {
	// Run operations
	SaveRun(ctx context.Context, run *domain.HarvestRun) error
	GetRun(ctx context.Context, id string) (*domain.HarvestRun, error)
	GetRuns(ctx context.Context) ([]*domain.HarvestRun, error)

	// Snapshot operations, keyed by run and snapshot ID
	SaveSnapshots(ctx context.Context, runID string, snaps []domain.RepositorySnapshot) error
	GetSnapshots(ctx context.Context, runID string) ([]domain.RepositorySnapshot, error)

	// Pull request operations, keyed by run, repository and number
	SavePullRequests(ctx context.Context, runID string, records []domain.PullRequestRecord) error
	GetPullRequests(ctx context.Context, runID string) ([]domain.PullRequestRecord, error)

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}

// Recorder adapts a Storage to the harvest orchestrator's run recorder and sink hooks, so
// every flushed batch is persisted as it completes.
type Recorder struct {
	store Storage
}

// NewRecorder creates a recorder writing to store
func NewRecorder(store Storage) *Recorder {
	return &Recorder{store: store}
}

// SaveRun persists the run's current state
func (r *Recorder) SaveRun(ctx context.Context, run *domain.HarvestRun) error {
	return r.store.SaveRun(ctx, run)
}

// WriteSnapshots persists a flushed batch of snapshots
func (r *Recorder) WriteSnapshots(ctx context.Context, runID string, snaps []domain.RepositorySnapshot) error {
	return r.store.SaveSnapshots(ctx, runID, snaps)
}

// WritePullRequests persists a batch of pull request records
func (r *Recorder) WritePullRequests(ctx context.Context, runID string, records []domain.PullRequestRecord) error {
	return r.store.SavePullRequests(ctx, runID, records)
}
