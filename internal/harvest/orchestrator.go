// Package harvest drives the search, metadata and pull request phases of a harvest run.
package harvest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/kurihiro0119/github-lab-harvester/internal/collector"
	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
	"github.com/kurihiro0119/github-lab-harvester/internal/logger"
)

// AggregateExecutor runs one aggregate query
type AggregateExecutor interface {
	ExecuteAggregate(ctx context.Context, q collector.AggregateQuery) ([]json.RawMessage, error)
}

// PullRequestSource enriches the pull requests of one repository
type PullRequestSource interface {
	PullRequests(ctx context.Context, repo domain.RepositoryIdentity, criteria collector.PullRequestCriteria) ([]domain.PullRequestRecord, error)
	CountClosedPullRequests(ctx context.Context, repo domain.RepositoryIdentity) (int, error)
}

// SnapshotSink receives snapshots in batch order as batches complete
type SnapshotSink interface {
	WriteSnapshots(ctx context.Context, runID string, snaps []domain.RepositorySnapshot) error
}

// PullRequestSink receives the records of each repository as it completes
type PullRequestSink interface {
	WritePullRequests(ctx context.Context, runID string, records []domain.PullRequestRecord) error
}

// RunRecorder persists the lifecycle of a harvest run
type RunRecorder interface {
	SaveRun(ctx context.Context, run *domain.HarvestRun) error
}

// Options configures an Orchestrator. Zero values select the defaults.
type Options struct {
	BatchSize          int // default 10
	MaxRetriesPerBatch int // total attempts per batch or repository, default 3
	RetryDelay         time.Duration
	Concurrency        int // default 1
	Fields             collector.FieldSet
	Query              string // recorded on the run for reference

	Now    func() time.Time
	Sleep  collector.SleepFunc
	Logger *logger.Logger
}

// Orchestrator runs harvest phases over a bounded worker pool
type Orchestrator struct {
	exec  AggregateExecutor
	pulls PullRequestSource
	opts  Options
	snaps []SnapshotSink
	prs   []PullRequestSink
	runs  RunRecorder
	log   *logger.Logger
	newID func() string
}

// New creates an orchestrator. Either executor or pulls may be nil when the matching
// phase is not used.
func New(exec AggregateExecutor, pulls PullRequestSource, opts Options) *Orchestrator {
	if opts.BatchSize < 1 {
		opts.BatchSize = 10
	}
	if opts.MaxRetriesPerBatch < 1 {
		opts.MaxRetriesPerBatch = 3
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Fields.Selection == "" {
		opts.Fields = collector.MetadataFields
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		}
	}
	log := opts.Logger
	if log == nil {
		log = logger.Named("harvest")
	}

	return &Orchestrator{
		exec:  exec,
		pulls: pulls,
		opts:  opts,
		log:   log,
		newID: func() string { return uuid.New().String() },
	}
}

// AddSnapshotSink registers a destination for metadata snapshots
func (o *Orchestrator) AddSnapshotSink(s SnapshotSink) {
	o.snaps = append(o.snaps, s)
}

// AddPullRequestSink registers a destination for pull request records
func (o *Orchestrator) AddPullRequestSink(s PullRequestSink) {
	o.prs = append(o.prs, s)
}

// SetRunRecorder registers where run lifecycles are persisted
func (o *Orchestrator) SetRunRecorder(r RunRecorder) {
	o.runs = r
}

func (o *Orchestrator) startRun(ctx context.Context, phase domain.HarvestPhase) *domain.HarvestRun {
	run := &domain.HarvestRun{
		ID:        o.newID(),
		Phase:     phase,
		Query:     o.opts.Query,
		Status:    domain.RunInProgress,
		StartedAt: o.opts.Now().UTC(),
	}
	o.saveRun(ctx, run)
	return run
}

func (o *Orchestrator) finishRun(ctx context.Context, run *domain.HarvestRun, succeeded, failed int, runErr error) {
	finished := o.opts.Now().UTC()
	run.FinishedAt = &finished
	run.Succeeded = succeeded
	run.Failed = failed
	run.Status = domain.RunCompleted
	if runErr != nil {
		run.Status = domain.RunFailed
	}
	// stored even when ctx is already cancelled
	o.saveRun(context.WithoutCancel(ctx), run)
}

func (o *Orchestrator) saveRun(ctx context.Context, run *domain.HarvestRun) {
	if o.runs == nil {
		return
	}
	if err := o.runs.SaveRun(ctx, run); err != nil {
		o.log.Warn().Err(err).Str("run", run.ID).Msg("failed to record harvest run")
	}
}
