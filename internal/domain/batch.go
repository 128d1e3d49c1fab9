package domain

import "time"

// Batch is a contiguous slice of work submitted together. Index is the batch's position
// in the run and is used to restore submission order after concurrent execution.
type Batch[T any] struct {
	Index int
	Items []T
}

// HarvestPhase identifies what a harvest run collected
type HarvestPhase string

const (
	PhaseRepositories HarvestPhase = "repositories"
	PhasePullRequests HarvestPhase = "pull_requests"
)

// Run statuses
const (
	RunInProgress = "in_progress"
	RunCompleted  = "completed"
	RunFailed     = "failed"
)

// HarvestRun represents one end-to-end collection
type HarvestRun struct {
	ID         string
	Phase      HarvestPhase
	Query      string
	Status     string // "in_progress", "completed", "failed"
	StartedAt  time.Time
	FinishedAt *time.Time
	Succeeded  int
	Failed     int
}

// HarvestResult is the ordered output of a run plus the number of items that could not be
// collected. Skipped counts items excluded by selection criteria rather than by failure.
type HarvestResult[T any] struct {
	RunID   string
	Records []T
	Failed  int
	Skipped int
}
