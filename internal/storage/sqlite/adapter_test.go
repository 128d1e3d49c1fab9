package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
	apperrors "github.com/kurihiro0119/github-lab-harvester/internal/errors"
	"github.com/kurihiro0119/github-lab-harvester/internal/storage"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStorage(t *testing.T) storage.Storage {
	t.Helper()
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "harvest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStorage_Runs(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	run := &domain.HarvestRun{
		ID:        "run-1",
		Phase:     domain.PhaseRepositories,
		Query:     "stars:>1",
		Status:    domain.RunInProgress,
		StartedAt: now,
	}
	require.NoError(t, s.SaveRun(ctx, run))

	finished := now.Add(time.Minute)
	run.Status = domain.RunCompleted
	run.FinishedAt = &finished
	run.Succeeded = 10
	run.Failed = 1
	require.NoError(t, s.SaveRun(ctx, run))

	older := &domain.HarvestRun{ID: "run-0", Phase: domain.PhasePullRequests, Status: domain.RunFailed, StartedAt: now.Add(-time.Hour)}
	require.NoError(t, s.SaveRun(ctx, older))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, got.Status)
	assert.Equal(t, domain.PhaseRepositories, got.Phase)
	assert.Equal(t, 10, got.Succeeded)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, finished.Equal(*got.FinishedAt))

	runs, err := s.GetRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Nil(t, runs[1].FinishedAt)

	_, err = s.GetRun(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSQLiteStorage_Snapshots(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, &domain.HarvestRun{ID: "r", Phase: domain.PhaseRepositories, StartedAt: now}))

	snap := func(id int, name string) domain.RepositorySnapshot {
		return domain.RepositorySnapshot{
			ID:               id,
			Identity:         domain.RepositoryIdentity{Owner: "octo", Name: name},
			Stars:            100 * id,
			CreatedAt:        now.AddDate(-3, 0, 0),
			UpdatedAt:        now.Add(-time.Hour),
			PrimaryLanguage:  "Go",
			ReleaseCount:     id,
			MergedPRCount:    2 * id,
			ClosedIssueCount: 4,
			OpenIssueCount:   1,
			CapturedAt:       now,
		}
	}

	require.NoError(t, s.SaveSnapshots(ctx, "r", []domain.RepositorySnapshot{snap(2, "b")}))
	require.NoError(t, s.SaveSnapshots(ctx, "r", []domain.RepositorySnapshot{snap(1, "a")}))
	// re-saving the same ID replaces the row
	require.NoError(t, s.SaveSnapshots(ctx, "r", []domain.RepositorySnapshot{snap(1, "a")}))

	got, err := s.GetSnapshots(ctx, "r")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].ID)
	assert.Equal(t, "octo/a", got[0].Identity.FullName())
	assert.Equal(t, 2, got[0].MergedPRCount)
	assert.True(t, now.Equal(got[0].CapturedAt))
	assert.Equal(t, 2, got[1].ID)

	empty, err := s.GetSnapshots(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSQLiteStorage_PullRequests(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, &domain.HarvestRun{ID: "r", Phase: domain.PhasePullRequests, StartedAt: now}))

	merged := now.Add(-time.Hour)
	records := []domain.PullRequestRecord{
		{
			Repository: domain.RepositoryIdentity{Owner: "octo", Name: "b"},
			Number:     7, Title: "fix", State: "closed", Author: "alice",
			CreatedAt: now.Add(-48 * time.Hour), ClosedAt: &merged, MergedAt: &merged,
			Additions: 10, Deletions: 2, FilesChanged: 3, ReviewCount: 2, CommentCount: 5,
			ParticipantCount: 3, DescriptionLength: 42,
		},
		{
			Repository: domain.RepositoryIdentity{Owner: "octo", Name: "a"},
			Number:     9, Title: "feat", State: "closed", Author: "bob",
			CreatedAt: now.Add(-24 * time.Hour), ClosedAt: &merged,
		},
	}
	require.NoError(t, s.SavePullRequests(ctx, "r", records))

	got, err := s.GetPullRequests(ctx, "r")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "octo/a", got[0].Repository.FullName())
	assert.Nil(t, got[0].MergedAt)
	assert.Equal(t, domain.StatusClosed, got[0].Status())

	assert.Equal(t, 7, got[1].Number)
	require.NotNil(t, got[1].MergedAt)
	assert.True(t, merged.Equal(*got[1].MergedAt))
	assert.Equal(t, domain.StatusMerged, got[1].Status())
	assert.Equal(t, 42, got[1].DescriptionLength)
}

func TestRecorder_ForwardsToStorage(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	rec := storage.NewRecorder(s)

	require.NoError(t, rec.SaveRun(ctx, &domain.HarvestRun{ID: "r", Phase: domain.PhaseRepositories, StartedAt: now}))
	require.NoError(t, rec.WriteSnapshots(ctx, "r", []domain.RepositorySnapshot{{
		ID: 1, Identity: domain.RepositoryIdentity{Owner: "o", Name: "n"},
		CreatedAt: now, UpdatedAt: now, CapturedAt: now,
	}}))

	got, err := s.GetSnapshots(ctx, "r")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
