package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
	apperrors "github.com/kurihiro0119/github-lab-harvester/internal/errors"
	"github.com/kurihiro0119/github-lab-harvester/internal/storage"
)

// postgresStorage implements the Storage interface for PostgreSQL
type postgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(connStr string) (storage.Storage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &postgresStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS harvest_runs (
		id TEXT PRIMARY KEY,
		phase TEXT NOT NULL,
		query TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_harvest_runs_started_at ON harvest_runs(started_at);

	CREATE TABLE IF NOT EXISTS repository_snapshots (
		run_id TEXT NOT NULL REFERENCES harvest_runs(id) ON DELETE CASCADE,
		id INTEGER NOT NULL,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		stars INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		primary_language TEXT NOT NULL DEFAULT '',
		releases INTEGER NOT NULL,
		merged_prs INTEGER NOT NULL,
		closed_issues INTEGER NOT NULL,
		open_issues INTEGER NOT NULL,
		captured_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (run_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_repository_snapshots_repo ON repository_snapshots(owner, name);

	CREATE TABLE IF NOT EXISTS pull_requests (
		run_id TEXT NOT NULL REFERENCES harvest_runs(id) ON DELETE CASCADE,
		repository TEXT NOT NULL,
		number INTEGER NOT NULL,
		title TEXT NOT NULL,
		state TEXT NOT NULL,
		author TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		closed_at TIMESTAMPTZ,
		merged_at TIMESTAMPTZ,
		additions INTEGER NOT NULL,
		deletions INTEGER NOT NULL,
		files_changed INTEGER NOT NULL,
		reviews INTEGER NOT NULL,
		comments INTEGER NOT NULL,
		participants INTEGER NOT NULL,
		description_length INTEGER NOT NULL,
		PRIMARY KEY (run_id, repository, number)
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveRun inserts or updates a harvest run
func (s *postgresStorage) SaveRun(ctx context.Context, run *domain.HarvestRun) error {
	query := `
		INSERT INTO harvest_runs (id, phase, query, status, started_at, finished_at, succeeded, failed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			succeeded = EXCLUDED.succeeded,
			failed = EXCLUDED.failed
	`
	_, err := s.db.ExecContext(ctx, query,
		run.ID, string(run.Phase), run.Query, run.Status,
		run.StartedAt, nullTime(run.FinishedAt), run.Succeeded, run.Failed,
	)
	return err
}

// GetRun retrieves a harvest run by ID
func (s *postgresStorage) GetRun(ctx context.Context, id string) (*domain.HarvestRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, phase, query, status, started_at, finished_at, succeeded, failed
		FROM harvest_runs WHERE id = $1
	`, id)

	var (
		run      domain.HarvestRun
		phase    string
		finished sql.NullTime
	)
	err := row.Scan(&run.ID, &phase, &run.Query, &run.Status, &run.StartedAt, &finished, &run.Succeeded, &run.Failed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("harvest run " + id)
	}
	if err != nil {
		return nil, err
	}
	run.Phase = domain.HarvestPhase(phase)
	run.FinishedAt = timePtr(finished)
	return &run, nil
}

// GetRuns lists harvest runs, newest first
func (s *postgresStorage) GetRuns(ctx context.Context) ([]*domain.HarvestRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, phase, query, status, started_at, finished_at, succeeded, failed
		FROM harvest_runs ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.HarvestRun
	for rows.Next() {
		var (
			run      domain.HarvestRun
			phase    string
			finished sql.NullTime
		)
		if err := rows.Scan(&run.ID, &phase, &run.Query, &run.Status, &run.StartedAt, &finished, &run.Succeeded, &run.Failed); err != nil {
			return nil, err
		}
		run.Phase = domain.HarvestPhase(phase)
		run.FinishedAt = timePtr(finished)
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// SaveSnapshots upserts the snapshots of a run in one transaction
func (s *postgresStorage) SaveSnapshots(ctx context.Context, runID string, snaps []domain.RepositorySnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO repository_snapshots
			(run_id, id, owner, name, stars, created_at, updated_at, primary_language,
			 releases, merged_prs, closed_issues, open_issues, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (run_id, id) DO UPDATE SET
			owner = EXCLUDED.owner,
			name = EXCLUDED.name,
			stars = EXCLUDED.stars,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			primary_language = EXCLUDED.primary_language,
			releases = EXCLUDED.releases,
			merged_prs = EXCLUDED.merged_prs,
			closed_issues = EXCLUDED.closed_issues,
			open_issues = EXCLUDED.open_issues,
			captured_at = EXCLUDED.captured_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, snap := range snaps {
		_, err := stmt.ExecContext(ctx,
			runID, snap.ID, snap.Identity.Owner, snap.Identity.Name, snap.Stars,
			snap.CreatedAt, snap.UpdatedAt, snap.PrimaryLanguage,
			snap.ReleaseCount, snap.MergedPRCount, snap.ClosedIssueCount, snap.OpenIssueCount,
			snap.CapturedAt,
		)
		if err != nil {
			return fmt.Errorf("saving snapshot %s: %w", snap.Identity, err)
		}
	}

	return tx.Commit()
}

// GetSnapshots retrieves the snapshots of a run ordered by ID
func (s *postgresStorage) GetSnapshots(ctx context.Context, runID string) ([]domain.RepositorySnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, name, stars, created_at, updated_at, primary_language,
		       releases, merged_prs, closed_issues, open_issues, captured_at
		FROM repository_snapshots WHERE run_id = $1 ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []domain.RepositorySnapshot
	for rows.Next() {
		var snap domain.RepositorySnapshot
		if err := rows.Scan(
			&snap.ID, &snap.Identity.Owner, &snap.Identity.Name, &snap.Stars,
			&snap.CreatedAt, &snap.UpdatedAt, &snap.PrimaryLanguage,
			&snap.ReleaseCount, &snap.MergedPRCount, &snap.ClosedIssueCount, &snap.OpenIssueCount,
			&snap.CapturedAt,
		); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// SavePullRequests upserts the pull request records of a run in one transaction
func (s *postgresStorage) SavePullRequests(ctx context.Context, runID string, records []domain.PullRequestRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pull_requests
			(run_id, repository, number, title, state, author, created_at, closed_at, merged_at,
			 additions, deletions, files_changed, reviews, comments, participants, description_length)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (run_id, repository, number) DO UPDATE SET
			title = EXCLUDED.title,
			state = EXCLUDED.state,
			author = EXCLUDED.author,
			closed_at = EXCLUDED.closed_at,
			merged_at = EXCLUDED.merged_at,
			additions = EXCLUDED.additions,
			deletions = EXCLUDED.deletions,
			files_changed = EXCLUDED.files_changed,
			reviews = EXCLUDED.reviews,
			comments = EXCLUDED.comments,
			participants = EXCLUDED.participants,
			description_length = EXCLUDED.description_length
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, pr := range records {
		_, err := stmt.ExecContext(ctx,
			runID, pr.Repository.FullName(), pr.Number, pr.Title, pr.State, pr.Author,
			pr.CreatedAt, nullTime(pr.ClosedAt), nullTime(pr.MergedAt),
			pr.Additions, pr.Deletions, pr.FilesChanged, pr.ReviewCount, pr.CommentCount,
			pr.ParticipantCount, pr.DescriptionLength,
		)
		if err != nil {
			return fmt.Errorf("saving pull request %s#%d: %w", pr.Repository, pr.Number, err)
		}
	}

	return tx.Commit()
}

// GetPullRequests retrieves the pull request records of a run ordered by repository and number
func (s *postgresStorage) GetPullRequests(ctx context.Context, runID string) ([]domain.PullRequestRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT repository, number, title, state, author, created_at, closed_at, merged_at,
		       additions, deletions, files_changed, reviews, comments, participants, description_length
		FROM pull_requests WHERE run_id = $1 ORDER BY repository, number
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.PullRequestRecord
	for rows.Next() {
		var (
			pr               domain.PullRequestRecord
			repository       string
			closedAt, merged sql.NullTime
		)
		if err := rows.Scan(
			&repository, &pr.Number, &pr.Title, &pr.State, &pr.Author, &pr.CreatedAt,
			&closedAt, &merged,
			&pr.Additions, &pr.Deletions, &pr.FilesChanged, &pr.ReviewCount, &pr.CommentCount,
			&pr.ParticipantCount, &pr.DescriptionLength,
		); err != nil {
			return nil, err
		}
		if pr.Repository, err = domain.ParseFullName(repository); err != nil {
			return nil, err
		}
		pr.ClosedAt = timePtr(closedAt)
		pr.MergedAt = timePtr(merged)
		records = append(records, pr)
	}
	return records, rows.Err()
}

// Close closes the database connection
func (s *postgresStorage) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
