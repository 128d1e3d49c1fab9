package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kurihiro0119/github-lab-harvester/internal/collector"
	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
	apperrors "github.com/kurihiro0119/github-lab-harvester/internal/errors"
)

// RunSnapshots collects metadata for every hit with one aggregate query per batch.
// Batches run concurrently; a batch failure that survives its retries aborts the run.
// Completed batches are flushed to the sinks strictly in batch order, and the returned
// records are ordered like the hits.
func (o *Orchestrator) RunSnapshots(ctx context.Context, hits []domain.SearchHit) (*domain.HarvestResult[domain.RepositorySnapshot], error) {
	run := o.startRun(ctx, domain.PhaseRepositories)
	now := o.opts.Now().UTC()

	batches := collector.BuildBatches(hits, o.opts.BatchSize)
	buf := newReorderBuffer(len(batches), func(snaps []domain.RepositorySnapshot) error {
		for _, s := range o.snaps {
			if err := s.WriteSnapshots(ctx, run.ID, snaps); err != nil {
				return fmt.Errorf("flushing snapshots: %w", err)
			}
		}
		return nil
	})

	var mu sync.Mutex
	failed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Concurrency)

	for _, batch := range batches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			snaps, itemFailures, err := o.runBatch(gctx, batch, now)
			if err != nil {
				return fmt.Errorf("batch %d: %w", batch.Index, err)
			}

			mu.Lock()
			failed += itemFailures
			mu.Unlock()

			o.log.Info().Int("batch", batch.Index+1).Int("of", len(batches)).Int("records", len(snaps)).Msg("batch completed")
			return buf.complete(batch.Index, snaps)
		})
	}

	if err := g.Wait(); err != nil {
		records := buf.records()
		o.finishRun(ctx, run, len(records), failed, err)
		return nil, err
	}

	records := buf.records()
	o.finishRun(ctx, run, len(records), failed, nil)

	return &domain.HarvestResult[domain.RepositorySnapshot]{
		RunID:   run.ID,
		Records: records,
		Failed:  failed,
	}, nil
}

// runBatch executes one batch, retrying retryable failures up to MaxRetriesPerBatch attempts
func (o *Orchestrator) runBatch(ctx context.Context, batch domain.Batch[domain.SearchHit], now time.Time) ([]domain.RepositorySnapshot, int, error) {
	ids := domain.Batch[domain.RepositoryIdentity]{Index: batch.Index, Items: make([]domain.RepositoryIdentity, len(batch.Items))}
	for i, hit := range batch.Items {
		ids.Items[i] = hit.Identity
	}
	query := collector.BuildAggregateQuery(ids, o.opts.Fields)

	for attempt := 1; ; attempt++ {
		values, err := o.exec.ExecuteAggregate(ctx, query)
		if err == nil && len(values) != len(batch.Items) {
			return nil, 0, apperrors.NewMalformedResponseError(
				fmt.Sprintf("got %d results for %d repositories", len(values), len(batch.Items)), nil)
		}
		if err == nil {
			snaps, failed := o.decodeBatch(batch, values, now)
			return snaps, failed, nil
		}
		if !apperrors.IsRetryable(err) || attempt >= o.opts.MaxRetriesPerBatch {
			return nil, 0, fmt.Errorf("attempt %d of %d: %w", attempt, o.opts.MaxRetriesPerBatch, err)
		}

		o.log.Warn().Err(err).Int("batch", batch.Index).Int("attempt", attempt).Msg("batch failed, retrying")
		if err := o.opts.Sleep(ctx, o.opts.RetryDelay); err != nil {
			return nil, 0, err
		}
	}
}

// decodeBatch pairs values with the batch's hits by position. Items that cannot be decoded
// are counted as failed and skipped.
func (o *Orchestrator) decodeBatch(batch domain.Batch[domain.SearchHit], values []json.RawMessage, now time.Time) ([]domain.RepositorySnapshot, int) {
	snaps := make([]domain.RepositorySnapshot, 0, len(batch.Items))
	failed := 0
	for i, hit := range batch.Items {
		snap, err := collector.DecodeSnapshot(values[i], hit, now)
		if err != nil {
			failed++
			o.log.Warn().Err(err).Str("repo", hit.Identity.FullName()).Msg("skipping repository")
			continue
		}
		snap.ID = batch.Index*o.opts.BatchSize + i + 1
		snaps = append(snaps, snap)
	}
	return snaps, failed
}

// reorderBuffer holds completed batches until every earlier batch has been flushed
type reorderBuffer struct {
	mu      sync.Mutex
	pending map[int][]domain.RepositorySnapshot
	next    int
	total   int
	flushed []domain.RepositorySnapshot
	flush   func([]domain.RepositorySnapshot) error
}

func newReorderBuffer(total int, flush func([]domain.RepositorySnapshot) error) *reorderBuffer {
	return &reorderBuffer{
		pending: make(map[int][]domain.RepositorySnapshot),
		total:   total,
		flush:   flush,
	}
}

// complete stores batch index and flushes the contiguous run of batches now available
func (b *reorderBuffer) complete(index int, snaps []domain.RepositorySnapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending[index] = snaps
	for b.next < b.total {
		ready, ok := b.pending[b.next]
		if !ok {
			break
		}
		delete(b.pending, b.next)
		if len(ready) > 0 {
			if err := b.flush(ready); err != nil {
				return err
			}
		}
		b.flushed = append(b.flushed, ready...)
		b.next++
	}
	return nil
}

func (b *reorderBuffer) records() []domain.RepositorySnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.RepositorySnapshot, len(b.flushed))
	copy(out, b.flushed)
	return out
}
