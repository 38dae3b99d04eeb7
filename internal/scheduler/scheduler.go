// Package scheduler is the cooperative poller that turns due
// ScheduledJobs into Engine.ExecuteNode calls. It is built directly on the
// teacher's outbox/inbox Run/Dispatch loop shape: Run loops calling RunOnce
// until the context is done, sleeping pollInterval between empty ticks;
// RunOnce drives a single tick for tests and the CLI entry point.
package scheduler

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/krew-solutions/protoflow/internal/store"
)

// executor is the subset of engine.Engine the Scheduler depends on.
type executor interface {
	ExecuteNode(participantID, nodeID string) (*store.ParticipantMessage, error)
}

const defaultBatchSize = 50

// Scheduler claims due jobs and runs them through an Engine, one at a time,
// moving each from Pending through Running to Done or back to Pending on
// failure — the same claim/execute/ack shape as PgInbox's
// fetchNextProcessable/markProcessed.
type Scheduler struct {
	store        store.Store
	engine       executor
	batchSize    int
	pollInterval time.Duration
}

// New constructs a Scheduler. batchSize <= 0 defaults to 50 jobs per tick
// (PgOutbox's default batchSize of 100, halved since each job here also
// runs a full Engine operation rather than handing off to a subscriber).
func New(st store.Store, eng executor, batchSize int, pollInterval time.Duration) *Scheduler {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Scheduler{store: st, engine: eng, batchSize: batchSize, pollInterval: pollInterval}
}

// Run loops calling RunOnce until ctx is done, sleeping pollInterval
// whenever a tick claims no jobs (PgOutbox.Run's workerLoop shape).
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := s.RunOnce(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.pollInterval):
			}
		}
	}
}

// RunOnce claims up to batchSize due jobs and executes each, returning how
// many were processed (claimed, whether or not execution succeeded).
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	now := clockNow(ctx)
	due, err := s.store.ListDueJobs(now, s.batchSize)
	if err != nil {
		return 0, errors.Wrap(err, "scheduler: list due jobs")
	}

	processed := 0
	for _, job := range due {
		select {
		case <-ctx.Done():
			return processed, ctx.Err()
		default:
		}

		claimed, err := s.store.ClaimJob(job.ID)
		if err != nil {
			return processed, errors.Wrap(err, "scheduler: claim job")
		}
		if !claimed {
			// Another worker won the race (§5); not an error.
			continue
		}
		processed++

		if err := s.runJob(job); err != nil {
			log.Error().Str("job_id", job.ID).Str("node_id", job.NodeID).Err(err).Msg("scheduler: job failed, requeueing")
			if err := s.store.UpdateJobStatus(job.ID, store.JobPending); err != nil {
				return processed, errors.Wrap(err, "scheduler: requeue job")
			}
			continue
		}

		if err := s.store.UpdateJobStatus(job.ID, store.JobDone); err != nil {
			return processed, errors.Wrap(err, "scheduler: mark job done")
		}
	}

	return processed, nil
}

func (s *Scheduler) runJob(job store.ScheduledJob) error {
	_, err := s.engine.ExecuteNode(job.ParticipantID, job.NodeID)
	return err
}

// clockNow lets ctx carry an injected "now" for deterministic tests without
// threading a clock.Clock through every Scheduler method; production
// callers never set it, so time.Now().UTC() applies (I5).
type nowKey struct{}

func clockNow(ctx context.Context) time.Time {
	if now, ok := ctx.Value(nowKey{}).(time.Time); ok {
		return now
	}
	return time.Now().UTC()
}

// WithNow returns a context carrying a fixed "now" for ListDueJobs, for
// tests that need to control which jobs are due without a real Clock
// plumbed into the Scheduler.
func WithNow(ctx context.Context, now time.Time) context.Context {
	return context.WithValue(ctx, nowKey{}, now)
}
