package queue

import (
	"context"
	"errors"
	"time"

	"simoj/internal/judge/model"
	"simoj/internal/judge/repository"
	appErr "simoj/pkg/errors"
	"simoj/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultLease = 2 * time.Minute

// Job is a claimed submission ready to be judged.
type Job struct {
	Claim      *model.Claim
	Submission *model.Submission
}

// Queue hands out waiting submissions under time-bounded leases.
// Dequeue never blocks: an empty queue yields a nil Job.
type Queue struct {
	repo  repository.QueueRepository
	lease time.Duration
	now   func() time.Time
}

// Option customizes a Queue.
type Option func(*Queue)

// WithClock replaces time.Now, mainly for lease expiry tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a queue with the given lease; a non-positive lease uses the default.
func New(repo repository.QueueRepository, lease time.Duration, opts ...Option) *Queue {
	if lease <= 0 {
		lease = defaultLease
	}
	q := &Queue{repo: repo, lease: lease, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Lease returns the lease duration granted per claim.
func (q *Queue) Lease() time.Duration {
	return q.lease
}

// DequeueNext claims the oldest claimable submission for owner.
func (q *Queue) DequeueNext(ctx context.Context, owner string) (*Job, error) {
	now := q.now().UTC()
	claimID := uuid.NewString()
	expires := now.Add(q.lease)
	sub, err := q.repo.ClaimNext(ctx, claimID, now, expires)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "claim submission failed")
	}
	if sub == nil {
		return nil, nil
	}
	logger.Debug(ctx, "submission claimed",
		zap.Int64("submission_id", sub.ID),
		zap.String("claim_id", claimID),
		zap.Int("attempts", sub.Attempts),
	)
	return &Job{
		Claim: &model.Claim{
			SubmissionID: sub.ID,
			ClaimID:      claimID,
			Owner:        owner,
			Expires:      expires,
		},
		Submission: sub,
	}, nil
}

// Extend renews a lease still held by claim.
func (q *Queue) Extend(ctx context.Context, claim *model.Claim) error {
	now := q.now().UTC()
	expires := now.Add(q.lease)
	if err := q.repo.ExtendClaim(ctx, claim.SubmissionID, claim.ClaimID, now, expires); err != nil {
		return translate(err, "extend claim failed")
	}
	claim.Expires = expires
	return nil
}

// Complete commits a verdict for a claimed submission.
// A lost lease yields ClaimExpired and a judged submission AlreadyTerminal.
func (q *Queue) Complete(ctx context.Context, claim *model.Claim, verdict model.Verdict) error {
	if err := verdict.Validate(); err != nil {
		return err
	}
	if err := q.repo.Complete(ctx, claim.SubmissionID, claim.ClaimID, verdict, q.now().UTC()); err != nil {
		return translate(err, "complete submission failed")
	}
	return nil
}

// RecoverExpired returns every lapsed claim to plain waiting.
func (q *Queue) RecoverExpired(ctx context.Context) (int64, error) {
	n, err := q.repo.ReleaseExpired(ctx, q.now().UTC())
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "release expired claims failed")
	}
	if n > 0 {
		logger.Info(ctx, "expired claims released", zap.Int64("count", n))
	}
	return n, nil
}

// Stats reports queue depth.
func (q *Queue) Stats(ctx context.Context) (model.QueueStats, error) {
	stats, err := q.repo.CountQueue(ctx, q.now().UTC())
	if err != nil {
		return model.QueueStats{}, appErr.Wrapf(err, appErr.DatabaseError, "count queue failed")
	}
	return stats, nil
}

func translate(err error, msg string) error {
	switch {
	case errors.Is(err, repository.ErrClaimLost):
		return appErr.Wrap(err, appErr.ClaimExpired)
	case errors.Is(err, repository.ErrAlreadyTerminal):
		return appErr.Wrap(err, appErr.AlreadyTerminal)
	case errors.Is(err, repository.ErrSubmissionNotFound):
		return appErr.Wrap(err, appErr.SubmissionNotFound)
	default:
		return appErr.Wrapf(err, appErr.DatabaseError, "%s", msg)
	}
}
