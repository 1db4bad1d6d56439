package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"simoj/internal/common/cache"
	"simoj/internal/judge/model"
	"simoj/internal/judge/repository"
	appErr "simoj/pkg/errors"
	"simoj/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultLockTimeout = 5 * time.Second

// AggregatorStore is what the aggregator needs from persistence.
type AggregatorStore interface {
	RoundReader
	repository.RankRepository
	RoundsForSubmission(ctx context.Context, id int64) ([]int64, error)
}

// AggregatorConfig holds aggregator dependencies and settings.
type AggregatorConfig struct {
	Store AggregatorStore
	// Locker serializes recomputes per (user, round) ahead of the store's own
	// row lock; defaults to an in-process KeyedMutex.
	Locker cache.Locker
	// Cache holds published rankings; nil disables invalidation.
	Cache       cache.Cache
	Events      repository.EventPublisher
	Retry       RetryPolicy
	LockTimeout time.Duration
}

// Aggregator keeps each (user, round) rank equal to the user's best scored attempt.
type Aggregator struct {
	store       AggregatorStore
	locker      cache.Locker
	cache       cache.Cache
	events      repository.EventPublisher
	retry       RetryPolicy
	lockTimeout time.Duration

	mu sync.Mutex
	// pending holds judged submissions whose rank update failed, by id.
	pending map[int64]model.Submission
}

// NewAggregator creates an aggregator.
func NewAggregator(cfg AggregatorConfig) (*Aggregator, error) {
	if cfg.Store == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("rank store is required")
	}
	locker := cfg.Locker
	if locker == nil {
		locker = cache.NewKeyedMutex()
	}
	events := cfg.Events
	if events == nil {
		events = repository.NopEventPublisher{}
	}
	policy := cfg.Retry
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	lockTimeout := cfg.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &Aggregator{
		store:       cfg.Store,
		locker:      locker,
		cache:       cfg.Cache,
		events:      events,
		retry:       policy,
		lockTimeout: lockTimeout,
		pending:     make(map[int64]model.Submission),
	}, nil
}

// OnTerminal recomputes the submitter's rank in every round the submission
// counts toward. On failure the submission is kept for RetryPending.
func (a *Aggregator) OnTerminal(ctx context.Context, submission *model.Submission) error {
	if submission == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("submission is nil")
	}
	err := a.aggregate(ctx, submission)
	a.mu.Lock()
	if err != nil {
		a.pending[submission.ID] = *submission
	} else {
		delete(a.pending, submission.ID)
	}
	a.mu.Unlock()
	return err
}

// RetryPending reruns OnTerminal for submissions whose rank update failed and
// reports how many were repaired. Pending work lives in memory only;
// RebuildRound repairs whatever a restart dropped.
func (a *Aggregator) RetryPending(ctx context.Context) (int, error) {
	a.mu.Lock()
	subs := make([]model.Submission, 0, len(a.pending))
	for _, sub := range a.pending {
		subs = append(subs, sub)
	}
	a.mu.Unlock()

	repaired := 0
	var errs []error
	for i := range subs {
		if err := a.OnTerminal(ctx, &subs[i]); err != nil {
			errs = append(errs, err)
			continue
		}
		repaired++
	}
	return repaired, errors.Join(errs...)
}

// Pending reports how many submissions wait for a rank retry.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

func (a *Aggregator) aggregate(ctx context.Context, submission *model.Submission) error {
	rounds, err := a.store.RoundsForSubmission(ctx, submission.ID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "list rounds of submission %d failed", submission.ID)
	}
	var errs []error
	for _, roundID := range rounds {
		if err := a.Recompute(ctx, submission.UserID, roundID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recompute sets the rank of userID in roundID to the best points of the
// user's scored submissions there, or removes it when there are none.
func (a *Aggregator) Recompute(ctx context.Context, userID, roundID int64) error {
	err := retry(ctx, a.retry, "recompute rank", func(ctx context.Context) error {
		return a.recomputeOnce(ctx, userID, roundID)
	})
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if appErr.Is(err, appErr.LockFailed) {
		return err
	}
	return appErr.Wrapf(err, appErr.DatabaseError, "recompute rank of user %d in round %d failed", userID, roundID)
}

func (a *Aggregator) recomputeOnce(ctx context.Context, userID, roundID int64) error {
	lockCtx, cancel := context.WithTimeout(ctx, a.lockTimeout)
	release, err := a.locker.Acquire(lockCtx, rankLockKey(roundID, userID))
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return appErr.Wrapf(err, appErr.LockFailed, "lock rank %d:%d failed", roundID, userID)
	}
	defer release()

	best, err := a.store.RefreshRank(ctx, userID, roundID)
	if err != nil {
		return err
	}
	if a.cache != nil {
		if _, err := a.cache.Incr(ctx, rankingGenKey(roundID)); err != nil {
			logger.Warn(ctx, "bump ranking cache generation failed",
				zap.Int64("round_id", roundID),
				zap.Error(err),
			)
		}
	}

	if best != nil {
		event := model.RankEvent{UserID: userID, RoundID: roundID, Points: *best}
		if err := a.events.PublishRank(ctx, event); err != nil {
			logger.Warn(ctx, "publish rank event failed",
				zap.Int64("user_id", userID),
				zap.Int64("round_id", roundID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// RebuildRound recomputes every participant of roundID and returns how many were processed.
func (a *Aggregator) RebuildRound(ctx context.Context, roundID int64) (int, error) {
	if _, err := a.store.GetRound(ctx, roundID); err != nil {
		if errors.Is(err, repository.ErrRoundNotFound) {
			return 0, appErr.Newf(appErr.RoundNotFound, "round %d not found", roundID)
		}
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "get round failed")
	}
	users, err := a.store.Participants(ctx, roundID)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "list participants of round %d failed", roundID)
	}
	for i, userID := range users {
		if err := a.Recompute(ctx, userID, roundID); err != nil {
			return i, err
		}
	}
	logger.Info(ctx, "round ranking rebuilt", zap.Int64("round_id", roundID), zap.Int("users", len(users)))
	return len(users), nil
}

func rankLockKey(roundID, userID int64) string {
	return fmt.Sprintf("rank:%d:%d", roundID, userID)
}

func rankingCacheKey(roundID int64) string {
	return fmt.Sprintf("ranking:round:%d", roundID)
}

func rankingGenKey(roundID int64) string {
	return rankingCacheKey(roundID) + ":gen"
}
