package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"simoj/internal/judge/model"
	"simoj/internal/judge/queue"
	"simoj/internal/judge/repository"
	appErr "simoj/pkg/errors"
	"simoj/pkg/utils/contextkey"
	"simoj/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPollInterval  = 500 * time.Millisecond
	defaultSweepInterval = 30 * time.Second
	defaultMaxAttempts   = 3
	defaultCommitTimeout = 10 * time.Second
)

// Runner judges one submission with its task's checker.
type Runner interface {
	Run(ctx context.Context, submission *model.Submission, task *model.Task) (model.Verdict, error)
}

// TaskReader loads tasks by id.
type TaskReader interface {
	GetTask(ctx context.Context, id int64) (*model.Task, error)
}

// JudgeConfig holds judge service dependencies and settings.
type JudgeConfig struct {
	Queue      *queue.Queue
	Runner     Runner
	Tasks      TaskReader
	OnTerminal TerminalHandler
	Events     repository.EventPublisher

	// Name prefixes worker ids; a random one is generated when empty.
	Name          string
	PoolSize      int
	PollInterval  time.Duration
	SweepInterval time.Duration
	// MaxAttempts is how many claims a submission gets before it is recorded as c_error.
	MaxAttempts   int
	CommitTimeout time.Duration
	TaskTTL       time.Duration
	Now           func() time.Time
}

// JudgeService runs the claim, judge and commit loop on a pool of workers.
type JudgeService struct {
	queue      *queue.Queue
	runner     Runner
	tasks      TaskReader
	onTerminal TerminalHandler
	events     repository.EventPublisher

	name          string
	poolSize      int
	pollInterval  time.Duration
	sweepInterval time.Duration
	maxAttempts   int
	commitTimeout time.Duration
	taskTTL       time.Duration
	now           func() time.Time

	taskMu    sync.Mutex
	taskCache map[int64]taskEntry
}

// NewJudgeService creates a judge service.
func NewJudgeService(cfg JudgeConfig) (*JudgeService, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Tasks == nil {
		return nil, fmt.Errorf("task reader is required")
	}
	s := &JudgeService{
		queue:         cfg.Queue,
		runner:        cfg.Runner,
		tasks:         cfg.Tasks,
		onTerminal:    cfg.OnTerminal,
		events:        cfg.Events,
		name:          cfg.Name,
		poolSize:      cfg.PoolSize,
		pollInterval:  cfg.PollInterval,
		sweepInterval: cfg.SweepInterval,
		maxAttempts:   cfg.MaxAttempts,
		commitTimeout: cfg.CommitTimeout,
		taskTTL:       cfg.TaskTTL,
		now:           cfg.Now,
		taskCache:     make(map[int64]taskEntry),
	}
	if s.events == nil {
		s.events = repository.NopEventPublisher{}
	}
	if s.name == "" {
		s.name = "judge-" + uuid.NewString()[:8]
	}
	if s.poolSize <= 0 {
		s.poolSize = 1
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	if s.sweepInterval <= 0 {
		s.sweepInterval = defaultSweepInterval
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	if s.commitTimeout <= 0 {
		s.commitTimeout = defaultCommitTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Run starts the workers and the expired-claim sweeper and blocks until ctx is done.
func (s *JudgeService) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.poolSize; i++ {
		workerID := fmt.Sprintf("%s-%d", s.name, i)
		g.Go(func() error {
			s.workerLoop(context.WithValue(ctx, contextkey.WorkerID, workerID), workerID)
			return nil
		})
	}
	g.Go(func() error {
		s.sweepLoop(ctx)
		return nil
	})
	logger.Info(ctx, "judge workers started", zap.String("name", s.name), zap.Int("pool_size", s.poolSize))
	return g.Wait()
}

func (s *JudgeService) workerLoop(ctx context.Context, workerID string) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		processed, err := s.ProcessOne(ctx, workerID)
		if err != nil && ctx.Err() == nil {
			logger.Warn(ctx, "judge job failed", zap.Error(err))
		}
		if processed {
			timer.Reset(0)
		} else {
			timer.Reset(s.pollInterval)
		}
	}
}

func (s *JudgeService) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// pendingRetrier is implemented by terminal handlers that keep failed work.
type pendingRetrier interface {
	RetryPending(ctx context.Context) (int, error)
}

func (s *JudgeService) sweepOnce(ctx context.Context) {
	if _, err := s.queue.RecoverExpired(ctx); err != nil && ctx.Err() == nil {
		logger.Warn(ctx, "recover expired claims failed", zap.Error(err))
	}
	retrier, ok := s.onTerminal.(pendingRetrier)
	if !ok {
		return
	}
	repaired, err := retrier.RetryPending(ctx)
	if repaired > 0 {
		logger.Info(ctx, "pending rank updates repaired", zap.Int("count", repaired))
	}
	if err != nil && ctx.Err() == nil {
		logger.Warn(ctx, "retry pending rank updates failed", zap.Error(err))
	}
}

// ProcessOne claims and judges at most one submission for workerID.
// It reports whether a submission was claimed.
func (s *JudgeService) ProcessOne(ctx context.Context, workerID string) (bool, error) {
	job, err := s.queue.DequeueNext(ctx, workerID)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	return true, s.judge(ctx, job)
}

func (s *JudgeService) judge(ctx context.Context, job *queue.Job) error {
	sub := job.Submission
	ctx = context.WithValue(ctx, contextkey.WorkerID, job.Claim.Owner)
	if sub.Attempts > s.maxAttempts {
		return s.commit(ctx, job, model.CheckerFailed("judge attempts exhausted"))
	}

	task, err := s.getTask(ctx, sub.TaskID)
	if err != nil {
		if appErr.Is(err, appErr.InvalidReference) {
			return s.commit(ctx, job, model.CheckerFailed("task no longer exists"))
		}
		return err
	}

	runCtx, hb := s.startHeartbeat(ctx, job.Claim)
	verdict, runErr := s.runner.Run(runCtx, sub, task)
	hbErr := hb.stop()

	if ctx.Err() != nil {
		logger.Info(ctx, "judge abandoned on shutdown", zap.Int64("submission_id", sub.ID))
		return ctx.Err()
	}
	if hbErr != nil {
		return hbErr
	}
	if runErr != nil {
		if verdict.Status == "" {
			return s.handleSystemFailure(ctx, job, runErr)
		}
		logger.Warn(ctx, "checker failed",
			zap.Int64("submission_id", sub.ID),
			zap.String("checker", task.Checker),
			zap.Int("code", int(appErr.GetCode(runErr))),
			zap.Error(runErr),
		)
	}
	return s.commit(ctx, job, verdict)
}

type heartbeat struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// startHeartbeat renews claim every lease/3 until stopped. Losing the claim
// cancels the returned context.
func (s *JudgeService) startHeartbeat(ctx context.Context, claim *model.Claim) (context.Context, *heartbeat) {
	runCtx, cancel := context.WithCancel(ctx)
	hb := &heartbeat{cancel: cancel, done: make(chan struct{})}
	interval := s.queue.Lease() / 3
	if interval <= 0 {
		close(hb.done)
		return runCtx, hb
	}
	go func() {
		defer close(hb.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				err := s.queue.Extend(runCtx, claim)
				if err == nil {
					continue
				}
				if runCtx.Err() != nil {
					return
				}
				if appErr.Is(err, appErr.ClaimExpired) || appErr.Is(err, appErr.AlreadyTerminal) {
					hb.err = err
					logger.Warn(ctx, "claim lost during judging",
						zap.Int64("submission_id", claim.SubmissionID),
						zap.Error(err),
					)
					cancel()
					return
				}
				logger.Warn(ctx, "extend claim failed", zap.Int64("submission_id", claim.SubmissionID), zap.Error(err))
			}
		}
	}()
	return runCtx, hb
}

func (h *heartbeat) stop() error {
	h.cancel()
	<-h.done
	return h.err
}
