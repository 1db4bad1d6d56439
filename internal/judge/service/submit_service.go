package service

import (
	"bytes"
	"context"
	"errors"
	"time"

	"simoj/internal/common/storage"
	"simoj/internal/judge/model"
	"simoj/internal/judge/repository"
	appErr "simoj/pkg/errors"
	"simoj/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultSourcePrefix = "submissions/"

// TerminalHandler reacts to a submission reaching a terminal state.
type TerminalHandler interface {
	OnTerminal(ctx context.Context, submission *model.Submission) error
}

// SubmitStore is what the submit service needs from persistence.
type SubmitStore interface {
	repository.ReferenceRepository
	repository.SubmissionRepository
}

// SubmitTimeouts bounds calls to external systems.
type SubmitTimeouts struct {
	DB      time.Duration
	Storage time.Duration
}

// SubmitConfig holds submit service dependencies and settings.
type SubmitConfig struct {
	Store SubmitStore
	// Storage receives submission payloads; nil disables uploads.
	Storage         storage.ObjectStorage
	SourceBucket    string
	SourceKeyPrefix string
	MaxSourceBytes  int
	MaxRoundDepth   int
	// OnTerminal is notified after MarkResult.
	OnTerminal TerminalHandler
	Timeouts   SubmitTimeouts
	Now        func() time.Time
}

// SubmitInput is one submission request.
type SubmitInput struct {
	UserID  int64
	RoundID int64
	TaskID  int64
	Source  []byte
}

// SubmitService admits submissions into the judge queue.
type SubmitService struct {
	store           SubmitStore
	storage         storage.ObjectStorage
	sourceBucket    string
	sourceKeyPrefix string
	maxSourceBytes  int
	maxRoundDepth   int
	onTerminal      TerminalHandler
	timeouts        SubmitTimeouts
	now             func() time.Time
}

// NewSubmitService creates a submit service.
func NewSubmitService(cfg SubmitConfig) (*SubmitService, error) {
	if cfg.Store == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("submission store is required")
	}
	if cfg.Storage != nil && cfg.SourceBucket == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("source bucket is required with object storage")
	}
	prefix := cfg.SourceKeyPrefix
	if prefix == "" {
		prefix = defaultSourcePrefix
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &SubmitService{
		store:           cfg.Store,
		storage:         cfg.Storage,
		sourceBucket:    cfg.SourceBucket,
		sourceKeyPrefix: prefix,
		maxSourceBytes:  cfg.MaxSourceBytes,
		maxRoundDepth:   cfg.MaxRoundDepth,
		onTerminal:      cfg.OnTerminal,
		timeouts:        cfg.Timeouts,
		now:             now,
	}, nil
}

// Create validates the references of input and stores a waiting submission
// linked to the target round and every ancestor.
func (s *SubmitService) Create(ctx context.Context, input SubmitInput) (*model.Submission, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()

	user, err := s.store.GetUser(ctxDB.ctx, input.UserID)
	if err != nil {
		return nil, referenceError(err, repository.ErrUserNotFound, "user", input.UserID)
	}
	task, err := s.store.GetTask(ctxDB.ctx, input.TaskID)
	if err != nil {
		return nil, referenceError(err, repository.ErrTaskNotFound, "task", input.TaskID)
	}
	round, err := s.store.GetRound(ctxDB.ctx, input.RoundID)
	if err != nil {
		return nil, referenceError(err, repository.ErrRoundNotFound, "round", input.RoundID)
	}

	if !task.Privileges.Allows(user.Type) {
		return nil, appErr.InvalidReferenceError("task", task.ID)
	}
	if !round.Privileges.Allows(user.Type) {
		return nil, appErr.InvalidReferenceError("round", round.ID)
	}
	privileged := user.Type.Privileged()
	if !round.Visible && !privileged {
		return nil, appErr.InvalidReferenceError("round", round.ID)
	}

	chain, err := ancestorChain(ctxDB.ctx, s.store, round, s.maxRoundDepth)
	if err != nil {
		return nil, err
	}
	if tasks := effectiveTasks(chain); len(tasks) > 0 {
		if _, ok := tasks[task.ID]; !ok {
			return nil, appErr.InvalidReferenceError("task", task.ID).
				WithMessagef("task %d is not part of round %d", task.ID, round.ID)
		}
	}

	now := s.now().UTC()
	if !privileged {
		if err := checkWindow(round, now); err != nil {
			return nil, err
		}
	}

	submission := &model.Submission{
		UserID:  user.ID,
		RoundID: round.ID,
		TaskID:  task.ID,
		Time:    now,
		Queued:  now,
		Status:  model.StatusWaiting,
	}
	if len(input.Source) > 0 && s.storage != nil {
		key := s.sourceKeyPrefix + uuid.NewString()
		if err := s.uploadSource(ctx, key, input.Source); err != nil {
			return nil, err
		}
		submission.SourceKey = key
	}

	id, err := s.store.Create(ctxDB.ctx, submission, roundIDs(chain))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SubmissionCreateFailed, "create submission failed")
	}
	submission.ID = id
	logger.Info(ctx, "submission queued",
		zap.Int64("submission_id", id),
		zap.Int64("round_id", round.ID),
		zap.Int64("task_id", task.ID),
		zap.Int("rounds", len(chain)),
	)
	return submission, nil
}

// GetSubmission returns one submission.
func (s *SubmitService) GetSubmission(ctx context.Context, id int64) (*model.Submission, error) {
	if id <= 0 {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	sub, err := s.store.GetByID(ctxDB.ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.Newf(appErr.SubmissionNotFound, "submission %d not found", id)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	return sub, nil
}

// MarkResult records verdict for a waiting submission outside the judge queue.
// A second call fails with AlreadyTerminal.
func (s *SubmitService) MarkResult(ctx context.Context, id int64, verdict model.Verdict) error {
	if err := verdict.Validate(); err != nil {
		return err
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.store.MarkResult(ctxDB.ctx, id, verdict, s.now().UTC()); err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyTerminal):
			return appErr.Wrap(err, appErr.AlreadyTerminal)
		case errors.Is(err, repository.ErrSubmissionNotFound):
			return appErr.Newf(appErr.SubmissionNotFound, "submission %d not found", id)
		default:
			return appErr.Wrapf(err, appErr.DatabaseError, "mark result failed")
		}
	}
	if s.onTerminal == nil {
		return nil
	}
	sub, err := s.store.GetByID(ctxDB.ctx, id)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "reload submission failed")
	}
	return s.onTerminal.OnTerminal(ctx, sub)
}

func (s *SubmitService) validateInput(input SubmitInput) error {
	if input.UserID <= 0 {
		return appErr.ValidationError("user_id", "required")
	}
	if input.RoundID <= 0 {
		return appErr.ValidationError("round_id", "required")
	}
	if input.TaskID <= 0 {
		return appErr.ValidationError("task_id", "required")
	}
	if s.maxSourceBytes > 0 && len(input.Source) > s.maxSourceBytes {
		return appErr.ValidationError("source", "too_large")
	}
	return nil
}

func (s *SubmitService) uploadSource(ctx context.Context, key string, source []byte) error {
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	err := s.storage.PutObject(ctxStorage.ctx, s.sourceBucket, key, bytes.NewReader(source), int64(len(source)), "application/octet-stream")
	if err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "upload source failed")
	}
	return nil
}

func referenceError(err, notFound error, entity string, id int64) error {
	if errors.Is(err, notFound) {
		return appErr.InvalidReferenceError(entity, id)
	}
	return appErr.Wrapf(err, appErr.DatabaseError, "get %s failed", entity)
}

func checkWindow(round *model.Round, now time.Time) error {
	if round.BeginTime != nil && now.Before(*round.BeginTime) {
		return appErr.Newf(appErr.RoundNotStarted, "round %d starts at %s", round.ID, round.BeginTime.Format(time.RFC3339))
	}
	if round.EndTime != nil && !now.Before(*round.EndTime) {
		return appErr.Newf(appErr.RoundEnded, "round %d ended at %s", round.ID, round.EndTime.Format(time.RFC3339))
	}
	return nil
}
