package service

import (
	"context"

	"simoj/internal/judge/model"
	"simoj/internal/judge/queue"
	appErr "simoj/pkg/errors"
	"simoj/pkg/utils/logger"

	"go.uber.org/zap"
)

// commit records verdict for the claimed submission, then updates ranks and
// announces the verdict. Commit proceeds even when ctx is being cancelled.
func (s *JudgeService) commit(ctx context.Context, job *queue.Job, verdict model.Verdict) error {
	ctxCommit := withTimeout(context.WithoutCancel(ctx), s.commitTimeout)
	defer ctxCommit.cancel()

	if err := s.queue.Complete(ctxCommit.ctx, job.Claim, verdict); err != nil {
		if appErr.Is(err, appErr.ClaimExpired) || appErr.Is(err, appErr.AlreadyTerminal) {
			logger.Info(ctx, "verdict discarded",
				zap.Int64("submission_id", job.Submission.ID),
				zap.Int("code", int(appErr.GetCode(err))),
			)
		}
		return err
	}

	sub := *job.Submission
	judged := s.now().UTC()
	sub.Status = verdict.Status
	sub.Points = verdict.Points
	sub.Judged = &judged
	logger.Info(ctx, "submission judged",
		zap.Int64("submission_id", sub.ID),
		zap.String("status", string(sub.Status)),
		zap.Int("attempts", sub.Attempts),
	)

	if s.onTerminal != nil {
		if err := s.onTerminal.OnTerminal(ctxCommit.ctx, &sub); err != nil {
			logger.Error(ctx, "rank update failed", zap.Int64("submission_id", sub.ID), zap.Error(err))
		}
	}
	event := model.VerdictEvent{
		SubmissionID: sub.ID,
		UserID:       sub.UserID,
		RoundID:      sub.RoundID,
		TaskID:       sub.TaskID,
		Status:       sub.Status,
		Points:       sub.Points,
		JudgedAt:     judged,
	}
	if err := s.events.PublishVerdict(ctxCommit.ctx, event); err != nil {
		logger.Warn(ctx, "publish verdict event failed", zap.Int64("submission_id", sub.ID), zap.Error(err))
	}
	return nil
}

// handleSystemFailure leaves the claim to expire so another attempt can run,
// unless the submission has used up its attempts.
func (s *JudgeService) handleSystemFailure(ctx context.Context, job *queue.Job, err error) error {
	if job.Submission.Attempts >= s.maxAttempts {
		logger.Error(ctx, "judge attempts exhausted",
			zap.Int64("submission_id", job.Submission.ID),
			zap.Int("attempts", job.Submission.Attempts),
			zap.Error(err),
		)
		return s.commit(ctx, job, model.CheckerFailed("judge system error"))
	}
	return appErr.Wrapf(err, appErr.JudgeSystemError, "judge submission %d failed, attempt %d", job.Submission.ID, job.Submission.Attempts)
}
