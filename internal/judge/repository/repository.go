package repository

import (
	"context"
	"errors"
	"time"

	"simoj/internal/judge/model"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrRoundNotFound      = errors.New("round not found")
	ErrTaskNotFound       = errors.New("task not found")
	// ErrAlreadyTerminal is returned when a verdict targets a judged submission.
	ErrAlreadyTerminal = errors.New("submission already terminal")
	// ErrClaimLost is returned when the caller's claim id no longer owns the submission.
	ErrClaimLost = errors.New("claim no longer held")
)

// ReferenceRepository reads the entities a submission points at.
type ReferenceRepository interface {
	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetTask(ctx context.Context, id int64) (*model.Task, error)
	GetRound(ctx context.Context, id int64) (*model.Round, error)
}

// SubmissionRepository is the durable record of submissions.
type SubmissionRepository interface {
	// Create stores a waiting submission and links it to every round in roundIDs
	// atomically. It returns the new id.
	Create(ctx context.Context, submission *model.Submission, roundIDs []int64) (int64, error)
	GetByID(ctx context.Context, id int64) (*model.Submission, error)
	// RoundsForSubmission lists the rounds the submission counts toward.
	RoundsForSubmission(ctx context.Context, id int64) ([]int64, error)
	// MarkResult moves a waiting submission to verdict regardless of claims.
	MarkResult(ctx context.Context, id int64, verdict model.Verdict, now time.Time) error
}

// QueueRepository implements the claim/lease protocol on waiting submissions.
type QueueRepository interface {
	// ClaimNext claims the oldest claimable submission or returns nil.
	ClaimNext(ctx context.Context, claimID string, now, expires time.Time) (*model.Submission, error)
	// Complete applies verdict only while claimID still owns the submission.
	Complete(ctx context.Context, id int64, claimID string, verdict model.Verdict, now time.Time) error
	ExtendClaim(ctx context.Context, id int64, claimID string, now, expires time.Time) error
	// ReleaseExpired clears lapsed claims and reports how many were cleared.
	ReleaseExpired(ctx context.Context, now time.Time) (int64, error)
	CountQueue(ctx context.Context, now time.Time) (model.QueueStats, error)
}

// RankRepository stores and derives per-round scores.
type RankRepository interface {
	// BestPoints returns the max points over the user's scored submissions in the round,
	// or nil when there are none.
	BestPoints(ctx context.Context, userID, roundID int64) (*int64, error)
	// RefreshRank sets the stored rank to BestPoints, deleting it when that is
	// nil, and returns the value written. Concurrent calls for one pair are
	// serialized by the store itself.
	RefreshRank(ctx context.Context, userID, roundID int64) (*int64, error)
	// ListRanks reads the materialized ranks of a round.
	ListRanks(ctx context.Context, roundID int64) ([]model.RankEntry, error)
	// ComputeRanking derives the ranking of a round straight from submissions.
	ComputeRanking(ctx context.Context, roundID int64) ([]model.RankEntry, error)
	// Participants lists users with at least one submission linked to the round.
	Participants(ctx context.Context, roundID int64) ([]int64, error)
}

// Store bundles every repository the pipeline needs.
type Store interface {
	ReferenceRepository
	SubmissionRepository
	QueueRepository
	RankRepository
}
