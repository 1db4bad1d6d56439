package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"simoj/internal/common/db"
	"simoj/internal/judge/model"
)

// claimCandidates bounds how many rows ClaimNext races for per call.
const claimCandidates = 8

const submissionColumns = "id, user_id, round_id, task_id, time, queued, status, points, judged, attempts, source_key"

// MySQLSubmissionRepository implements SubmissionRepository and QueueRepository.
type MySQLSubmissionRepository struct {
	db db.Database
}

// NewSubmissionRepository creates a MySQL-backed submission repository.
func NewSubmissionRepository(database db.Database) *MySQLSubmissionRepository {
	return &MySQLSubmissionRepository{db: database}
}

// Create inserts the submission and its round links in one transaction.
func (r *MySQLSubmissionRepository) Create(ctx context.Context, submission *model.Submission, roundIDs []int64) (int64, error) {
	if submission == nil {
		return 0, errors.New("submission is nil")
	}
	if len(roundIDs) == 0 {
		return 0, errors.New("at least one round is required")
	}
	var id int64
	err := r.db.Transaction(ctx, func(tx db.Transaction) error {
		res, err := tx.Exec(ctx, `
			INSERT INTO submissions (user_id, round_id, task_id, time, status, queued, source_key)
			VALUES (?, ?, ?, ?, 'waiting', ?, ?)`,
			submission.UserID, submission.RoundID, submission.TaskID,
			submission.Time, submission.Queued, nullString(submission.SourceKey),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}

		placeholders := make([]string, 0, len(roundIDs))
		args := make([]interface{}, 0, len(roundIDs)*4)
		for _, roundID := range roundIDs {
			placeholders = append(placeholders, "(?, ?, ?, ?)")
			args = append(args, roundID, id, submission.UserID, submission.Time)
		}
		_, err = tx.Exec(ctx,
			"INSERT INTO submissions_to_rounds (round_id, submission_id, user_id, time) VALUES "+strings.Join(placeholders, ", "),
			args...,
		)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetByID retrieves a submission by id.
func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, id int64) (*model.Submission, error) {
	return r.getByID(ctx, nil, id)
}

func (r *MySQLSubmissionRepository) getByID(ctx context.Context, tx db.Transaction, id int64) (*model.Submission, error) {
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, "SELECT "+submissionColumns+" FROM submissions WHERE id = ?", id)
	submission, err := scanSubmission(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return submission, nil
}

// RoundsForSubmission lists the rounds linked to a submission.
func (r *MySQLSubmissionRepository) RoundsForSubmission(ctx context.Context, id int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, "SELECT round_id FROM submissions_to_rounds WHERE submission_id = ? ORDER BY round_id", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var roundID int64
		if err := rows.Scan(&roundID); err != nil {
			return nil, err
		}
		ids = append(ids, roundID)
	}
	return ids, rows.Err()
}

// MarkResult applies a verdict to a waiting submission.
func (r *MySQLSubmissionRepository) MarkResult(ctx context.Context, id int64, verdict model.Verdict, now time.Time) error {
	res, err := r.db.Exec(ctx, `
		UPDATE submissions
		SET status = ?, points = ?, judged = ?, claim_id = NULL, claim_expires = NULL
		WHERE id = ? AND status = 'waiting'`,
		string(verdict.Status), nullInt64(verdict.Points), now, id,
	)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err != nil {
		return err
	} else if affected == 1 {
		return nil
	}
	if _, err := r.getByID(ctx, nil, id); err != nil {
		return err
	}
	return ErrAlreadyTerminal
}

// ClaimNext races for the oldest claimable submissions with a conditional UPDATE per candidate.
// Losing a race to another worker moves on to the next candidate.
func (r *MySQLSubmissionRepository) ClaimNext(ctx context.Context, claimID string, now, expires time.Time) (*model.Submission, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM submissions
		WHERE status = 'waiting' AND (claim_expires IS NULL OR claim_expires <= ?)
		ORDER BY queued, id
		LIMIT ?`, now, claimCandidates)
	if err != nil {
		return nil, err
	}
	var candidates []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		candidates = append(candidates, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for _, id := range candidates {
		res, err := r.db.Exec(ctx, `
			UPDATE submissions
			SET claim_id = ?, claim_expires = ?, attempts = attempts + 1
			WHERE id = ? AND status = 'waiting' AND (claim_expires IS NULL OR claim_expires <= ?)`,
			claimID, expires, id, now,
		)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 1 {
			return r.getByID(ctx, nil, id)
		}
	}
	return nil, nil
}

// Complete applies a verdict while claimID still owns the submission.
func (r *MySQLSubmissionRepository) Complete(ctx context.Context, id int64, claimID string, verdict model.Verdict, now time.Time) error {
	res, err := r.db.Exec(ctx, `
		UPDATE submissions
		SET status = ?, points = ?, judged = ?, claim_id = NULL, claim_expires = NULL
		WHERE id = ? AND status = 'waiting' AND claim_id = ?`,
		string(verdict.Status), nullInt64(verdict.Points), now, id, claimID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	return r.classifyLostClaim(ctx, id)
}

// ExtendClaim pushes the lease forward if claimID still owns it and it has not lapsed.
func (r *MySQLSubmissionRepository) ExtendClaim(ctx context.Context, id int64, claimID string, now, expires time.Time) error {
	res, err := r.db.Exec(ctx, `
		UPDATE submissions SET claim_expires = ?
		WHERE id = ? AND status = 'waiting' AND claim_id = ? AND claim_expires > ?`,
		expires, id, claimID, now,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	return r.classifyLostClaim(ctx, id)
}

func (r *MySQLSubmissionRepository) classifyLostClaim(ctx context.Context, id int64) error {
	submission, err := r.getByID(ctx, nil, id)
	if err != nil {
		return err
	}
	if submission.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	return ErrClaimLost
}

// ReleaseExpired returns lapsed claims to plain waiting.
func (r *MySQLSubmissionRepository) ReleaseExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.Exec(ctx, `
		UPDATE submissions SET claim_id = NULL, claim_expires = NULL
		WHERE status = 'waiting' AND claim_id IS NOT NULL AND claim_expires <= ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountQueue reports unclaimed and claimed waiting submissions.
func (r *MySQLSubmissionRepository) CountQueue(ctx context.Context, now time.Time) (model.QueueStats, error) {
	var stats model.QueueStats
	var claimed int64
	var total int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(claim_id IS NOT NULL AND claim_expires > ?), 0)
		FROM submissions WHERE status = 'waiting'`, now).Scan(&total, &claimed)
	if err != nil {
		return stats, fmt.Errorf("count queue failed: %w", err)
	}
	stats.Claimed = claimed
	stats.Waiting = total - claimed
	return stats, nil
}

func scanSubmission(row db.Row) (*model.Submission, error) {
	var (
		s         model.Submission
		status    string
		points    sql.NullInt64
		judged    sql.NullTime
		sourceKey sql.NullString
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.RoundID, &s.TaskID, &s.Time, &s.Queued,
		&status, &points, &judged, &s.Attempts, &sourceKey); err != nil {
		return nil, err
	}
	s.Status = model.Status(status)
	if points.Valid {
		p := points.Int64
		s.Points = &p
	}
	if judged.Valid {
		t := judged.Time
		s.Judged = &t
	}
	s.SourceKey = sourceKey.String
	return &s, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
