package repository

import (
	"context"
	"database/sql"
	"time"

	"simoj/internal/common/db"
	"simoj/internal/judge/model"
)

// MySQLReferenceRepository reads users, tasks and rounds.
type MySQLReferenceRepository struct {
	db db.Database
}

// NewReferenceRepository creates a MySQL-backed reference repository.
func NewReferenceRepository(database db.Database) *MySQLReferenceRepository {
	return &MySQLReferenceRepository{db: database}
}

func (r *MySQLReferenceRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var (
		u        model.User
		userType string
	)
	err := r.db.QueryRow(ctx, "SELECT id, username, type FROM users WHERE id = ?", id).
		Scan(&u.ID, &u.Username, &userType)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	u.Type = model.UserType(userType)
	return &u, nil
}

func (r *MySQLReferenceRepository) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	var (
		t          model.Task
		privileges string
	)
	err := r.db.QueryRow(ctx, "SELECT id, name, checker, privileges FROM tasks WHERE id = ?", id).
		Scan(&t.ID, &t.Name, &t.Checker, &privileges)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	t.Privileges = model.Privilege(privileges)
	return &t, nil
}

func (r *MySQLReferenceRepository) GetRound(ctx context.Context, id int64) (*model.Round, error) {
	var (
		rd         model.Round
		privileges string
		begin      sql.NullTime
		fullJudge  sql.NullTime
		end        sql.NullTime
		taskID     sql.NullInt64
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, parent, visible, name, begin_time, full_judge_time, end_time, privileges, task_id
		FROM rounds WHERE id = ?`, id).
		Scan(&rd.ID, &rd.Parent, &rd.Visible, &rd.Name, &begin, &fullJudge, &end, &privileges, &taskID)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrRoundNotFound
		}
		return nil, err
	}
	rd.Privileges = model.Privilege(privileges)
	rd.BeginTime = nullTimePtr(begin)
	rd.FullJudgeTime = nullTimePtr(fullJudge)
	rd.EndTime = nullTimePtr(end)
	if taskID.Valid {
		v := taskID.Int64
		rd.TaskID = &v
	}
	return &rd, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
