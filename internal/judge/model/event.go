package model

import "time"

// VerdictEvent is published after a submission reaches a terminal state.
type VerdictEvent struct {
	SubmissionID int64     `json:"submission_id"`
	UserID       int64     `json:"user_id"`
	RoundID      int64     `json:"round_id"`
	TaskID       int64     `json:"task_id"`
	Status       Status    `json:"status"`
	Points       *int64    `json:"points"`
	JudgedAt     time.Time `json:"judged_at"`
}

// RankEvent is published after a rank row is written.
type RankEvent struct {
	UserID  int64 `json:"user_id"`
	RoundID int64 `json:"round_id"`
	Points  int64 `json:"points"`
}
