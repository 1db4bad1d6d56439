package controller

import (
	"time"

	"simoj/internal/judge/model"
)

// SubmitRequest is the body of POST /submissions.
type SubmitRequest struct {
	RoundID int64  `json:"round_id" binding:"required"`
	TaskID  int64  `json:"task_id" binding:"required"`
	Source  string `json:"source"`
}

// SubmitResponse describes a newly queued submission.
type SubmitResponse struct {
	SubmissionID int64     `json:"submission_id"`
	Status       string    `json:"status"`
	Queued       time.Time `json:"queued"`
}

// RankingResponse is a published round ranking.
type RankingResponse struct {
	RoundID int64             `json:"round_id"`
	Source  string            `json:"source"`
	Entries []model.RankEntry `json:"entries"`
}

// RebuildResponse reports a ranking rebuild.
type RebuildResponse struct {
	RoundID int64 `json:"round_id"`
	Users   int   `json:"users"`
}
