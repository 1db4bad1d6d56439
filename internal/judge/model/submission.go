package model

import "time"

// Status is the lifecycle state of a submission.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusCError  Status = "c_error"
)

// Valid reports whether s is one of the four stored statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusOK, StatusError, StatusCError:
		return true
	}
	return false
}

// Terminal reports whether s is a final verdict.
func (s Status) Terminal() bool {
	return s == StatusOK || s == StatusError || s == StatusCError
}

// Scored reports whether submissions in state s contribute points to a rank.
func (s Status) Scored() bool {
	return s == StatusOK || s == StatusError
}

// Submission is one attempt of a user at a task within a round.
type Submission struct {
	ID      int64      `json:"id"`
	UserID  int64      `json:"user_id"`
	RoundID int64      `json:"round_id"`
	TaskID  int64      `json:"task_id"`
	Time    time.Time  `json:"time"`
	Queued  time.Time  `json:"queued"`
	Status  Status     `json:"status"`
	Points  *int64     `json:"points"`
	Judged  *time.Time `json:"judged,omitempty"`
	// Attempts counts how many times the submission has been claimed.
	Attempts int `json:"attempts"`
	// SourceKey locates the uploaded payload in object storage, if any.
	SourceKey string `json:"-"`
}

// SubmissionToRound records that a submission counts toward a round.
type SubmissionToRound struct {
	RoundID      int64
	SubmissionID int64
	UserID       int64
	Time         time.Time
}

// Claim is an exclusive, time-bounded right to judge one submission.
type Claim struct {
	SubmissionID int64
	ClaimID      string
	Owner        string
	Expires      time.Time
}

// Expired reports whether the lease has lapsed at now.
func (c *Claim) Expired(now time.Time) bool {
	return !now.Before(c.Expires)
}

// QueueStats summarizes the judge queue.
type QueueStats struct {
	Waiting int64 `json:"waiting"`
	Claimed int64 `json:"claimed"`
}
