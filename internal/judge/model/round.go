package model

import "time"

// RootRoundID is the seeded root of the round tree.
const RootRoundID int64 = 1

// Round is a node in the contest tree.
type Round struct {
	ID            int64
	Parent        int64
	Visible       bool
	Name          string
	BeginTime     *time.Time
	FullJudgeTime *time.Time
	EndTime       *time.Time
	Privileges    Privilege
	TaskID        *int64
}

// IsRoot reports whether the round terminates an ancestor walk.
// Both parent=0 and a self-reference mark a root.
func (r *Round) IsRoot() bool {
	return r.Parent == 0 || r.Parent == r.ID
}

// Task is a judged problem bound to a checker.
type Task struct {
	ID         int64
	Name       string
	Checker    string
	Privileges Privilege
}
