package service

import (
	"context"
	"errors"
	"time"

	"simoj/internal/judge/model"
	"simoj/internal/judge/repository"
	appErr "simoj/pkg/errors"
)

type taskEntry struct {
	task      model.Task
	expiresAt time.Time
}

func (s *JudgeService) getTask(ctx context.Context, taskID int64) (*model.Task, error) {
	now := time.Now()
	if s.taskTTL > 0 {
		s.taskMu.Lock()
		entry, ok := s.taskCache[taskID]
		if ok && now.Before(entry.expiresAt) {
			task := entry.task
			s.taskMu.Unlock()
			return &task, nil
		}
		s.taskMu.Unlock()
	}

	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			return nil, appErr.InvalidReferenceError("task", taskID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get task failed")
	}
	if s.taskTTL > 0 {
		s.taskMu.Lock()
		s.taskCache[taskID] = taskEntry{task: *task, expiresAt: now.Add(s.taskTTL)}
		s.taskMu.Unlock()
	}
	return task, nil
}
