package service

import (
	"context"
	"errors"

	"simoj/internal/judge/model"
	"simoj/internal/judge/repository"
	appErr "simoj/pkg/errors"
)

const defaultMaxRoundDepth = 64

// RoundReader loads rounds by id.
type RoundReader interface {
	GetRound(ctx context.Context, id int64) (*model.Round, error)
}

// ancestorChain returns round followed by each of its ancestors up to the root.
// The walk is iterative and fails with RoundCycle on a loop or an overly deep tree.
func ancestorChain(ctx context.Context, rounds RoundReader, round *model.Round, maxDepth int) ([]*model.Round, error) {
	if maxDepth <= 0 {
		maxDepth = defaultMaxRoundDepth
	}
	chain := []*model.Round{round}
	visited := map[int64]struct{}{round.ID: {}}
	current := round
	for !current.IsRoot() {
		if len(chain) >= maxDepth {
			return nil, appErr.Newf(appErr.RoundCycle, "round %d is nested deeper than %d levels", round.ID, maxDepth)
		}
		if _, seen := visited[current.Parent]; seen {
			return nil, appErr.Newf(appErr.RoundCycle, "round %d has a cycle through round %d", round.ID, current.Parent)
		}
		parent, err := rounds.GetRound(ctx, current.Parent)
		if err != nil {
			if errors.Is(err, repository.ErrRoundNotFound) {
				return nil, appErr.Newf(appErr.RoundNotFound, "parent round %d of round %d not found", current.Parent, current.ID)
			}
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "get round failed")
		}
		visited[parent.ID] = struct{}{}
		chain = append(chain, parent)
		current = parent
	}
	return chain, nil
}

// effectiveTasks is the union of the task bound to each round of chain.
func effectiveTasks(chain []*model.Round) map[int64]struct{} {
	tasks := make(map[int64]struct{})
	for _, r := range chain {
		if r.TaskID != nil {
			tasks[*r.TaskID] = struct{}{}
		}
	}
	return tasks
}

func roundIDs(chain []*model.Round) []int64 {
	ids := make([]int64, 0, len(chain))
	for _, r := range chain {
		ids = append(ids, r.ID)
	}
	return ids
}
