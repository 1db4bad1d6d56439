package checker

import (
	"context"

	"simoj/internal/judge/model"
)

// FuncChecker adapts a Go function to Checker.
type FuncChecker func(ctx context.Context, in Input) (model.Verdict, error)

func (f FuncChecker) Kind() Kind { return KindFunc }

func (f FuncChecker) Check(ctx context.Context, in Input) (model.Verdict, error) {
	return f(ctx, in)
}

// FixedPoints accepts every submission with the same score.
func FixedPoints(points int64) FuncChecker {
	return func(context.Context, Input) (model.Verdict, error) {
		return model.Accepted(points), nil
	}
}
