package checker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"simoj/internal/judge/model"
)

// DefaultName is the checker every task falls back to; tasks.checker defaults to it.
const DefaultName = "default"

const defaultFullPoints = 100

// DefaultConfig configures the built-in default checker.
type DefaultConfig struct {
	// AnswerDir holds expected answers as <task_id>.ans. When empty any
	// non-blank payload is accepted.
	AnswerDir string `yaml:"answerDir"`
	// Points awarded for an accepted payload.
	Points int64 `yaml:"points"`
}

// DefaultChecker compares the payload with the task's expected answer
// token by token, ignoring whitespace layout.
func DefaultChecker(cfg DefaultConfig) FuncChecker {
	points := cfg.Points
	if points <= 0 {
		points = defaultFullPoints
	}
	return func(_ context.Context, in Input) (model.Verdict, error) {
		if in.SourcePath == "" {
			return model.Rejected("no output submitted"), nil
		}
		got, err := os.Open(in.SourcePath)
		if err != nil {
			return model.Verdict{}, fmt.Errorf("open payload: %w", err)
		}
		defer got.Close()

		if cfg.AnswerDir == "" || in.Task == nil {
			blank, err := isBlank(got)
			if err != nil {
				return model.Verdict{}, fmt.Errorf("read payload: %w", err)
			}
			if blank {
				return model.Rejected("empty output"), nil
			}
			return model.Accepted(points), nil
		}

		want, err := os.Open(filepath.Join(cfg.AnswerDir, strconv.FormatInt(in.Task.ID, 10)+".ans"))
		if err != nil {
			return model.Verdict{}, fmt.Errorf("open expected answer: %w", err)
		}
		defer want.Close()

		reason, err := compareTokens(got, want)
		if err != nil {
			return model.Verdict{}, err
		}
		if reason != "" {
			return model.Rejected(reason), nil
		}
		return model.Accepted(points), nil
	}
}

func isBlank(r io.Reader) (bool, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	if sc.Scan() {
		return false, nil
	}
	return true, sc.Err()
}

// compareTokens returns a rejection reason, or "" when both streams hold the
// same whitespace-separated tokens.
func compareTokens(got, want io.Reader) (string, error) {
	gs := bufio.NewScanner(got)
	gs.Split(bufio.ScanWords)
	ws := bufio.NewScanner(want)
	ws.Split(bufio.ScanWords)
	for n := 1; ; n++ {
		gok, wok := gs.Scan(), ws.Scan()
		if err := errors.Join(gs.Err(), ws.Err()); err != nil {
			return "", fmt.Errorf("read tokens: %w", err)
		}
		switch {
		case !gok && !wok:
			return "", nil
		case !gok:
			return fmt.Sprintf("output ended early at token %d", n), nil
		case !wok:
			return fmt.Sprintf("extra output at token %d", n), nil
		case gs.Text() != ws.Text():
			return fmt.Sprintf("wrong answer at token %d", n), nil
		}
	}
}
