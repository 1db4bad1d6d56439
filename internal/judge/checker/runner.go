package checker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"simoj/internal/common/storage"
	"simoj/internal/judge/model"
	appErr "simoj/pkg/errors"
	"simoj/pkg/utils/logger"

	"go.uber.org/zap"
)

// RunnerConfig configures payload handling for a Runner.
type RunnerConfig struct {
	// Bucket holds submission payloads; used only when Storage is set.
	Bucket string
	// WorkDir is the parent of per-submission scratch directories.
	WorkDir string
}

// Runner resolves a task's checker and runs it against one submission.
type Runner struct {
	registry *Registry
	storage  storage.ObjectStorage
	cfg      RunnerConfig
}

// NewRunner creates a runner; objectStorage may be nil.
func NewRunner(registry *Registry, objectStorage storage.ObjectStorage, cfg RunnerConfig) *Runner {
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &Runner{registry: registry, storage: objectStorage, cfg: cfg}
}

// Run judges sub with task's checker.
//
// Checker problems (unknown name, crash, timeout, malformed output) come back as
// a c_error verdict together with an UnknownChecker or CheckerCrash error so the
// caller can record the verdict and log the cause. Infrastructure problems come
// back as an error with a zero verdict: the submission should be retried.
func (r *Runner) Run(ctx context.Context, sub *model.Submission, task *model.Task) (model.Verdict, error) {
	c, err := r.registry.Lookup(task.Checker)
	if err != nil {
		return model.CheckerFailed("unknown checker " + task.Checker), err
	}

	in := Input{Submission: sub, Task: task}
	if sub.SourceKey != "" && r.storage != nil {
		dir, path, err := r.fetchPayload(ctx, sub)
		if err != nil {
			return model.Verdict{}, appErr.Wrapf(err, appErr.JudgeSystemError, "fetch payload of submission %d failed", sub.ID)
		}
		defer os.RemoveAll(dir)
		in.SourcePath = path
	}

	verdict, err := safeCheck(ctx, c, in)
	if ctx.Err() != nil {
		// Shutdown or caller cancellation says nothing about the submission.
		return model.Verdict{}, ctx.Err()
	}
	if err != nil {
		logger.Warn(ctx, "checker crashed",
			zap.Int64("submission_id", sub.ID),
			zap.String("checker", task.Checker),
			zap.Error(err),
		)
		return model.CheckerFailed(err.Error()), appErr.Wrapf(err, appErr.CheckerCrash, "checker %s crashed", task.Checker)
	}
	if err := verdict.Validate(); err != nil {
		return model.CheckerFailed("invalid verdict"), appErr.Wrapf(err, appErr.CheckerCrash, "checker %s returned an invalid verdict", task.Checker)
	}
	return verdict, nil
}

func safeCheck(ctx context.Context, c Checker, in Input) (v model.Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("checker panic: %v", r)
		}
	}()
	return c.Check(ctx, in)
}

func (r *Runner) fetchPayload(ctx context.Context, sub *model.Submission) (string, string, error) {
	dir, err := os.MkdirTemp(r.cfg.WorkDir, "simoj-"+strconv.FormatInt(sub.ID, 10)+"-")
	if err != nil {
		return "", "", fmt.Errorf("create work dir: %w", err)
	}
	reader, err := r.storage.GetObject(ctx, r.cfg.Bucket, sub.SourceKey)
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", "", err
	}
	defer reader.Close()

	path := filepath.Join(dir, "source")
	f, err := os.Create(path)
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", "", fmt.Errorf("create payload file: %w", err)
	}
	if _, err := io.Copy(f, reader); err != nil {
		_ = f.Close()
		_ = os.RemoveAll(dir)
		return "", "", fmt.Errorf("download payload: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.RemoveAll(dir)
		return "", "", fmt.Errorf("close payload file: %w", err)
	}
	return dir, path, nil
}
