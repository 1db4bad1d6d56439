package checker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"simoj/internal/judge/model"

	"github.com/google/shlex"
)

const (
	defaultExecTimeout = 30 * time.Second
	maxCapturedOutput  = 64 << 10
)

// ExecChecker runs an external command per submission.
//
// Protocol: exit 0 with a non-negative integer on the first stdout line is an
// ok verdict worth that many points; exit 1 is a judged failure; any other
// outcome, including a timeout, is a checker crash.
type ExecChecker struct {
	argv    []string
	timeout time.Duration
}

// NewExecChecker splits command with shell quoting rules.
func NewExecChecker(command string, timeout time.Duration) (*ExecChecker, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("command is empty")
	}
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	return &ExecChecker{argv: argv, timeout: timeout}, nil
}

func (c *ExecChecker) Kind() Kind { return KindExec }

func (c *ExecChecker) Check(ctx context.Context, in Input) (model.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var stdout, stderr cappedBuffer
	cmd := exec.Command(c.argv[0], c.argv[1:]...)
	cmd.Env = append(os.Environ(), checkerEnv(in)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if in.SourcePath != "" {
		cmd.Dir = filepath.Dir(in.SourcePath)
	}
	cmd.WaitDelay = time.Second
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return model.Verdict{}, fmt.Errorf("start checker: %w", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		killProcessGroup(cmd)
		<-done
		return model.Verdict{}, fmt.Errorf("checker did not finish: %w", ctx.Err())
	}

	if waitErr == nil {
		line := firstLine(stdout.String())
		points, err := strconv.ParseInt(line, 10, 64)
		if err != nil || points < 0 {
			return model.Verdict{}, fmt.Errorf("checker printed %q, want a non-negative integer", line)
		}
		return model.Accepted(points), nil
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) && exitErr.ExitCode() == 1 {
		reason := firstLine(stdout.String())
		if reason == "" {
			reason = firstLine(stderr.String())
		}
		return model.Rejected(reason), nil
	}
	return model.Verdict{}, fmt.Errorf("checker failed: %w: %s", waitErr, firstLine(stderr.String()))
}

func checkerEnv(in Input) []string {
	env := make([]string, 0, 6)
	if s := in.Submission; s != nil {
		env = append(env,
			"SIMOJ_SUBMISSION_ID="+strconv.FormatInt(s.ID, 10),
			"SIMOJ_USER_ID="+strconv.FormatInt(s.UserID, 10),
			"SIMOJ_ROUND_ID="+strconv.FormatInt(s.RoundID, 10),
			"SIMOJ_TASK_ID="+strconv.FormatInt(s.TaskID, 10),
		)
	}
	if in.Task != nil {
		env = append(env, "SIMOJ_TASK_NAME="+in.Task.Name)
	}
	env = append(env, "SIMOJ_SOURCE_PATH="+in.SourcePath)
	return env
}

func firstLine(s string) string {
	sc := bufio.NewScanner(strings.NewReader(s))
	if sc.Scan() {
		return strings.TrimSpace(sc.Text())
	}
	return ""
}

// cappedBuffer keeps the first maxCapturedOutput bytes and discards the rest
// so a chatty checker cannot exhaust memory.
type cappedBuffer struct {
	buf bytes.Buffer
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := maxCapturedOutput - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }
