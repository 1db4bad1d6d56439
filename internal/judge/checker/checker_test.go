package checker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"simoj/internal/judge/model"
	appErr "simoj/pkg/errors"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("exec checker tests need a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func testInput() Input {
	return Input{
		Submission: &model.Submission{ID: 11, UserID: 3, RoundID: 4, TaskID: 5},
		Task:       &model.Task{ID: 5, Name: "sum", Checker: "c"},
	}
}

func TestRegistryLookup(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	if err := reg.Register("fixed", FixedPoints(5)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register("fixed", FixedPoints(6)); err == nil {
		t.Fatalf("duplicate registration must fail")
	}
	c, err := reg.Lookup("fixed")
	if err != nil || c.Kind() != KindFunc {
		t.Fatalf("Lookup: %v %v", c, err)
	}
	if _, err := reg.Lookup("missing"); !appErr.Is(err, appErr.UnknownChecker) {
		t.Fatalf("expected UnknownChecker, got %v", err)
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "fixed" {
		t.Fatalf("Names = %v", names)
	}
}

func TestBuildRegistry(t *testing.T) {
	t.Parallel()
	reg, err := BuildRegistry([]Spec{
		{Name: "diff", Kind: KindExec, Command: `sh -c "echo 1"`, Timeout: time.Second},
		{Name: "fixed", Kind: KindFunc},
	}, map[string]FuncChecker{"fixed": FixedPoints(1)}, DefaultConfig{})
	if err != nil {
		t.Fatalf("BuildRegistry: %v", err)
	}
	c, err := reg.Lookup("diff")
	if err != nil || c.Kind() != KindExec {
		t.Fatalf("exec checker not registered: %v", err)
	}
	if c, err := reg.Lookup(DefaultName); err != nil || c.Kind() != KindFunc {
		t.Fatalf("default checker not registered: %v", err)
	}

	bad := [][]Spec{
		{{Name: "x", Kind: KindExec, Command: ""}},
		{{Name: "x", Kind: KindExec, Command: `unterminated "quote`}},
		{{Name: "x", Kind: KindFunc}},
		{{Name: "x", Kind: "wasm", Command: "a"}},
	}
	for _, specs := range bad {
		if _, err := BuildRegistry(specs, nil, DefaultConfig{}); err == nil {
			t.Fatalf("expected error for %+v", specs)
		}
	}
}

func TestExecCheckerOutcomes(t *testing.T) {
	requireShell(t)
	t.Parallel()
	tests := []struct {
		name       string
		script     string
		wantStatus model.Status
		wantPoints int64
		wantErr    bool
	}{
		{"accepted", `echo 80`, model.StatusOK, 80, false},
		{"accepted with trailing output", `printf '42\nextra\n'`, model.StatusOK, 42, false},
		{"judged failure", `echo "wrong answer"; exit 1`, model.StatusError, 0, false},
		{"garbage output", `echo many`, "", 0, true},
		{"negative points", `echo -3`, "", 0, true},
		{"crash", `exit 3`, "", 0, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, err := NewExecChecker("sh -c '"+strings.ReplaceAll(tt.script, "'", `'\''`)+"'", 5*time.Second)
			if err != nil {
				t.Fatalf("NewExecChecker: %v", err)
			}
			v, err := c.Check(context.Background(), testInput())
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected crash, got %+v", v)
				}
				return
			}
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if v.Status != tt.wantStatus || v.Points == nil || *v.Points != tt.wantPoints {
				t.Fatalf("verdict = %+v", v)
			}
		})
	}
}

func TestExecCheckerEnvironment(t *testing.T) {
	requireShell(t)
	t.Parallel()
	c, err := NewExecChecker(`sh -c 'if [ "$SIMOJ_SUBMISSION_ID:$SIMOJ_USER_ID:$SIMOJ_ROUND_ID:$SIMOJ_TASK_ID:$SIMOJ_TASK_NAME" = "11:3:4:5:sum" ]; then echo 1; else exit 1; fi'`, 5*time.Second)
	if err != nil {
		t.Fatalf("NewExecChecker: %v", err)
	}
	v, err := c.Check(context.Background(), testInput())
	if err != nil || v.Status != model.StatusOK {
		t.Fatalf("environment not passed: %+v %v", v, err)
	}
}

func TestExecCheckerTimeoutKillsGroup(t *testing.T) {
	requireShell(t)
	t.Parallel()
	c, err := NewExecChecker(`sh -c 'sleep 30 & sleep 30'`, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("NewExecChecker: %v", err)
	}
	start := time.Now()
	_, err = c.Check(context.Background(), testInput())
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout took %v", elapsed)
	}
}

type memStorage struct {
	objects map[string][]byte
	err     error
}

func (m *memStorage) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	if m.err != nil {
		return nil, m.err
	}
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStorage) PutObject(_ context.Context, bucket, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[bucket+"/"+key] = data
	return nil
}

func TestRunnerVerdicts(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	_ = reg.Register("fixed", FixedPoints(80))
	_ = reg.Register("boom", FuncChecker(func(context.Context, Input) (model.Verdict, error) {
		return model.Verdict{}, errors.New("segfault")
	}))
	_ = reg.Register("panic", FuncChecker(func(context.Context, Input) (model.Verdict, error) {
		panic("bad checker")
	}))
	_ = reg.Register("liar", FuncChecker(func(context.Context, Input) (model.Verdict, error) {
		return model.Verdict{Status: model.StatusOK}, nil
	}))
	runner := NewRunner(reg, nil, RunnerConfig{})
	sub := &model.Submission{ID: 1}

	v, err := runner.Run(context.Background(), sub, &model.Task{Checker: "fixed"})
	if err != nil || v.Status != model.StatusOK || *v.Points != 80 {
		t.Fatalf("fixed: %+v %v", v, err)
	}

	v, err = runner.Run(context.Background(), sub, &model.Task{Checker: "nope"})
	if !appErr.Is(err, appErr.UnknownChecker) || v.Status != model.StatusCError || v.Points != nil {
		t.Fatalf("unknown: %+v %v", v, err)
	}

	for _, name := range []string{"boom", "panic", "liar"} {
		v, err = runner.Run(context.Background(), sub, &model.Task{Checker: name})
		if !appErr.Is(err, appErr.CheckerCrash) || v.Status != model.StatusCError || v.Points != nil {
			t.Fatalf("%s: %+v %v", name, v, err)
		}
	}
}

func TestRunnerCancelledContextIsNotAVerdict(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	_ = reg.Register("slow", FuncChecker(func(ctx context.Context, _ Input) (model.Verdict, error) {
		<-ctx.Done()
		return model.Verdict{}, ctx.Err()
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v, err := NewRunner(reg, nil, RunnerConfig{}).Run(ctx, &model.Submission{ID: 1}, &model.Task{Checker: "slow"})
	if !errors.Is(err, context.Canceled) || v.Status != "" {
		t.Fatalf("expected bare cancellation, got %+v %v", v, err)
	}
}

func TestRunnerDownloadsPayload(t *testing.T) {
	t.Parallel()
	store := &memStorage{objects: map[string][]byte{"subs/payload/9": []byte("print(1)")}}
	var seenPath string
	var seenBody string
	reg := NewRegistry()
	_ = reg.Register("read", FuncChecker(func(_ context.Context, in Input) (model.Verdict, error) {
		seenPath = in.SourcePath
		data, err := os.ReadFile(in.SourcePath)
		if err != nil {
			return model.Verdict{}, err
		}
		seenBody = string(data)
		return model.Accepted(1), nil
	}))
	runner := NewRunner(reg, store, RunnerConfig{Bucket: "subs", WorkDir: t.TempDir()})

	v, err := runner.Run(context.Background(), &model.Submission{ID: 9, SourceKey: "payload/9"}, &model.Task{Checker: "read"})
	if err != nil || v.Status != model.StatusOK {
		t.Fatalf("Run: %+v %v", v, err)
	}
	if seenBody != "print(1)" {
		t.Fatalf("payload = %q", seenBody)
	}
	if _, err := os.Stat(seenPath); !os.IsNotExist(err) {
		t.Fatalf("work dir not cleaned up: %v", err)
	}

	store.err = errors.New("minio down")
	v, err = runner.Run(context.Background(), &model.Submission{ID: 9, SourceKey: "payload/9"}, &model.Task{Checker: "read"})
	if !appErr.Is(err, appErr.JudgeSystemError) || v.Status != "" {
		t.Fatalf("storage failure must be retryable, got %+v %v", v, err)
	}
}

func TestDefaultCheckerReachesJudgedVerdict(t *testing.T) {
	t.Parallel()
	reg, err := BuildRegistry(nil, nil, DefaultConfig{})
	if err != nil {
		t.Fatalf("BuildRegistry: %v", err)
	}
	store := &memStorage{objects: map[string][]byte{
		"subs/ok":    []byte("42\n"),
		"subs/blank": []byte(" \n\t"),
	}}
	runner := NewRunner(reg, store, RunnerConfig{Bucket: "subs", WorkDir: t.TempDir()})
	task := &model.Task{ID: 5, Checker: DefaultName}

	v, err := runner.Run(context.Background(), &model.Submission{ID: 1, SourceKey: "ok"}, task)
	if err != nil || v.Status != model.StatusOK || *v.Points != defaultFullPoints {
		t.Fatalf("non-blank payload: %+v %v", v, err)
	}
	v, err = runner.Run(context.Background(), &model.Submission{ID: 2, SourceKey: "blank"}, task)
	if err != nil || v.Status != model.StatusError || *v.Points != 0 {
		t.Fatalf("blank payload: %+v %v", v, err)
	}
	v, err = runner.Run(context.Background(), &model.Submission{ID: 3}, task)
	if err != nil || v.Status != model.StatusError {
		t.Fatalf("missing payload: %+v %v", v, err)
	}
}

func TestDefaultCheckerComparesTokens(t *testing.T) {
	t.Parallel()
	answers := t.TempDir()
	if err := os.WriteFile(answers+"/5.ans", []byte("1 2\n3\n"), 0o644); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	check := DefaultChecker(DefaultConfig{AnswerDir: answers, Points: 30})
	tests := []struct {
		name       string
		payload    string
		wantStatus model.Status
	}{
		{"same tokens other layout", "1\n2 3", model.StatusOK},
		{"wrong token", "1 2 4", model.StatusError},
		{"too short", "1 2", model.StatusError},
		{"too long", "1 2 3 4", model.StatusError},
	}
	for _, tt := range tests {
		path := t.TempDir() + "/source"
		if err := os.WriteFile(path, []byte(tt.payload), 0o644); err != nil {
			t.Fatalf("write payload: %v", err)
		}
		v, err := check(context.Background(), Input{Task: &model.Task{ID: 5}, SourcePath: path})
		if err != nil || v.Status != tt.wantStatus {
			t.Fatalf("%s: %+v %v", tt.name, v, err)
		}
		if tt.wantStatus == model.StatusOK && *v.Points != 30 {
			t.Fatalf("%s: points = %d", tt.name, *v.Points)
		}
	}

	path := t.TempDir() + "/source"
	_ = os.WriteFile(path, []byte("1"), 0o644)
	if _, err := check(context.Background(), Input{Task: &model.Task{ID: 6}, SourcePath: path}); err == nil {
		t.Fatalf("missing answer file must be a checker failure")
	}
}

func TestBuildRegistryKeepsConfiguredDefault(t *testing.T) {
	t.Parallel()
	reg, err := BuildRegistry(nil, map[string]FuncChecker{DefaultName: FixedPoints(7)}, DefaultConfig{})
	if err != nil {
		t.Fatalf("BuildRegistry: %v", err)
	}
	v, err := NewRunner(reg, nil, RunnerConfig{}).Run(context.Background(), &model.Submission{ID: 1}, &model.Task{Checker: DefaultName})
	if err != nil || *v.Points != 7 {
		t.Fatalf("builtin default overridden: %+v %v", v, err)
	}
}
