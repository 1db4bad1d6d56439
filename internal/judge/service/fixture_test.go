package service

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"simoj/internal/judge/model"
	"simoj/internal/judge/repository"
)

// Round tree used across tests: 4 -> 3 -> 2 -> 1 (root).
const (
	roundP2    int64 = 2
	roundP1    int64 = 3
	roundR     int64 = 4
	roundHide  int64 = 5
	roundStaff int64 = 6

	taskA     int64 = 10
	taskB     int64 = 11
	taskOther int64 = 12
	taskAdmin int64 = 13

	userAlice   int64 = 100
	userBob     int64 = 101
	userTeacher int64 = 102
	userAdmin   int64 = 103
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func int64Ptr(v int64) *int64 { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func newSeededStore(t *testing.T) *repository.MemoryStore {
	t.Helper()
	store := repository.NewMemoryStore()
	store.PutUser(model.User{ID: userAlice, Username: "alice", Type: model.UserNormal})
	store.PutUser(model.User{ID: userBob, Username: "bob", Type: model.UserNormal})
	store.PutUser(model.User{ID: userTeacher, Username: "tess", Type: model.UserTeacher})
	store.PutUser(model.User{ID: userAdmin, Username: "root", Type: model.UserAdmin})

	store.PutTask(model.Task{ID: taskA, Name: "sum", Checker: "fixed", Privileges: model.PrivilegeAll})
	store.PutTask(model.Task{ID: taskB, Name: "max", Checker: "fixed", Privileges: model.PrivilegeAll})
	store.PutTask(model.Task{ID: taskOther, Name: "other", Checker: "fixed", Privileges: model.PrivilegeAll})
	store.PutTask(model.Task{ID: taskAdmin, Name: "secret", Checker: "fixed", Privileges: model.PrivilegeAdmin})

	store.PutRound(model.Round{ID: roundP2, Parent: model.RootRoundID, Visible: true, Name: "contest", Privileges: model.PrivilegeAll})
	store.PutRound(model.Round{ID: roundP1, Parent: roundP2, Visible: true, Name: "day 1", Privileges: model.PrivilegeAll, TaskID: int64Ptr(taskB)})
	store.PutRound(model.Round{ID: roundR, Parent: roundP1, Visible: true, Name: "problem A", Privileges: model.PrivilegeAll, TaskID: int64Ptr(taskA)})
	store.PutRound(model.Round{ID: roundHide, Parent: model.RootRoundID, Visible: false, Name: "hidden", Privileges: model.PrivilegeAll})
	store.PutRound(model.Round{ID: roundStaff, Parent: model.RootRoundID, Visible: true, Name: "staff", Privileges: model.PrivilegeTeacher})
	return store
}

func newTestSubmitService(t *testing.T, store *repository.MemoryStore, clock *testClock, hook TerminalHandler) *SubmitService {
	t.Helper()
	svc, err := NewSubmitService(SubmitConfig{Store: store, OnTerminal: hook, Now: clock.Now})
	if err != nil {
		t.Fatalf("NewSubmitService: %v", err)
	}
	return svc
}

func newTestAggregator(t *testing.T, store *repository.MemoryStore) *Aggregator {
	t.Helper()
	agg, err := NewAggregator(AggregatorConfig{Store: store, Retry: RetryPolicy{MaxAttempts: 3}})
	if err != nil {
		t.Fatalf("NewAggregator: %v", err)
	}
	return agg
}

func mustSubmit(t *testing.T, svc *SubmitService, userID, roundID, taskID int64) *model.Submission {
	t.Helper()
	sub, err := svc.Create(context.Background(), SubmitInput{UserID: userID, RoundID: roundID, TaskID: taskID})
	if err != nil {
		t.Fatalf("Create(%d, %d, %d): %v", userID, roundID, taskID, err)
	}
	return sub
}

type recordingEvents struct {
	mu       sync.Mutex
	verdicts []model.VerdictEvent
	ranks    []model.RankEvent
	err      error
}

func (r *recordingEvents) PublishVerdict(_ context.Context, event model.VerdictEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verdicts = append(r.verdicts, event)
	return r.err
}

func (r *recordingEvents) PublishRank(_ context.Context, event model.RankEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ranks = append(r.ranks, event)
	return r.err
}

func (r *recordingEvents) verdictCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.verdicts)
}

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (m *memObjects) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memObjects) PutObject(_ context.Context, bucket, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[bucket+"/"+key] = data
	m.mu.Unlock()
	return nil
}
