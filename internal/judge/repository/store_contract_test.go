package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"simoj/internal/judge/model"
)

// fixture seeds one backend and hands out a Store over it.
type fixture struct {
	store     Store
	putUser   func(model.User)
	putTask   func(model.Task)
	putRound  func(model.Round)
	baseClock time.Time
}

func runStoreContract(t *testing.T, newFixture func(t *testing.T) *fixture) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newFixture(t)) })
	t.Run("ClaimIsExclusive", func(t *testing.T) { testClaimIsExclusive(t, newFixture(t)) })
	t.Run("ClaimOrder", func(t *testing.T) { testClaimOrder(t, newFixture(t)) })
	t.Run("CompleteGuards", func(t *testing.T) { testCompleteGuards(t, newFixture(t)) })
	t.Run("ReleaseExpiredOnce", func(t *testing.T) { testReleaseExpiredOnce(t, newFixture(t)) })
	t.Run("MarkResultOnce", func(t *testing.T) { testMarkResultOnce(t, newFixture(t)) })
	t.Run("RankQueries", func(t *testing.T) { testRankQueries(t, newFixture(t)) })
	t.Run("ConcurrentRefreshKeepsBest", func(t *testing.T) { testConcurrentRefreshKeepsBest(t, newFixture(t)) })
}

func seedBasic(f *fixture) {
	f.putUser(model.User{ID: 1, Username: "alice", Type: model.UserNormal})
	f.putUser(model.User{ID: 2, Username: "bob", Type: model.UserNormal})
	f.putTask(model.Task{ID: 1, Name: "sum", Checker: "default", Privileges: model.PrivilegeAll})
	f.putRound(model.Round{ID: 2, Parent: 1, Visible: true, Name: "contest", Privileges: model.PrivilegeAll})
}

func createWaiting(t *testing.T, f *fixture, userID int64, queued time.Time) int64 {
	t.Helper()
	id, err := f.store.Create(context.Background(), &model.Submission{
		UserID: userID, RoundID: 2, TaskID: 1, Time: queued, Queued: queued,
	}, []int64{2, 1})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return id
}

func testCreateAndGet(t *testing.T, f *fixture) {
	seedBasic(f)
	ctx := context.Background()
	id := createWaiting(t, f, 1, f.baseClock)

	sub, err := f.store.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if sub.Status != model.StatusWaiting || sub.Points != nil {
		t.Fatalf("new submission must be waiting without points: %+v", sub)
	}
	rounds, err := f.store.RoundsForSubmission(ctx, id)
	if err != nil {
		t.Fatalf("RoundsForSubmission: %v", err)
	}
	if len(rounds) != 2 || rounds[0] != 1 || rounds[1] != 2 {
		t.Fatalf("rounds = %v, want [1 2]", rounds)
	}
	if _, err := f.store.GetByID(ctx, id+1000); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("expected ErrSubmissionNotFound, got %v", err)
	}
}

func testClaimIsExclusive(t *testing.T, f *fixture) {
	seedBasic(f)
	ctx := context.Background()
	now := f.baseClock
	createWaiting(t, f, 1, now)

	var wg sync.WaitGroup
	results := make([]*model.Submission, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			claimID := []string{"claim-a", "claim-b"}[i]
			results[i], errs[i] = f.store.ClaimNext(ctx, claimID, now, now.Add(time.Minute))
		}(i)
	}
	wg.Wait()
	got := 0
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("ClaimNext: %v", errs[i])
		}
		if results[i] != nil {
			got++
		}
	}
	if got != 1 {
		t.Fatalf("exactly one worker must win the claim, got %d", got)
	}
	stats, err := f.store.CountQueue(ctx, now)
	if err != nil {
		t.Fatalf("CountQueue: %v", err)
	}
	if stats.Claimed != 1 || stats.Waiting != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func testClaimOrder(t *testing.T, f *fixture) {
	seedBasic(f)
	ctx := context.Background()
	now := f.baseClock
	later := createWaiting(t, f, 1, now.Add(time.Second))
	first := createWaiting(t, f, 2, now)
	tie := createWaiting(t, f, 1, now)

	order := []int64{first, tie, later}
	for i, want := range order {
		sub, err := f.store.ClaimNext(ctx, "c", now.Add(2*time.Second), now.Add(time.Minute))
		if err != nil || sub == nil {
			t.Fatalf("claim %d: %v %v", i, sub, err)
		}
		if sub.ID != want {
			t.Fatalf("claim %d got submission %d, want %d", i, sub.ID, want)
		}
		if sub.Attempts != 1 {
			t.Fatalf("attempts = %d", sub.Attempts)
		}
	}
	sub, err := f.store.ClaimNext(ctx, "c", now.Add(2*time.Second), now.Add(time.Minute))
	if err != nil || sub != nil {
		t.Fatalf("empty queue must return nil, got %v %v", sub, err)
	}
}

func testCompleteGuards(t *testing.T, f *fixture) {
	seedBasic(f)
	ctx := context.Background()
	now := f.baseClock
	id := createWaiting(t, f, 1, now)

	if _, err := f.store.ClaimNext(ctx, "old", now, now.Add(time.Second)); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	// The lease lapses and another worker takes over.
	stolen, err := f.store.ClaimNext(ctx, "new", now.Add(2*time.Second), now.Add(time.Minute))
	if err != nil || stolen == nil || stolen.ID != id || stolen.Attempts != 2 {
		t.Fatalf("reclaim failed: %+v %v", stolen, err)
	}
	if err := f.store.ExtendClaim(ctx, id, "old", now.Add(2*time.Second), now.Add(time.Hour)); !errors.Is(err, ErrClaimLost) {
		t.Fatalf("stale extend: expected ErrClaimLost, got %v", err)
	}
	if err := f.store.Complete(ctx, id, "old", model.Accepted(10), now); !errors.Is(err, ErrClaimLost) {
		t.Fatalf("stale complete: expected ErrClaimLost, got %v", err)
	}
	if err := f.store.ExtendClaim(ctx, id, "new", now.Add(3*time.Second), now.Add(2*time.Minute)); err != nil {
		t.Fatalf("ExtendClaim: %v", err)
	}
	if err := f.store.Complete(ctx, id, "new", model.Accepted(80), now.Add(3*time.Second)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := f.store.Complete(ctx, id, "new", model.Accepted(90), now.Add(4*time.Second)); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("double complete: expected ErrAlreadyTerminal, got %v", err)
	}
	sub, err := f.store.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if sub.Status != model.StatusOK || sub.Points == nil || *sub.Points != 80 || sub.Judged == nil {
		t.Fatalf("unexpected final state: %+v", sub)
	}
}

func testReleaseExpiredOnce(t *testing.T, f *fixture) {
	seedBasic(f)
	ctx := context.Background()
	now := f.baseClock
	createWaiting(t, f, 1, now)
	createWaiting(t, f, 2, now)

	if _, err := f.store.ClaimNext(ctx, "a", now, now.Add(time.Second)); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if n, err := f.store.ReleaseExpired(ctx, now); err != nil || n != 0 {
		t.Fatalf("live claim released: %d %v", n, err)
	}
	after := now.Add(5 * time.Second)
	if n, err := f.store.ReleaseExpired(ctx, after); err != nil || n != 1 {
		t.Fatalf("first release = %d, %v; want 1", n, err)
	}
	if n, err := f.store.ReleaseExpired(ctx, after); err != nil || n != 0 {
		t.Fatalf("second release = %d, %v; want 0", n, err)
	}
	stats, err := f.store.CountQueue(ctx, after)
	if err != nil {
		t.Fatalf("CountQueue: %v", err)
	}
	if stats.Waiting != 2 || stats.Claimed != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func testMarkResultOnce(t *testing.T, f *fixture) {
	seedBasic(f)
	ctx := context.Background()
	id := createWaiting(t, f, 1, f.baseClock)

	if err := f.store.MarkResult(ctx, id, model.CheckerFailed("crash"), f.baseClock); err != nil {
		t.Fatalf("MarkResult: %v", err)
	}
	if err := f.store.MarkResult(ctx, id, model.Accepted(1), f.baseClock); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
	if err := f.store.MarkResult(ctx, id+1000, model.Accepted(1), f.baseClock); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("expected ErrSubmissionNotFound, got %v", err)
	}
	sub, _ := f.store.GetByID(ctx, id)
	if sub.Status != model.StatusCError || sub.Points != nil {
		t.Fatalf("c_error must carry no points: %+v", sub)
	}
}

func testRankQueries(t *testing.T, f *fixture) {
	seedBasic(f)
	ctx := context.Background()
	now := f.baseClock
	a1 := createWaiting(t, f, 1, now)
	a2 := createWaiting(t, f, 1, now)
	b1 := createWaiting(t, f, 2, now)
	b2 := createWaiting(t, f, 2, now)
	mustMark := func(id int64, v model.Verdict) {
		if err := f.store.MarkResult(ctx, id, v, now); err != nil {
			t.Fatalf("MarkResult(%d): %v", id, err)
		}
	}
	mustMark(a1, model.Accepted(80))
	mustMark(a2, model.Accepted(60))
	mustMark(b1, model.CheckerFailed("crash"))

	best, err := f.store.BestPoints(ctx, 1, 2)
	if err != nil || best == nil || *best != 80 {
		t.Fatalf("BestPoints(alice) = %v, %v", best, err)
	}
	best, err = f.store.BestPoints(ctx, 2, 2)
	if err != nil || best != nil {
		t.Fatalf("c_error and waiting must not score: %v, %v", best, err)
	}
	mustMark(b2, model.Rejected("wrong"))
	best, _ = f.store.BestPoints(ctx, 2, 1)
	if best == nil || *best != 0 {
		t.Fatalf("error verdict must score zero in ancestor round: %v", best)
	}

	computed, err := f.store.ComputeRanking(ctx, 2)
	if err != nil {
		t.Fatalf("ComputeRanking: %v", err)
	}
	if len(computed) != 2 || computed[0] != (model.RankEntry{UserID: 1, Points: 80}) || computed[1] != (model.RankEntry{UserID: 2, Points: 0}) {
		t.Fatalf("computed = %v", computed)
	}

	for _, userID := range []int64{1, 2} {
		if _, err := f.store.RefreshRank(ctx, userID, 2); err != nil {
			t.Fatalf("RefreshRank(%d): %v", userID, err)
		}
	}
	listed, err := f.store.ListRanks(ctx, 2)
	if err != nil {
		t.Fatalf("ListRanks: %v", err)
	}
	if len(listed) != len(computed) || listed[0] != computed[0] || listed[1] != computed[1] {
		t.Fatalf("listed %v != computed %v", listed, computed)
	}
	best, err = f.store.RefreshRank(ctx, 3, 2)
	if err != nil || best != nil {
		t.Fatalf("RefreshRank without submissions = %v, %v", best, err)
	}
	listed, _ = f.store.ListRanks(ctx, 2)
	if len(listed) != 2 {
		t.Fatalf("empty refresh must not store a rank: %v", listed)
	}

	users, err := f.store.Participants(ctx, 1)
	if err != nil || len(users) != 2 || users[0] != 1 || users[1] != 2 {
		t.Fatalf("Participants = %v, %v", users, err)
	}
}

// Each writer scores one submission and refreshes right after; whatever the
// interleaving the stored rank must end at the overall best.
func testConcurrentRefreshKeepsBest(t *testing.T, f *fixture) {
	seedBasic(f)
	ctx := context.Background()
	const writers = 8
	ids := make([]int64, writers)
	for i := range ids {
		ids[i] = createWaiting(t, f, 1, f.baseClock)
	}

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i, id := range ids {
		wg.Add(1)
		go func(points, id int64) {
			defer wg.Done()
			if err := f.store.MarkResult(ctx, id, model.Accepted(points), f.baseClock); err != nil {
				errs <- err
				return
			}
			for attempt := 0; ; attempt++ {
				_, err := f.store.RefreshRank(ctx, 1, 2)
				if err == nil {
					return
				}
				if attempt == 5 {
					errs <- err
					return
				}
			}
		}(int64(10*(i+1)), id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("writer: %v", err)
	}

	listed, err := f.store.ListRanks(ctx, 2)
	if err != nil {
		t.Fatalf("ListRanks: %v", err)
	}
	if len(listed) != 1 || listed[0].Points != 10*writers {
		t.Fatalf("ranks = %v, want best %d", listed, 10*writers)
	}
}
