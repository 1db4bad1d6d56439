package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"simoj/internal/judge/model"
)

// MemoryStore is an in-process Store with the same conditional-update
// semantics as the MySQL repositories. It backs tests and single-node demos.
type MemoryStore struct {
	mu          sync.Mutex
	users       map[int64]model.User
	tasks       map[int64]model.Task
	rounds      map[int64]model.Round
	submissions map[int64]*memSubmission
	links       []model.SubmissionToRound
	ranks       map[rankKey]int64
	nextID      int64
}

type memSubmission struct {
	sub          model.Submission
	claimID      string
	claimExpires *time.Time
}

type rankKey struct {
	userID  int64
	roundID int64
}

// NewMemoryStore returns an empty store seeded with the root round.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		users:       make(map[int64]model.User),
		tasks:       make(map[int64]model.Task),
		rounds:      make(map[int64]model.Round),
		submissions: make(map[int64]*memSubmission),
		ranks:       make(map[rankKey]int64),
	}
	s.rounds[model.RootRoundID] = model.Round{ID: model.RootRoundID, Parent: model.RootRoundID, Visible: true, Privileges: model.PrivilegeAll}
	return s
}

// PutUser inserts or replaces a user.
func (s *MemoryStore) PutUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// PutTask inserts or replaces a task.
func (s *MemoryStore) PutTask(t model.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
}

// PutRound inserts or replaces a round.
func (s *MemoryStore) PutRound(r model.Round) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds[r.ID] = r
}

func (s *MemoryStore) GetUser(_ context.Context, id int64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (s *MemoryStore) GetTask(_ context.Context, id int64) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return &t, nil
}

func (s *MemoryStore) GetRound(_ context.Context, id int64) (*model.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[id]
	if !ok {
		return nil, ErrRoundNotFound
	}
	return &r, nil
}

func (s *MemoryStore) Create(_ context.Context, submission *model.Submission, roundIDs []int64) (int64, error) {
	if submission == nil {
		return 0, errors.New("submission is nil")
	}
	if len(roundIDs) == 0 {
		return 0, errors.New("at least one round is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sub := *submission
	sub.ID = s.nextID
	sub.Status = model.StatusWaiting
	sub.Points = nil
	sub.Judged = nil
	sub.Attempts = 0
	s.submissions[sub.ID] = &memSubmission{sub: sub}
	for _, roundID := range roundIDs {
		s.links = append(s.links, model.SubmissionToRound{
			RoundID:      roundID,
			SubmissionID: sub.ID,
			UserID:       sub.UserID,
			Time:         sub.Time,
		})
	}
	return sub.ID, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id int64) (*model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.submissions[id]
	if !ok {
		return nil, ErrSubmissionNotFound
	}
	return m.snapshot(), nil
}

func (s *MemoryStore) RoundsForSubmission(_ context.Context, id int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for _, link := range s.links {
		if link.SubmissionID == id {
			ids = append(ids, link.RoundID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryStore) MarkResult(_ context.Context, id int64, verdict model.Verdict, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.submissions[id]
	if !ok {
		return ErrSubmissionNotFound
	}
	if m.sub.Status != model.StatusWaiting {
		return ErrAlreadyTerminal
	}
	m.finish(verdict, now)
	return nil
}

func (s *MemoryStore) ClaimNext(_ context.Context, claimID string, now, expires time.Time) (*model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *memSubmission
	for _, m := range s.submissions {
		if !m.claimable(now) {
			continue
		}
		if best == nil || m.sub.Queued.Before(best.sub.Queued) ||
			(m.sub.Queued.Equal(best.sub.Queued) && m.sub.ID < best.sub.ID) {
			best = m
		}
	}
	if best == nil {
		return nil, nil
	}
	best.claimID = claimID
	exp := expires
	best.claimExpires = &exp
	best.sub.Attempts++
	return best.snapshot(), nil
}

func (s *MemoryStore) Complete(_ context.Context, id int64, claimID string, verdict model.Verdict, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.submissions[id]
	if !ok {
		return ErrSubmissionNotFound
	}
	if m.sub.Status != model.StatusWaiting {
		return ErrAlreadyTerminal
	}
	if m.claimID != claimID {
		return ErrClaimLost
	}
	m.finish(verdict, now)
	return nil
}

func (s *MemoryStore) ExtendClaim(_ context.Context, id int64, claimID string, now, expires time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.submissions[id]
	if !ok {
		return ErrSubmissionNotFound
	}
	if m.sub.Status != model.StatusWaiting {
		return ErrAlreadyTerminal
	}
	if m.claimID != claimID || m.claimExpires == nil || !m.claimExpires.After(now) {
		return ErrClaimLost
	}
	exp := expires
	m.claimExpires = &exp
	return nil
}

func (s *MemoryStore) ReleaseExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var released int64
	for _, m := range s.submissions {
		if m.sub.Status == model.StatusWaiting && m.claimID != "" && m.claimExpires != nil && !m.claimExpires.After(now) {
			m.claimID = ""
			m.claimExpires = nil
			released++
		}
	}
	return released, nil
}

func (s *MemoryStore) CountQueue(_ context.Context, now time.Time) (model.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats model.QueueStats
	for _, m := range s.submissions {
		if m.sub.Status != model.StatusWaiting {
			continue
		}
		if m.claimID != "" && m.claimExpires != nil && m.claimExpires.After(now) {
			stats.Claimed++
		} else {
			stats.Waiting++
		}
	}
	return stats, nil
}

func (s *MemoryStore) BestPoints(_ context.Context, userID, roundID int64) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bestLocked(userID, roundID), nil
}

func (s *MemoryStore) bestLocked(userID, roundID int64) *int64 {
	var best *int64
	for _, link := range s.links {
		if link.RoundID != roundID || link.UserID != userID {
			continue
		}
		m := s.submissions[link.SubmissionID]
		if m == nil || !m.sub.Status.Scored() || m.sub.Points == nil {
			continue
		}
		if best == nil || *m.sub.Points > *best {
			p := *m.sub.Points
			best = &p
		}
	}
	return best
}

func (s *MemoryStore) RefreshRank(_ context.Context, userID, roundID int64) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rankKey{userID: userID, roundID: roundID}
	best := s.bestLocked(userID, roundID)
	if best == nil {
		delete(s.ranks, key)
		return nil, nil
	}
	s.ranks[key] = *best
	return best, nil
}

// UpsertRank overwrites a stored rank without consulting submissions.
func (s *MemoryStore) UpsertRank(rank model.Rank) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ranks[rankKey{userID: rank.UserID, roundID: rank.RoundID}] = rank.Points
}

// DeleteRank drops a stored rank without consulting submissions.
func (s *MemoryStore) DeleteRank(userID, roundID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ranks, rankKey{userID: userID, roundID: roundID})
}

func (s *MemoryStore) ListRanks(_ context.Context, roundID int64) ([]model.RankEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]model.RankEntry, 0)
	for k, points := range s.ranks {
		if k.roundID == roundID {
			entries = append(entries, model.RankEntry{UserID: k.userID, Points: points})
		}
	}
	model.SortRanking(entries)
	return entries, nil
}

func (s *MemoryStore) ComputeRanking(_ context.Context, roundID int64) ([]model.RankEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]model.RankEntry, 0)
	for _, userID := range s.participantsLocked(roundID) {
		if best := s.bestLocked(userID, roundID); best != nil {
			entries = append(entries, model.RankEntry{UserID: userID, Points: *best})
		}
	}
	model.SortRanking(entries)
	return entries, nil
}

func (s *MemoryStore) Participants(_ context.Context, roundID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participantsLocked(roundID), nil
}

func (s *MemoryStore) participantsLocked(roundID int64) []int64 {
	seen := make(map[int64]struct{})
	var ids []int64
	for _, link := range s.links {
		if link.RoundID != roundID {
			continue
		}
		if _, ok := seen[link.UserID]; ok {
			continue
		}
		seen[link.UserID] = struct{}{}
		ids = append(ids, link.UserID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *memSubmission) claimable(now time.Time) bool {
	return m.sub.Status == model.StatusWaiting && (m.claimExpires == nil || !m.claimExpires.After(now))
}

func (m *memSubmission) finish(verdict model.Verdict, now time.Time) {
	m.sub.Status = verdict.Status
	if verdict.Points != nil {
		p := *verdict.Points
		m.sub.Points = &p
	} else {
		m.sub.Points = nil
	}
	judged := now
	m.sub.Judged = &judged
	m.claimID = ""
	m.claimExpires = nil
}

func (m *memSubmission) snapshot() *model.Submission {
	sub := m.sub
	if m.sub.Points != nil {
		p := *m.sub.Points
		sub.Points = &p
	}
	if m.sub.Judged != nil {
		t := *m.sub.Judged
		sub.Judged = &t
	}
	return &sub
}

var _ Store = (*MemoryStore)(nil)
