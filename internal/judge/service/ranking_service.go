package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"simoj/internal/common/cache"
	"simoj/internal/judge/model"
	"simoj/internal/judge/repository"
	appErr "simoj/pkg/errors"
)

// RankingSource selects where a ranking is read from.
type RankingSource string

const (
	// SourceTable reads materialized ranks through the cache.
	SourceTable RankingSource = "table"
	// SourceCompute derives the ranking from submissions.
	SourceCompute RankingSource = "compute"
)

const (
	defaultRankingTTL      = 30 * time.Second
	defaultRankingEmptyTTL = 5 * time.Second
)

// RankingStore is what the ranking service needs from persistence.
type RankingStore interface {
	RoundReader
	ListRanks(ctx context.Context, roundID int64) ([]model.RankEntry, error)
	ComputeRanking(ctx context.Context, roundID int64) ([]model.RankEntry, error)
}

// RankingConfig holds ranking service dependencies and settings.
type RankingConfig struct {
	Store RankingStore
	// Cache fronts the ranks table; nil reads the table every time.
	Cache    cache.Cache
	TTL      time.Duration
	EmptyTTL time.Duration
	Now      func() time.Time
}

// RankingService publishes round rankings.
type RankingService struct {
	store    RankingStore
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
	now      func() time.Time
}

// NewRankingService creates a ranking service.
func NewRankingService(cfg RankingConfig) (*RankingService, error) {
	if cfg.Store == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("ranking store is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultRankingTTL
	}
	emptyTTL := cfg.EmptyTTL
	if emptyTTL <= 0 {
		emptyTTL = defaultRankingEmptyTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &RankingService{store: cfg.Store, cache: cfg.Cache, ttl: ttl, emptyTTL: emptyTTL, now: now}, nil
}

// ParseRankingSource maps a query value to a source; empty selects the table.
func ParseRankingSource(raw string) (RankingSource, error) {
	switch RankingSource(raw) {
	case "", SourceTable:
		return SourceTable, nil
	case SourceCompute:
		return SourceCompute, nil
	}
	return "", appErr.ValidationError("source", "must be table or compute")
}

// GetRanking returns the ranking of roundID ordered by points desc, user id asc.
// Until the round's full judge time only privileged viewers may see it.
func (s *RankingService) GetRanking(ctx context.Context, roundID int64, source RankingSource, viewer model.UserType) ([]model.RankEntry, error) {
	if roundID <= 0 {
		return nil, appErr.ValidationError("round_id", "required")
	}
	round, err := s.store.GetRound(ctx, roundID)
	if err != nil {
		if errors.Is(err, repository.ErrRoundNotFound) {
			return nil, appErr.Newf(appErr.RoundNotFound, "round %d not found", roundID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get round failed")
	}
	if fj := round.FullJudgeTime; fj != nil && s.now().Before(*fj) && !viewer.Privileged() {
		return nil, appErr.Newf(appErr.RankingNotAvailable, "ranking of round %d is hidden until %s", roundID, fj.UTC().Format(time.RFC3339))
	}

	var entries []model.RankEntry
	switch source {
	case SourceCompute:
		entries, err = s.store.ComputeRanking(ctx, roundID)
	case SourceTable, "":
		entries, err = s.cachedRanks(ctx, roundID)
	default:
		return nil, appErr.ValidationError("source", "must be table or compute")
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load ranking of round %d failed", roundID)
	}
	if entries == nil {
		entries = []model.RankEntry{}
	}
	model.SortRanking(entries)
	return entries, nil
}

func (s *RankingService) cachedRanks(ctx context.Context, roundID int64) ([]model.RankEntry, error) {
	if s.cache == nil {
		return s.store.ListRanks(ctx, roundID)
	}
	return cache.GetWithVersioned(
		ctx,
		s.cache,
		rankingGenKey(roundID),
		rankingCacheKey(roundID),
		cache.JitterTTL(s.ttl),
		s.emptyTTL,
		func(entries []model.RankEntry) bool { return len(entries) == 0 },
		marshalRanking,
		unmarshalRanking,
		func(ctx context.Context) ([]model.RankEntry, error) {
			return s.store.ListRanks(ctx, roundID)
		},
	)
}

func marshalRanking(entries []model.RankEntry) string {
	data, err := json.Marshal(entries)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalRanking(data string) ([]model.RankEntry, error) {
	var entries []model.RankEntry
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
