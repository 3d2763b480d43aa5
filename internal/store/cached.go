package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bidarena/auction-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot reads: the auction state register and the team list
// backing the leaderboard. Writes go to the primary store; every committed
// auction mutation invalidates both keys, so observers never read a cached
// value older than the last commit plus the TTL.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

const (
	stateCacheKey = "auction:state"
	teamsCacheKey = "auction:teams"
)

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAuctionState(ctx context.Context) (*model.AuctionState, error) {
	data, err := s.rdb.Get(ctx, stateCacheKey).Bytes()
	if err == nil {
		var st model.AuctionState
		if json.Unmarshal(data, &st) == nil {
			return &st, nil
		}
	}

	st, err := s.primary.GetAuctionState(ctx)
	if err != nil {
		return nil, err
	}
	s.cacheState(ctx, st)
	return st, nil
}

func (s *CachedStore) ListTeams(ctx context.Context) ([]model.Team, error) {
	data, err := s.rdb.Get(ctx, teamsCacheKey).Bytes()
	if err == nil {
		var teams []model.Team
		if json.Unmarshal(data, &teams) == nil {
			return teams, nil
		}
	}

	teams, err := s.primary.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(teams); err == nil {
		s.rdb.Set(ctx, teamsCacheKey, data, s.ttl)
	}
	return teams, nil
}

// --- Write paths (write to primary, invalidate cache) ---

func (s *CachedStore) UpdateAuction(ctx context.Context, fn func(tx AuctionTx) error) error {
	if err := s.primary.UpdateAuction(ctx, fn); err != nil {
		return err
	}
	// Invalidate after commit; next read re-populates.
	s.rdb.Del(ctx, stateCacheKey, teamsCacheKey)
	return nil
}

func (s *CachedStore) EnsureAuctionState(ctx context.Context) (*model.AuctionState, error) {
	st, err := s.primary.EnsureAuctionState(ctx)
	if err != nil {
		return nil, err
	}
	s.cacheState(ctx, st)
	return st, nil
}

func (s *CachedStore) CreateTeam(ctx context.Context, t *model.Team) error {
	if err := s.primary.CreateTeam(ctx, t); err != nil {
		return err
	}
	s.rdb.Del(ctx, teamsCacheKey)
	return nil
}

func (s *CachedStore) CreatePlayer(ctx context.Context, p *model.Player) error {
	// The register's remaining count depends on the player set.
	if err := s.primary.CreatePlayer(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, stateCacheKey)
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetTeam(ctx context.Context, id uuid.UUID) (*model.Team, error) {
	return s.primary.GetTeam(ctx, id)
}

func (s *CachedStore) GetPlayer(ctx context.Context, id uuid.UUID) (*model.Player, error) {
	return s.primary.GetPlayer(ctx, id)
}

func (s *CachedStore) ListPlayers(ctx context.Context) ([]model.Player, error) {
	return s.primary.ListPlayers(ctx)
}

func (s *CachedStore) ListBidsForPlayer(ctx context.Context, playerID uuid.UUID) ([]model.Bid, error) {
	return s.primary.ListBidsForPlayer(ctx, playerID)
}

func (s *CachedStore) CountUnsoldPlayers(ctx context.Context) (int, error) {
	return s.primary.CountUnsoldPlayers(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheState(ctx context.Context, st *model.AuctionState) {
	if data, err := json.Marshal(st); err == nil {
		s.rdb.Set(ctx, stateCacheKey, data, s.ttl)
	}
}

var _ Store = (*CachedStore)(nil)
