package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bidarena/auction-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
//
// A buffered-channel semaphore plays the role of the database row lock:
// UpdateAuction acquires it exclusively, honours context cancellation with
// ErrBusy, and applies the transaction's staged copies only on commit, so
// readers never observe uncommitted effects.
type MemoryStore struct {
	mu      sync.RWMutex
	teams   map[uuid.UUID]*model.Team
	players map[uuid.UUID]*model.Player
	bids    []model.Bid
	state   *model.AuctionState

	lock chan struct{} // capacity 1; held for the duration of UpdateAuction
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		teams:   make(map[uuid.UUID]*model.Team),
		players: make(map[uuid.UUID]*model.Player),
		lock:    make(chan struct{}, 1),
	}
}

func (s *MemoryStore) CreateTeam(_ context.Context, t *model.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.teams {
		if existing.Name == t.Name || existing.Code == t.Code {
			return fmt.Errorf("team %s/%s already exists", t.Name, t.Code)
		}
	}
	copy := *t
	s.teams[t.ID] = &copy
	return nil
}

func (s *MemoryStore) CreatePlayer(_ context.Context, p *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *p
	s.players[p.ID] = &copy
	return nil
}

func (s *MemoryStore) GetTeam(_ context.Context, id uuid.UUID) (*model.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.teams[id]
	if !ok {
		return nil, fmt.Errorf("team %s: %w", id, ErrNotFound)
	}
	copy := *t
	return &copy, nil
}

func (s *MemoryStore) ListTeams(_ context.Context) ([]model.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	teams := make([]model.Team, 0, len(s.teams))
	for _, t := range s.teams {
		teams = append(teams, *t)
	}
	sort.SliceStable(teams, func(i, j int) bool {
		if teams[i].TotalPoints != teams[j].TotalPoints {
			return teams[i].TotalPoints > teams[j].TotalPoints
		}
		return teams[i].PurseBalance.GreaterThan(teams[j].PurseBalance)
	})
	return teams, nil
}

func (s *MemoryStore) GetPlayer(_ context.Context, id uuid.UUID) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.players[id]
	if !ok {
		return nil, fmt.Errorf("player %s: %w", id, ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) ListPlayers(_ context.Context) ([]model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	players := make([]model.Player, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, *p)
	}
	sort.SliceStable(players, func(i, j int) bool {
		return players[i].CreatedAt.Before(players[j].CreatedAt)
	})
	return players, nil
}

func (s *MemoryStore) ListBidsForPlayer(_ context.Context, playerID uuid.UUID) ([]model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var bids []model.Bid
	for _, b := range s.bids {
		if b.PlayerID == playerID {
			bids = append(bids, b)
		}
	}
	return bids, nil
}

func (s *MemoryStore) CountUnsoldPlayers(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countUnsoldLocked(), nil
}

func (s *MemoryStore) countUnsoldLocked() int {
	count := 0
	for _, p := range s.players {
		if !p.IsSold {
			count++
		}
	}
	return count
}

func (s *MemoryStore) GetAuctionState(_ context.Context) (*model.AuctionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == nil {
		return nil, fmt.Errorf("auction state: %w", ErrNotFound)
	}
	copy := *s.state
	return &copy, nil
}

func (s *MemoryStore) EnsureAuctionState(_ context.Context) (*model.AuctionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		s.state = &model.AuctionState{
			ID:         1,
			Status:     model.StatusWaiting,
			CurrentBid: decimal.Zero,
		}
	}
	s.state.RemainingPlayersCount = s.countUnsoldLocked()
	copy := *s.state
	return &copy, nil
}

// UpdateAuction serializes mutations through the channel lock. fn operates
// on staged copies; the copies replace the live data only when fn succeeds.
func (s *MemoryStore) UpdateAuction(ctx context.Context, fn func(tx AuctionTx) error) error {
	select {
	case s.lock <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("acquire auction lock: %w", ErrBusy)
	}
	defer func() { <-s.lock }()

	tx, err := s.beginTx()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.teams = tx.teams
	s.players = tx.players
	s.bids = tx.bids
	s.state = tx.state
	s.mu.Unlock()
	return nil
}

// memTx stages a full copy of the store's data for one transaction.
type memTx struct {
	teams   map[uuid.UUID]*model.Team
	players map[uuid.UUID]*model.Player
	bids    []model.Bid
	state   *model.AuctionState
}

func (s *MemoryStore) beginTx() (*memTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == nil {
		return nil, fmt.Errorf("auction state: %w", ErrNotFound)
	}

	tx := &memTx{
		teams:   make(map[uuid.UUID]*model.Team, len(s.teams)),
		players: make(map[uuid.UUID]*model.Player, len(s.players)),
		bids:    make([]model.Bid, len(s.bids)),
	}
	for id, t := range s.teams {
		copy := *t
		tx.teams[id] = &copy
	}
	for id, p := range s.players {
		copy := *p
		tx.players[id] = &copy
	}
	copy(tx.bids, s.bids)
	st := *s.state
	tx.state = &st
	return tx, nil
}

func (t *memTx) State() *model.AuctionState { return t.state }

func (t *memTx) GetPlayer(_ context.Context, id uuid.UUID) (*model.Player, error) {
	p, ok := t.players[id]
	if !ok {
		return nil, fmt.Errorf("player %s: %w", id, ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (t *memTx) GetTeam(_ context.Context, id uuid.UUID) (*model.Team, error) {
	team, ok := t.teams[id]
	if !ok {
		return nil, fmt.Errorf("team %s: %w", id, ErrNotFound)
	}
	copy := *team
	return &copy, nil
}

func (t *memTx) InsertBid(_ context.Context, b *model.Bid) error {
	t.bids = append(t.bids, *b)
	return nil
}

func (t *memTx) MarkPlayerSold(_ context.Context, playerID, teamID uuid.UUID, price decimal.Decimal) error {
	p, ok := t.players[playerID]
	if !ok {
		return fmt.Errorf("player %s: %w", playerID, ErrNotFound)
	}
	p.IsSold = true
	soldPrice := price
	p.SoldPrice = &soldPrice
	owner := teamID
	p.TeamID = &owner
	return nil
}

func (t *memTx) ApplySaleToTeam(_ context.Context, teamID uuid.UUID, debit decimal.Decimal, points int) error {
	team, ok := t.teams[teamID]
	if !ok {
		return fmt.Errorf("team %s: %w", teamID, ErrNotFound)
	}
	team.PurseBalance = team.PurseBalance.Sub(debit)
	team.TotalPoints += points
	team.PlayersCount++
	return nil
}

func (t *memTx) ResetTeams(_ context.Context, initialPurse decimal.Decimal) error {
	for _, team := range t.teams {
		team.PurseBalance = initialPurse
		team.TotalPoints = 0
		team.PlayersCount = 0
	}
	return nil
}

func (t *memTx) ResetPlayers(_ context.Context) error {
	for _, p := range t.players {
		p.IsSold = false
		p.SoldPrice = nil
		p.TeamID = nil
	}
	return nil
}

func (t *memTx) PurgeBids(_ context.Context) error {
	t.bids = t.bids[:0]
	return nil
}

func (t *memTx) CountPlayers(_ context.Context) (int, error) {
	return len(t.players), nil
}

var _ Store = (*MemoryStore)(nil)
