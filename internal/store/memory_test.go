package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bidarena/auction-engine/internal/model"
	"github.com/bidarena/auction-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newSeededStore(t *testing.T) (*store.MemoryStore, *model.Team, *model.Player) {
	t.Helper()
	ms := store.NewMemoryStore()
	ctx := context.Background()

	team := &model.Team{
		ID:           uuid.New(),
		Name:         "Strikers",
		Code:         "STR",
		PurseBalance: d(1000),
		CreatedAt:    time.Now().UTC(),
	}
	if err := ms.CreateTeam(ctx, team); err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}

	player := &model.Player{
		ID:        uuid.New(),
		Name:      "Rohan",
		Role:      "batsman",
		BasePrice: d(100),
		Points:    50,
		CreatedAt: time.Now().UTC(),
	}
	if err := ms.CreatePlayer(ctx, player); err != nil {
		t.Fatalf("CreatePlayer: %v", err)
	}

	if _, err := ms.EnsureAuctionState(ctx); err != nil {
		t.Fatalf("EnsureAuctionState: %v", err)
	}
	return ms, team, player
}

func TestUpdateAuction_RollsBackOnError(t *testing.T) {
	ms, team, player := newSeededStore(t)
	ctx := context.Background()

	sentinel := errors.New("boom")
	err := ms.UpdateAuction(ctx, func(tx store.AuctionTx) error {
		if err := tx.ApplySaleToTeam(ctx, team.ID, d(500), 10); err != nil {
			return err
		}
		if err := tx.MarkPlayerSold(ctx, player.ID, team.ID, d(500)); err != nil {
			return err
		}
		tx.State().Version = 99
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}

	gotTeam, _ := ms.GetTeam(ctx, team.ID)
	if !gotTeam.PurseBalance.Equal(d(1000)) || gotTeam.TotalPoints != 0 {
		t.Errorf("team mutated despite rollback: purse=%s points=%d",
			gotTeam.PurseBalance, gotTeam.TotalPoints)
	}
	gotPlayer, _ := ms.GetPlayer(ctx, player.ID)
	if gotPlayer.IsSold {
		t.Error("player mutated despite rollback")
	}
	st, _ := ms.GetAuctionState(ctx)
	if st.Version != 0 {
		t.Errorf("state version = %d, want 0", st.Version)
	}
}

func TestUpdateAuction_ReadersSeeNoUncommittedState(t *testing.T) {
	ms, team, _ := newSeededStore(t)
	ctx := context.Background()

	err := ms.UpdateAuction(ctx, func(tx store.AuctionTx) error {
		if err := tx.ApplySaleToTeam(ctx, team.ID, d(500), 10); err != nil {
			return err
		}
		// A concurrent reader mid-transaction still sees the committed
		// snapshot, not the staged mutation.
		live, err := ms.GetTeam(ctx, team.ID)
		if err != nil {
			return err
		}
		if !live.PurseBalance.Equal(d(1000)) {
			t.Errorf("reader saw uncommitted purse %s", live.PurseBalance)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateAuction: %v", err)
	}

	after, _ := ms.GetTeam(ctx, team.ID)
	if !after.PurseBalance.Equal(d(500)) {
		t.Errorf("commit not applied: purse=%s", after.PurseBalance)
	}
}

func TestUpdateAuction_BusyWhenLockHeld(t *testing.T) {
	ms, _, _ := newSeededStore(t)

	locked := make(chan struct{})
	release := make(chan struct{})
	go func() {
		ms.UpdateAuction(context.Background(), func(tx store.AuctionTx) error {
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := ms.UpdateAuction(ctx, func(tx store.AuctionTx) error { return nil })
	if !errors.Is(err, store.ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
}

func TestUpdateAuction_RequiresInitializedState(t *testing.T) {
	ms := store.NewMemoryStore()

	err := ms.UpdateAuction(context.Background(), func(tx store.AuctionTx) error { return nil })
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestEnsureAuctionState_ReconcilesRemainingCount(t *testing.T) {
	ms, team, player := newSeededStore(t)
	ctx := context.Background()

	st, _ := ms.GetAuctionState(ctx)
	if st.RemainingPlayersCount != 1 {
		t.Fatalf("remaining = %d, want 1", st.RemainingPlayersCount)
	}

	// Sell the player without touching the counter; Ensure must heal it.
	err := ms.UpdateAuction(ctx, func(tx store.AuctionTx) error {
		return tx.MarkPlayerSold(ctx, player.ID, team.ID, d(100))
	})
	if err != nil {
		t.Fatalf("UpdateAuction: %v", err)
	}

	st, err = ms.EnsureAuctionState(ctx)
	if err != nil {
		t.Fatalf("EnsureAuctionState: %v", err)
	}
	if st.RemainingPlayersCount != 0 {
		t.Errorf("remaining = %d, want 0 after reconcile", st.RemainingPlayersCount)
	}

	unsold, err := ms.CountUnsoldPlayers(ctx)
	if err != nil {
		t.Fatalf("CountUnsoldPlayers: %v", err)
	}
	if unsold != 0 {
		t.Errorf("unsold = %d, want 0", unsold)
	}
}

func TestGetAuctionState_BeforeInit(t *testing.T) {
	ms := store.NewMemoryStore()
	if _, err := ms.GetAuctionState(context.Background()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateTeam_RejectsDuplicateCode(t *testing.T) {
	ms, _, _ := newSeededStore(t)

	err := ms.CreateTeam(context.Background(), &model.Team{
		ID:           uuid.New(),
		Name:         "Other",
		Code:         "STR",
		PurseBalance: d(1000),
	})
	if err == nil {
		t.Fatal("duplicate code accepted")
	}
}

func TestListBidsForPlayer_FiltersByPlayer(t *testing.T) {
	ms, team, player := newSeededStore(t)
	ctx := context.Background()

	other := &model.Player{ID: uuid.New(), Name: "Vikram", BasePrice: d(80), CreatedAt: time.Now().UTC()}
	if err := ms.CreatePlayer(ctx, other); err != nil {
		t.Fatalf("CreatePlayer: %v", err)
	}

	err := ms.UpdateAuction(ctx, func(tx store.AuctionTx) error {
		for _, b := range []*model.Bid{
			{ID: uuid.New(), PlayerID: player.ID, TeamID: team.ID, Amount: d(150)},
			{ID: uuid.New(), PlayerID: other.ID, TeamID: team.ID, Amount: d(90)},
		} {
			if err := tx.InsertBid(ctx, b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateAuction: %v", err)
	}

	bids, _ := ms.ListBidsForPlayer(ctx, player.ID)
	if len(bids) != 1 || !bids[0].Amount.Equal(d(150)) {
		t.Errorf("bids = %v, want single 150 bid", bids)
	}
}
