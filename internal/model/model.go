// Package model defines the core domain types shared across the auction engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Auction lifecycle statuses.
const (
	StatusWaiting   = "WAITING"
	StatusActive    = "ACTIVE"
	StatusPaused    = "PAUSED"
	StatusCompleted = "COMPLETED"
)

// Team is a bidding franchise. PurseBalance never goes negative and
// PlayersCount never exceeds the squad cap; both hold after every committed
// transaction, enforced by the coordinator and backed by CHECK constraints.
type Team struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	Name         string          `json:"name" db:"name"`
	Code         string          `json:"code" db:"code"`
	PurseBalance decimal.Decimal `json:"purse_balance" db:"purse_balance"`
	TotalPoints  int             `json:"total_points" db:"total_points"`
	PlayersCount int             `json:"players_count" db:"players_count"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Player is a single auctionable lot. IsSold, TeamID, and SoldPrice are set
// together, exactly once per sale, and cleared together on reset.
type Player struct {
	ID        uuid.UUID        `json:"id" db:"id"`
	Name      string           `json:"name" db:"name"`
	Role      string           `json:"role" db:"role"` // BATSMAN, BOWLER, ALL-ROUNDER, WICKET-KEEPER
	BasePrice decimal.Decimal  `json:"base_price" db:"base_price"`
	Points    int              `json:"points" db:"points"` // credited to the buying team on sale
	IsSold    bool             `json:"is_sold" db:"is_sold"`
	SoldPrice *decimal.Decimal `json:"sold_price" db:"sold_price"`
	TeamID    *uuid.UUID       `json:"team_id" db:"team_id"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}

// Bid is an immutable record of an accepted team bid. Once created, these are
// never modified; they are only bulk-purged by a full auction reset.
type Bid struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	PlayerID  uuid.UUID       `json:"player_id" db:"player_id"`
	TeamID    uuid.UUID       `json:"team_id" db:"team_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// AuctionState is the singleton register row (id is always 1). It is the
// serialization point for every mutating auction operation: writers take an
// exclusive row lock, readers may observe a state at most one in-flight
// transaction stale.
//
// RemainingPlayersCount is a cache of the unsold-player count. It is
// reconciled against the players table on startup and after reset; it must
// never silently diverge.
type AuctionState struct {
	ID                    int             `json:"id" db:"id"`
	Status                string          `json:"status" db:"status"`
	CurrentPlayerID       *uuid.UUID      `json:"current_player_id" db:"current_player_id"`
	CurrentBid            decimal.Decimal `json:"current_bid" db:"current_bid"`
	CurrentBidderID       *uuid.UUID      `json:"current_bidder_id" db:"current_bidder_id"`
	RemainingPlayersCount int             `json:"remaining_players_count" db:"remaining_players_count"`
	Version               int64           `json:"version" db:"version"`
}
