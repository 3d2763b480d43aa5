// Package store defines the persistence interface for the auction engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bidarena/auction-engine/internal/model"
)

var (
	// ErrNotFound is returned when a referenced team or player does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrBusy is returned when the auction register lock could not be
	// acquired within the bounded wait. Callers may retry.
	ErrBusy = errors.New("store: auction register busy")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer over the hot reads.
type Store interface {
	// --- Season setup ---

	// CreateTeam persists a new team.
	CreateTeam(ctx context.Context, team *model.Team) error

	// CreatePlayer persists a new player.
	CreatePlayer(ctx context.Context, player *model.Player) error

	// --- Reads (unlocked; may be stale by one in-flight transaction) ---

	// GetTeam retrieves a team by ID.
	GetTeam(ctx context.Context, id uuid.UUID) (*model.Team, error)

	// ListTeams returns all teams in leaderboard order
	// (total points desc, purse desc).
	ListTeams(ctx context.Context) ([]model.Team, error)

	// GetPlayer retrieves a player by ID.
	GetPlayer(ctx context.Context, id uuid.UUID) (*model.Player, error)

	// ListPlayers returns all players.
	ListPlayers(ctx context.Context) ([]model.Player, error)

	// ListBidsForPlayer returns the bid history for one player,
	// oldest first.
	ListBidsForPlayer(ctx context.Context, playerID uuid.UUID) ([]model.Bid, error)

	// CountUnsoldPlayers returns the true count of players with is_sold = false.
	CountUnsoldPlayers(ctx context.Context) (int, error)

	// --- Auction state register ---

	// GetAuctionState returns the singleton register row.
	GetAuctionState(ctx context.Context) (*model.AuctionState, error)

	// EnsureAuctionState creates the register row if absent and reconciles
	// remaining_players_count against the true unsold count. Called on
	// startup and before serving state reads (self-healing).
	EnsureAuctionState(ctx context.Context) (*model.AuctionState, error)

	// UpdateAuction runs fn inside a transaction holding an exclusive lock
	// on the auction state row — the sole serialization mechanism for
	// auction mutations. If fn returns an error the transaction is rolled
	// back and no effect persists. Mutations made to the AuctionTx state
	// are written back on commit. A lock wait exceeding the store's bound
	// fails with ErrBusy.
	UpdateAuction(ctx context.Context, fn func(tx AuctionTx) error) error
}

// AuctionTx is the view of the store inside a locked auction transaction.
// All reads see committed-plus-own-writes data; validations against teams
// and players must use these re-reads, never a caller-supplied snapshot.
type AuctionTx interface {
	// State returns the locked register row. Field mutations persist when
	// the transaction commits; version management is the caller's job.
	State() *model.AuctionState

	// GetPlayer re-reads a player inside the transaction.
	GetPlayer(ctx context.Context, id uuid.UUID) (*model.Player, error)

	// GetTeam re-reads a team inside the transaction.
	GetTeam(ctx context.Context, id uuid.UUID) (*model.Team, error)

	// InsertBid appends an immutable bid record.
	InsertBid(ctx context.Context, bid *model.Bid) error

	// MarkPlayerSold sets is_sold, sold_price, and team_id in one write.
	MarkPlayerSold(ctx context.Context, playerID, teamID uuid.UUID, price decimal.Decimal) error

	// ApplySaleToTeam debits the purse and credits points and squad count
	// using server-side arithmetic.
	ApplySaleToTeam(ctx context.Context, teamID uuid.UUID, debit decimal.Decimal, points int) error

	// ResetTeams restores every team to the initial purse with zero points
	// and an empty squad.
	ResetTeams(ctx context.Context, initialPurse decimal.Decimal) error

	// ResetPlayers clears sold/price/team fields on every player.
	ResetPlayers(ctx context.Context) error

	// PurgeBids deletes all bid history.
	PurgeBids(ctx context.Context) error

	// CountPlayers returns the total player count.
	CountPlayers(ctx context.Context) (int, error)
}
