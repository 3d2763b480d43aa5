package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bidarena/auction-engine/internal/model"
)

// lockNotAvailable is the PostgreSQL error code raised when lock_timeout
// expires while waiting on the auction state row.
const lockNotAvailable = "55P03"

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// The auction_state row is locked with SELECT ... FOR UPDATE, which keeps
// the register correct across multiple engine instances sharing one store.
type PostgresStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore creates a new PostgreSQL-backed store. lockTimeout bounds
// how long a mutation waits on the auction register lock before failing with
// ErrBusy.
func NewPostgresStore(pool *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &PostgresStore{pool: pool, lockTimeout: lockTimeout}
}

func (s *PostgresStore) CreateTeam(ctx context.Context, t *model.Team) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO teams (id, name, code, purse_balance, total_points, players_count, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7)`,
		t.ID, t.Name, t.Code, t.PurseBalance.String(), t.TotalPoints, t.PlayersCount, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert team: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePlayer(ctx context.Context, p *model.Player) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO players (id, name, role, base_price, points, is_sold, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7)`,
		p.ID, p.Name, p.Role, p.BasePrice.String(), p.Points, p.IsSold, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert player: %w", err)
	}
	return nil
}

const teamColumns = `id, name, code, purse_balance::TEXT, total_points, players_count, created_at`

func scanTeam(row pgx.Row) (*model.Team, error) {
	var t model.Team
	var purse string
	if err := row.Scan(&t.ID, &t.Name, &t.Code, &purse, &t.TotalPoints, &t.PlayersCount, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.PurseBalance, _ = decimal.NewFromString(purse)
	return &t, nil
}

func (s *PostgresStore) GetTeam(ctx context.Context, id uuid.UUID) (*model.Team, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = $1`, id)
	t, err := scanTeam(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("team %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get team %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) ListTeams(ctx context.Context) ([]model.Team, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+teamColumns+` FROM teams ORDER BY total_points DESC, purse_balance DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []model.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, *t)
	}
	return teams, rows.Err()
}

const playerColumns = `id, name, role, base_price::TEXT, points, is_sold, sold_price::TEXT, team_id, created_at`

func scanPlayer(row pgx.Row) (*model.Player, error) {
	var p model.Player
	var base string
	var sold *string
	if err := row.Scan(&p.ID, &p.Name, &p.Role, &base, &p.Points, &p.IsSold, &sold, &p.TeamID, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.BasePrice, _ = decimal.NewFromString(base)
	if sold != nil {
		d, _ := decimal.NewFromString(*sold)
		p.SoldPrice = &d
	}
	return &p, nil
}

func (s *PostgresStore) GetPlayer(ctx context.Context, id uuid.UUID) (*model.Player, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+playerColumns+` FROM players WHERE id = $1`, id)
	p, err := scanPlayer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("player %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get player %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPlayers(ctx context.Context) ([]model.Player, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+playerColumns+` FROM players ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []model.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *p)
	}
	return players, rows.Err()
}

func (s *PostgresStore) ListBidsForPlayer(ctx context.Context, playerID uuid.UUID) ([]model.Bid, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, player_id, team_id, amount::TEXT, created_at
		 FROM bids WHERE player_id = $1 ORDER BY created_at`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []model.Bid
	for rows.Next() {
		var b model.Bid
		var amount string
		if err := rows.Scan(&b.ID, &b.PlayerID, &b.TeamID, &amount, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Amount, _ = decimal.NewFromString(amount)
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

func (s *PostgresStore) CountUnsoldPlayers(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM players WHERE NOT is_sold`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unsold players: %w", err)
	}
	return count, nil
}

const stateColumns = `id, status, current_player_id, current_bid::TEXT, current_bidder_id, remaining_players_count, version`

func scanState(row pgx.Row) (*model.AuctionState, error) {
	var st model.AuctionState
	var bid string
	if err := row.Scan(&st.ID, &st.Status, &st.CurrentPlayerID, &bid, &st.CurrentBidderID, &st.RemainingPlayersCount, &st.Version); err != nil {
		return nil, err
	}
	st.CurrentBid, _ = decimal.NewFromString(bid)
	return &st, nil
}

func (s *PostgresStore) GetAuctionState(ctx context.Context) (*model.AuctionState, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+stateColumns+` FROM auction_state WHERE id = 1`)
	st, err := scanState(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("auction state: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get auction state: %w", err)
	}
	return st, nil
}

// EnsureAuctionState creates the singleton row if missing and reconciles the
// remaining_players_count cache against the true unsold count. Any corrected
// drift is logged; the register must never diverge silently.
func (s *PostgresStore) EnsureAuctionState(ctx context.Context) (*model.AuctionState, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO auction_state (id, status, current_bid, remaining_players_count, version)
		 SELECT 1, $1, 0, (SELECT COUNT(*) FROM players WHERE NOT is_sold), 0
		 ON CONFLICT (id) DO NOTHING`, model.StatusWaiting)
	if err != nil {
		return nil, fmt.Errorf("init auction state: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE auction_state
		 SET remaining_players_count = (SELECT COUNT(*) FROM players WHERE NOT is_sold)
		 WHERE id = 1
		   AND remaining_players_count <> (SELECT COUNT(*) FROM players WHERE NOT is_sold)`)
	if err != nil {
		return nil, fmt.Errorf("reconcile remaining count: %w", err)
	}
	if tag.RowsAffected() > 0 {
		slog.Warn("auction state remaining_players_count drift corrected")
	}

	return s.GetAuctionState(ctx)
}

// pgAuctionTx implements AuctionTx over a pgx transaction holding the
// register row lock.
type pgAuctionTx struct {
	tx    pgx.Tx
	state *model.AuctionState
}

func (s *PostgresStore) UpdateAuction(ctx context.Context, fn func(tx AuctionTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin auction tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Bound the lock wait so a stuck writer surfaces as a retriable error
	// instead of blocking the caller indefinitely.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}

	row := tx.QueryRow(ctx, `SELECT `+stateColumns+` FROM auction_state WHERE id = 1 FOR UPDATE`)
	st, err := scanState(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable {
			return fmt.Errorf("lock auction state: %w", ErrBusy)
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("auction state: %w", ErrNotFound)
		}
		return fmt.Errorf("lock auction state: %w", err)
	}

	atx := &pgAuctionTx{tx: tx, state: st}
	if err := fn(atx); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE auction_state
		 SET status = $1, current_player_id = $2, current_bid = $3::NUMERIC,
		     current_bidder_id = $4, remaining_players_count = $5, version = $6
		 WHERE id = 1`,
		st.Status, st.CurrentPlayerID, st.CurrentBid.String(),
		st.CurrentBidderID, st.RemainingPlayersCount, st.Version,
	)
	if err != nil {
		return fmt.Errorf("write auction state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit auction tx: %w", err)
	}
	return nil
}

func (t *pgAuctionTx) State() *model.AuctionState { return t.state }

func (t *pgAuctionTx) GetPlayer(ctx context.Context, id uuid.UUID) (*model.Player, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+playerColumns+` FROM players WHERE id = $1`, id)
	p, err := scanPlayer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("player %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("tx get player %s: %w", id, err)
	}
	return p, nil
}

func (t *pgAuctionTx) GetTeam(ctx context.Context, id uuid.UUID) (*model.Team, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = $1`, id)
	team, err := scanTeam(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("team %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("tx get team %s: %w", id, err)
	}
	return team, nil
}

func (t *pgAuctionTx) InsertBid(ctx context.Context, b *model.Bid) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO bids (id, player_id, team_id, amount, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)`,
		b.ID, b.PlayerID, b.TeamID, b.Amount.String(), b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert bid: %w", err)
	}
	return nil
}

func (t *pgAuctionTx) MarkPlayerSold(ctx context.Context, playerID, teamID uuid.UUID, price decimal.Decimal) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE players SET is_sold = TRUE, sold_price = $2::NUMERIC, team_id = $3 WHERE id = $1`,
		playerID, price.String(), teamID,
	)
	if err != nil {
		return fmt.Errorf("mark player sold: %w", err)
	}
	return nil
}

// ApplySaleToTeam uses server-side arithmetic so the debit applies to the
// row's current values, not a client snapshot.
func (t *pgAuctionTx) ApplySaleToTeam(ctx context.Context, teamID uuid.UUID, debit decimal.Decimal, points int) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE teams
		 SET purse_balance = purse_balance - $2::NUMERIC,
		     total_points = total_points + $3,
		     players_count = players_count + 1
		 WHERE id = $1`,
		teamID, debit.String(), points,
	)
	if err != nil {
		return fmt.Errorf("apply sale to team: %w", err)
	}
	return nil
}

func (t *pgAuctionTx) ResetTeams(ctx context.Context, initialPurse decimal.Decimal) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE teams SET purse_balance = $1::NUMERIC, total_points = 0, players_count = 0`,
		initialPurse.String(),
	)
	if err != nil {
		return fmt.Errorf("reset teams: %w", err)
	}
	return nil
}

func (t *pgAuctionTx) ResetPlayers(ctx context.Context) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE players SET is_sold = FALSE, sold_price = NULL, team_id = NULL`)
	if err != nil {
		return fmt.Errorf("reset players: %w", err)
	}
	return nil
}

func (t *pgAuctionTx) PurgeBids(ctx context.Context) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM bids`); err != nil {
		return fmt.Errorf("purge bids: %w", err)
	}
	return nil
}

func (t *pgAuctionTx) CountPlayers(ctx context.Context) (int, error) {
	var count int
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM players`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count players: %w", err)
	}
	return count, nil
}
