// Package auction provides the auction coordinator: the state machine that
// governs lot selection, bid admission, sale settlement, and reset, plus the
// HTTP handlers and the WebSocket broadcast hub in front of it.
//
// Every mutating operation runs inside the store's lock-guarded transaction
// on the auction state register and re-validates against freshly re-read
// rows; broadcasts are emitted only after the commit. All monetary values
// use shopspring/decimal — never float64 for money.
package auction

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bidarena/auction-engine/internal/metrics"
	"github.com/bidarena/auction-engine/internal/model"
	"github.com/bidarena/auction-engine/internal/rank"
	"github.com/bidarena/auction-engine/internal/store"
)

// Service is the auction coordinator. It owns all writes to the auction
// state register and the sale-related fields of players and teams; the
// store's row lock is the sole serialization mechanism, so the service
// itself carries no mutex and scales with the store.
type Service struct {
	store        store.Store
	hub          *Hub // optional; nil disables broadcasting
	initialPurse decimal.Decimal
	squadCap     int
}

// NewService creates an auction coordinator. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, hub *Hub, initialPurse decimal.Decimal, squadCap int) *Service {
	if squadCap <= 0 {
		squadCap = 25
	}
	svc := &Service{
		store:        st,
		hub:          hub,
		initialPurse: initialPurse,
		squadCap:     squadCap,
	}
	if hub != nil {
		hub.SetSnapshot(svc.Snapshot)
	}
	return svc
}

// --- Bid origin variants ---

// BidOrigin distinguishes a competitive team bid from an administrative
// price adjustment; the two carry different admission rules.
type BidOrigin interface {
	bidOrigin()
}

// TeamBid is a competitive bid from one team. It must strictly exceed the
// current bid (ties rejected) and displaces the leading bidder.
type TeamBid struct {
	TeamID uuid.UUID
	Amount decimal.Decimal
}

// AdminAdjustment moves the current price without a leading bidder, used by
// the presenter to correct the asking price. It only needs to meet the lot's
// base price.
type AdminAdjustment struct {
	Amount decimal.Decimal
}

func (TeamBid) bidOrigin()         {}
func (AdminAdjustment) bidOrigin() {}

// --- Coordinator operations ---

// State returns the register, initializing and self-healing it if needed.
func (s *Service) State(ctx context.Context) (*model.AuctionState, error) {
	st, err := s.store.EnsureAuctionState(ctx)
	if err != nil {
		return nil, err
	}
	metrics.RemainingPlayers.Set(float64(st.RemainingPlayersCount))
	return st, nil
}

// SelectPlayer opens a new lot for bidding at the player's base price.
// Switching lots is refused while a team is leading the current lot.
func (s *Service) SelectPlayer(ctx context.Context, playerID uuid.UUID) (*model.AuctionState, error) {
	var committed model.AuctionState
	err := s.store.UpdateAuction(ctx, func(tx store.AuctionTx) error {
		st := tx.State()
		// A leading team bid pins the lot, paused or not; only a settled
		// or uncontested lot may be switched.
		if st.CurrentBidderID != nil {
			return ErrBidInProgress
		}

		player, err := tx.GetPlayer(ctx, playerID)
		if err != nil {
			return err
		}
		if player.IsSold {
			return ErrAlreadySold
		}

		st.CurrentPlayerID = &playerID
		st.Status = model.StatusActive
		st.CurrentBid = player.BasePrice
		st.CurrentBidderID = nil
		st.Version++
		committed = *st
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("player selected", "player", playerID, "base_price", committed.CurrentBid.String())
	if s.hub != nil {
		s.hub.Broadcast(PlayerSelected{PlayerID: playerID, BasePrice: committed.CurrentBid})
	}
	return &committed, nil
}

// PlaceBid admits a bid against the current lot. This is the linearization
// point of the whole system: the register lock serializes concurrent
// bidders, and each one validates against the freshly re-read current bid,
// so racing bids for the same amount produce exactly one winner.
func (s *Service) PlaceBid(ctx context.Context, origin BidOrigin) (*model.AuctionState, error) {
	var committed model.AuctionState
	err := s.store.UpdateAuction(ctx, func(tx store.AuctionTx) error {
		st := tx.State()
		if st.Status != model.StatusActive || st.CurrentPlayerID == nil {
			return ErrInvalidState
		}

		// Re-read the lot inside the lock: a concurrent confirm may have
		// sold it after the caller's last view.
		player, err := tx.GetPlayer(ctx, *st.CurrentPlayerID)
		if err != nil {
			return err
		}
		if player.IsSold {
			return ErrAlreadySold
		}

		switch o := origin.(type) {
		case TeamBid:
			if !o.Amount.GreaterThan(st.CurrentBid) {
				return ErrBidTooLow
			}
			if st.CurrentBidderID != nil && *st.CurrentBidderID == o.TeamID {
				return ErrSelfBid
			}
			team, err := tx.GetTeam(ctx, o.TeamID)
			if err != nil {
				return err
			}
			if team.PurseBalance.LessThan(o.Amount) {
				return ErrInsufficientFunds
			}
			if team.PlayersCount >= s.squadCap {
				return ErrSquadFull
			}

			st.CurrentBid = o.Amount
			bidder := o.TeamID
			st.CurrentBidderID = &bidder
			if err := tx.InsertBid(ctx, &model.Bid{
				ID:        uuid.New(),
				PlayerID:  player.ID,
				TeamID:    o.TeamID,
				Amount:    o.Amount,
				CreatedAt: time.Now().UTC(),
			}); err != nil {
				return err
			}

		case AdminAdjustment:
			if o.Amount.LessThan(player.BasePrice) {
				return ErrBidTooLow
			}
			// Price override only: the leading bidder is untouched and no
			// bid record is written.
			st.CurrentBid = o.Amount

		default:
			return ErrInvalidState
		}

		st.Version++
		committed = *st
		return nil
	})
	if err != nil {
		if isRejection(err) {
			metrics.BidsTotal.WithLabelValues("rejected").Inc()
		} else {
			metrics.BidsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	metrics.BidsTotal.WithLabelValues("accepted").Inc()
	// A nil bidder (admin adjustment) must not reach slog: MarshalText on a
	// nil *uuid.UUID panics.
	bidder := "none"
	if committed.CurrentBidderID != nil {
		bidder = committed.CurrentBidderID.String()
	}
	slog.Info("bid accepted",
		"amount", committed.CurrentBid.String(),
		"bidder", bidder,
		"version", committed.Version,
	)
	if s.hub != nil {
		s.hub.Broadcast(BidUpdate{Amount: committed.CurrentBid, TeamID: committed.CurrentBidderID})
	}
	return &committed, nil
}

// ConfirmSale settles the current lot to the leading bidder: purse debit,
// ownership transfer, points credit, squad count, and register reset happen
// in one atomic transaction. A violation found here after the lock is held
// means the serialization guarantee itself failed and is raised as a fatal
// integrity alarm, not a business rejection.
func (s *Service) ConfirmSale(ctx context.Context) (*model.AuctionState, error) {
	var committed model.AuctionState
	var sold PlayerSold
	var completed bool

	err := s.store.UpdateAuction(ctx, func(tx store.AuctionTx) error {
		st := tx.State()
		if st.CurrentBidderID == nil || st.CurrentPlayerID == nil {
			return ErrNoActiveBid
		}

		player, err := tx.GetPlayer(ctx, *st.CurrentPlayerID)
		if err != nil {
			return err
		}
		team, err := tx.GetTeam(ctx, *st.CurrentBidderID)
		if err != nil {
			return err
		}

		if player.IsSold {
			return &IntegrityError{Reason: "double sale of player " + player.ID.String()}
		}
		if team.PurseBalance.LessThan(st.CurrentBid) {
			return &IntegrityError{Reason: "purse shortfall for team " + team.ID.String()}
		}
		if team.PlayersCount >= s.squadCap {
			return &IntegrityError{Reason: "squad cap exceeded for team " + team.ID.String()}
		}

		price := st.CurrentBid
		if err := tx.ApplySaleToTeam(ctx, team.ID, price, player.Points); err != nil {
			return err
		}
		if err := tx.MarkPlayerSold(ctx, player.ID, team.ID, price); err != nil {
			return err
		}

		sold = PlayerSold{PlayerID: player.ID, SoldPrice: price, TeamID: team.ID}

		st.CurrentBid = decimal.Zero
		st.CurrentBidderID = nil
		st.CurrentPlayerID = nil
		st.RemainingPlayersCount--
		st.Status = model.StatusWaiting
		if st.RemainingPlayersCount <= 0 {
			st.Status = model.StatusCompleted
			completed = true
		}
		st.Version++
		committed = *st
		return nil
	})
	if err != nil {
		if IsIntegrity(err) {
			metrics.IntegrityViolations.Inc()
			slog.Error("sale aborted on integrity violation", "err", err)
		}
		return nil, err
	}

	metrics.SalesTotal.Inc()
	metrics.RemainingPlayers.Set(float64(committed.RemainingPlayersCount))
	slog.Info("player sold",
		"player", sold.PlayerID,
		"team", sold.TeamID,
		"price", sold.SoldPrice.String(),
		"remaining", committed.RemainingPlayersCount,
	)

	if s.hub != nil {
		s.hub.Broadcast(sold)
		entries, err := s.Leaderboard(ctx)
		if err != nil {
			slog.Error("leaderboard recompute failed", "err", err)
		} else {
			s.hub.Broadcast(LeaderboardUpdate{Entries: entries})
		}
		// Completion is announced even when the standings fetch fails;
		// the winner is simply omitted.
		if completed {
			var winner *rank.Entry
			if err == nil && len(entries) > 0 {
				winner = &entries[0]
			}
			s.hub.Broadcast(AuctionCompleted{Winner: winner})
		}
	}
	return &committed, nil
}

// Pause stops new bids on the active lot without clearing it.
func (s *Service) Pause(ctx context.Context) (*model.AuctionState, error) {
	return s.setStatus(ctx, model.StatusActive, model.StatusPaused)
}

// Resume reopens bidding on a paused auction. With no lot open it falls
// back to WAITING.
func (s *Service) Resume(ctx context.Context) (*model.AuctionState, error) {
	var committed model.AuctionState
	err := s.store.UpdateAuction(ctx, func(tx store.AuctionTx) error {
		st := tx.State()
		if st.Status != model.StatusPaused {
			return ErrInvalidState
		}
		if st.CurrentPlayerID != nil {
			st.Status = model.StatusActive
		} else {
			st.Status = model.StatusWaiting
		}
		st.Version++
		committed = *st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &committed, nil
}

func (s *Service) setStatus(ctx context.Context, from, to string) (*model.AuctionState, error) {
	var committed model.AuctionState
	err := s.store.UpdateAuction(ctx, func(tx store.AuctionTx) error {
		st := tx.State()
		if st.Status != from {
			return ErrInvalidState
		}
		st.Status = to
		st.Version++
		committed = *st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &committed, nil
}

// Reset destroys all auction progress: purses, points, and squads restored,
// players unsold, bid history purged, register back to WAITING at version 0.
// Irreversible by design; running it twice is the same as running it once.
func (s *Service) Reset(ctx context.Context) error {
	var total int
	err := s.store.UpdateAuction(ctx, func(tx store.AuctionTx) error {
		var err error
		total, err = tx.CountPlayers(ctx)
		if err != nil {
			return err
		}
		if err := tx.ResetTeams(ctx, s.initialPurse); err != nil {
			return err
		}
		if err := tx.ResetPlayers(ctx); err != nil {
			return err
		}
		if err := tx.PurgeBids(ctx); err != nil {
			return err
		}

		st := tx.State()
		st.Status = model.StatusWaiting
		st.CurrentBid = decimal.Zero
		st.CurrentBidderID = nil
		st.CurrentPlayerID = nil
		st.RemainingPlayersCount = total
		st.Version = 0
		return nil
	})
	if err != nil {
		return err
	}

	metrics.ResetsTotal.Inc()
	metrics.RemainingPlayers.Set(float64(total))
	slog.Info("auction reset")
	if s.hub != nil {
		s.hub.Broadcast(AuctionReset{})
	}
	return nil
}

// Leaderboard projects the current standings from the team ledger.
func (s *Service) Leaderboard(ctx context.Context) ([]rank.Entry, error) {
	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	return rank.Standings(teams), nil
}

// Snapshot builds the full committed state for a reconnecting observer.
func (s *Service) Snapshot(ctx context.Context) (Event, error) {
	st, err := s.store.EnsureAuctionState(ctx)
	if err != nil {
		return nil, err
	}

	var current *model.Player
	if st.CurrentPlayerID != nil {
		current, err = s.store.GetPlayer(ctx, *st.CurrentPlayerID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	entries, err := s.Leaderboard(ctx)
	if err != nil {
		return nil, err
	}
	return StateSnapshot{State: st, CurrentPlayer: current, Leaderboard: entries}, nil
}

// isRejection reports whether err is an expected business rejection rather
// than an infrastructure or integrity failure.
func isRejection(err error) bool {
	for _, target := range []error{
		ErrInvalidState, ErrBidInProgress, ErrAlreadySold, ErrBidTooLow,
		ErrSelfBid, ErrInsufficientFunds, ErrSquadFull, ErrNoActiveBid,
		store.ErrNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// --- Request/response types ---

// BidRequest is the JSON body for POST /auction/bid. A nil team_id is an
// administrative price adjustment.
type BidRequest struct {
	Amount decimal.Decimal `json:"amount"`
	TeamID *uuid.UUID      `json:"team_id"`
}

// CreateTeamRequest is the JSON body for team creation at season setup.
// Purse defaults to the configured initial purse when omitted.
type CreateTeamRequest struct {
	Name  string           `json:"name"`
	Code  string           `json:"code"`
	Purse *decimal.Decimal `json:"purse"`
}

// CreatePlayerRequest is the JSON body for player creation at season setup.
type CreatePlayerRequest struct {
	Name      string          `json:"name"`
	Role      string          `json:"role"`
	BasePrice decimal.Decimal `json:"base_price"`
	Points    int             `json:"points"`
}

// --- HTTP handlers ---

// GetState handles GET /api/v1/auction/state
func (s *Service) GetState(w http.ResponseWriter, r *http.Request) {
	st, err := s.State(r.Context())
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleSelectPlayer handles POST /api/v1/auction/select-player/{playerID}
func (s *Service) HandleSelectPlayer(w http.ResponseWriter, r *http.Request) {
	playerID, err := uuid.Parse(chi.URLParam(r, "playerID"))
	if err != nil {
		writeError(w, "invalid player id", http.StatusBadRequest)
		return
	}

	st, err := s.SelectPlayer(r.Context(), playerID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleBid handles POST /api/v1/auction/bid
func (s *Service) HandleBid(w http.ResponseWriter, r *http.Request) {
	var req BidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	var origin BidOrigin
	if req.TeamID != nil {
		origin = TeamBid{TeamID: *req.TeamID, Amount: req.Amount}
	} else {
		origin = AdminAdjustment{Amount: req.Amount}
	}

	st, err := s.PlaceBid(r.Context(), origin)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleConfirmSale handles POST /api/v1/auction/confirm-sale
func (s *Service) HandleConfirmSale(w http.ResponseWriter, r *http.Request) {
	st, err := s.ConfirmSale(r.Context())
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandlePause handles POST /api/v1/auction/pause
func (s *Service) HandlePause(w http.ResponseWriter, r *http.Request) {
	st, err := s.Pause(r.Context())
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleResume handles POST /api/v1/auction/resume
func (s *Service) HandleResume(w http.ResponseWriter, r *http.Request) {
	st, err := s.Resume(r.Context())
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleReset handles POST /api/v1/auction/reset
func (s *Service) HandleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.Reset(r.Context()); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset_complete"})
}

// HandleLeaderboard handles GET /api/v1/leaderboard
func (s *Service) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Leaderboard(r.Context())
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if entries == nil {
		entries = []rank.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ListPlayers handles GET /api/v1/players
func (s *Service) ListPlayers(w http.ResponseWriter, r *http.Request) {
	players, err := s.store.ListPlayers(r.Context())
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if players == nil {
		players = []model.Player{}
	}
	writeJSON(w, http.StatusOK, players)
}

// GetPlayerByID handles GET /api/v1/players/{playerID}
func (s *Service) GetPlayerByID(w http.ResponseWriter, r *http.Request) {
	playerID, err := uuid.Parse(chi.URLParam(r, "playerID"))
	if err != nil {
		writeError(w, "invalid player id", http.StatusBadRequest)
		return
	}
	player, err := s.store.GetPlayer(r.Context(), playerID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, player)
}

// GetPlayerBids handles GET /api/v1/players/{playerID}/bids
func (s *Service) GetPlayerBids(w http.ResponseWriter, r *http.Request) {
	playerID, err := uuid.Parse(chi.URLParam(r, "playerID"))
	if err != nil {
		writeError(w, "invalid player id", http.StatusBadRequest)
		return
	}
	bids, err := s.store.ListBidsForPlayer(r.Context(), playerID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if bids == nil {
		bids = []model.Bid{}
	}
	writeJSON(w, http.StatusOK, bids)
}

// ListTeams handles GET /api/v1/teams
func (s *Service) ListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := s.store.ListTeams(r.Context())
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if teams == nil {
		teams = []model.Team{}
	}
	writeJSON(w, http.StatusOK, teams)
}

// GetTeamByID handles GET /api/v1/teams/{teamID}
func (s *Service) GetTeamByID(w http.ResponseWriter, r *http.Request) {
	teamID, err := uuid.Parse(chi.URLParam(r, "teamID"))
	if err != nil {
		writeError(w, "invalid team id", http.StatusBadRequest)
		return
	}
	team, err := s.store.GetTeam(r.Context(), teamID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, team)
}

// CreateTeam handles POST /api/v1/teams
func (s *Service) CreateTeam(w http.ResponseWriter, r *http.Request) {
	var req CreateTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Code == "" {
		writeError(w, "name and code are required", http.StatusBadRequest)
		return
	}

	purse := s.initialPurse
	if req.Purse != nil {
		if req.Purse.IsNegative() {
			writeError(w, "purse must be non-negative", http.StatusBadRequest)
			return
		}
		purse = *req.Purse
	}

	team := &model.Team{
		ID:           uuid.New(),
		Name:         req.Name,
		Code:         req.Code,
		PurseBalance: purse,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateTeam(r.Context(), team); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("team created", "id", team.ID, "name", team.Name, "code", team.Code)
	writeJSON(w, http.StatusCreated, team)
}

// CreatePlayer handles POST /api/v1/players
func (s *Service) CreatePlayer(w http.ResponseWriter, r *http.Request) {
	var req CreatePlayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}
	if req.BasePrice.LessThanOrEqual(decimal.Zero) {
		writeError(w, "base_price must be positive", http.StatusBadRequest)
		return
	}
	if req.Points < 0 {
		writeError(w, "points must be non-negative", http.StatusBadRequest)
		return
	}

	player := &model.Player{
		ID:        uuid.New(),
		Name:      req.Name,
		Role:      req.Role,
		BasePrice: req.BasePrice,
		Points:    req.Points,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreatePlayer(r.Context(), player); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("player created", "id", player.ID, "name", player.Name, "base_price", player.BasePrice.String())
	writeJSON(w, http.StatusCreated, player)
}

// statusFor maps coordinator errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrBusy):
		return http.StatusServiceUnavailable
	case IsIntegrity(err):
		return http.StatusInternalServerError
	case isRejection(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
