package auction

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bidarena/auction-engine/internal/model"
	"github.com/bidarena/auction-engine/internal/rank"
)

// Event is a committed state change broadcast to observers. The set of
// variants is closed: every producer and consumer switches over these types,
// and the wire form is a {type, payload} envelope.
type Event interface {
	eventType() string
}

// PlayerSelected announces a new lot opened for bidding.
type PlayerSelected struct {
	PlayerID  uuid.UUID       `json:"player_id"`
	BasePrice decimal.Decimal `json:"base_price"`
}

// BidUpdate carries the new leading bid. TeamID is nil for an administrative
// price adjustment, which moves the price without a leading bidder.
type BidUpdate struct {
	Amount decimal.Decimal `json:"amount"`
	TeamID *uuid.UUID      `json:"team_id"`
}

// PlayerSold announces a settled sale.
type PlayerSold struct {
	PlayerID  uuid.UUID       `json:"player_id"`
	SoldPrice decimal.Decimal `json:"sold_price"`
	TeamID    uuid.UUID       `json:"team_id"`
}

// LeaderboardUpdate carries the freshly recomputed standings.
type LeaderboardUpdate struct {
	Entries []rank.Entry `json:"entries"`
}

// AuctionCompleted announces that the last lot has been settled.
type AuctionCompleted struct {
	Winner *rank.Entry `json:"winner,omitempty"`
}

// AuctionReset announces a full restore to the initial season state.
type AuctionReset struct{}

// StateSnapshot is sent to a single observer on request ("refresh"), giving
// reconnecting clients the full committed state without replaying history.
type StateSnapshot struct {
	State         *model.AuctionState `json:"state"`
	CurrentPlayer *model.Player       `json:"current_player,omitempty"`
	Leaderboard   []rank.Entry        `json:"leaderboard"`
}

func (PlayerSelected) eventType() string    { return "PLAYER_SELECTED" }
func (BidUpdate) eventType() string         { return "BID_UPDATE" }
func (PlayerSold) eventType() string        { return "PLAYER_SOLD" }
func (LeaderboardUpdate) eventType() string { return "LEADERBOARD_UPDATE" }
func (AuctionCompleted) eventType() string  { return "AUCTION_COMPLETED" }
func (AuctionReset) eventType() string      { return "AUCTION_RESET" }
func (StateSnapshot) eventType() string     { return "STATE_SNAPSHOT" }

// envelope is the wire form of an Event.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// marshalEvent encodes an Event into its {type, payload} wire form.
func marshalEvent(ev Event) ([]byte, error) {
	return json.Marshal(envelope{Type: ev.eventType(), Payload: ev})
}
