package auction

import (
	"errors"
	"fmt"
)

// Business rejections. These are expected outcomes of racing bidders and
// strict admission rules: the auction state is unchanged, nothing is
// broadcast, and the caller simply sees the rejection.
var (
	// ErrInvalidState is returned for operations that are not legal in the
	// current lifecycle status (bidding while WAITING or PAUSED, resuming
	// an auction that is not paused, and so on).
	ErrInvalidState = errors.New("auction: operation not allowed in current state")

	// ErrBidInProgress is returned when a lot switch is attempted while a
	// team is leading the current lot.
	ErrBidInProgress = errors.New("auction: cannot switch player while a bid is in progress")

	// ErrAlreadySold is returned when the lot was sold by a concurrent
	// confirm between the caller's view and this request.
	ErrAlreadySold = errors.New("auction: player already sold")

	// ErrBidTooLow is returned when a team bid does not strictly exceed
	// the current bid (ties are rejected), or an admin adjustment falls
	// below the lot's base price.
	ErrBidTooLow = errors.New("auction: bid too low")

	// ErrSelfBid is returned when the leading team bids again before being
	// displaced by a different team.
	ErrSelfBid = errors.New("auction: team is already the leading bidder")

	// ErrInsufficientFunds is returned when the bidding team's purse does
	// not cover the bid amount.
	ErrInsufficientFunds = errors.New("auction: insufficient funds")

	// ErrSquadFull is returned when the bidding team has reached the
	// squad cap.
	ErrSquadFull = errors.New("auction: squad is full")

	// ErrNoActiveBid is returned when a sale confirmation arrives with no
	// leading bidder.
	ErrNoActiveBid = errors.New("auction: no active bid to confirm")
)

// IntegrityError indicates the row-lock serialization guarantee was violated:
// a double sale or a fund shortfall discovered at confirm time. This is never
// a recoverable business outcome — the transaction is aborted and the
// condition logged loudly as a fatal integrity alarm.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("auction: integrity violation: %s", e.Reason)
}

// IsIntegrity reports whether err is (or wraps) an IntegrityError.
func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
