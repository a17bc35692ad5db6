package auction

import "errors"

// Errors returned by auction operations. Bid rejections are reported as
// *bidding.Rejection and match the bidding sentinels.
var (
	ErrNotAuthorized          = errors.New("not authorized")
	ErrAuctionBusy            = errors.New("another auction is in progress")
	ErrPlayerNotFound         = errors.New("player not found")
	ErrTeamNotFound           = errors.New("team not found")
	ErrNoBids                 = errors.New("no bids have been placed")
	ErrInvalidTransition      = errors.New("invalid player transition")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrInconsistentState      = errors.New("inconsistent auction state")
)
