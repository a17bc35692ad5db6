package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	AuctionStarted   Type = "auction.started"
	AuctionBidPlaced Type = "auction.bid_placed"
	AuctionCleared   Type = "auction.cleared"
	AuctionUnsold    Type = "auction.unsold"
	AuctionSold      Type = "auction.sold"

	PlayerAdded Type = "player.added"
	PlayerReset Type = "player.reset"

	StoreRestored Type = "store.restored"
)

// Event represents a single domain event.
type Event struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	Version     int64           `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// New builds an event with payload marshalled as JSON.
func New(aggregateID string, t Type, payload any, at time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshalling %s payload: %w", t, err)
	}
	return Event{
		AggregateID: aggregateID,
		Type:        t,
		Data:        data,
		CreatedAt:   at.UTC(),
	}, nil
}

// AuctionStartedData is the payload for AuctionStarted events.
type AuctionStartedData struct {
	StartPrice int  `json:"start_price"`
	Resumed    bool `json:"resumed"`
}

// BidPlacedData is the payload for AuctionBidPlaced events.
type BidPlacedData struct {
	Team  string `json:"team"`
	Delta int    `json:"delta"`
	Price int    `json:"price"`
}

// AuctionSoldData is the payload for AuctionSold events.
type AuctionSoldData struct {
	Team  string `json:"team"`
	Price int    `json:"price"`
}

// PlayerAddedData is the payload for PlayerAdded events.
type PlayerAddedData struct {
	Name      string `json:"name"`
	BasePrice int    `json:"base_price"`
}

// PlayerResetData is the payload for PlayerReset events.
type PlayerResetData struct {
	PreviousStatus string `json:"previous_status"`
	Team           string `json:"team,omitempty"`
	Refund         int    `json:"refund,omitempty"`
}

// StoreRestoredData is the payload for StoreRestored events.
type StoreRestoredData struct {
	Players int `json:"players"`
	Teams   int `json:"teams"`
	Admins  int `json:"admins"`
}
