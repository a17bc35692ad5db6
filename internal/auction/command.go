package auction

import (
	"go.opentelemetry.io/otel/attribute"

	"github.com/jensholdgaard/team-auction/internal/roster"
)

// Command is an operator or team intent. The set of commands is closed.
type Command interface {
	// Name identifies the command in traces, metrics and logs.
	Name() string
	attributes() []attribute.KeyValue
}

// StartAuction opens bidding on an available or unsold player.
type StartAuction struct {
	PlayerID string
}

// PlaceBid raises the open auction by Delta on behalf of Team.
type PlaceBid struct {
	Team  string
	Delta int
}

// ClearBidding returns the open auction to the player's base price.
type ClearBidding struct {
	PlayerID string
}

// MarkUnsold ends the open auction without a sale.
type MarkUnsold struct {
	PlayerID string
}

// FinalizeSale sells the player to the last bidding team.
type FinalizeSale struct {
	PlayerID string
}

// ResetPlayer returns a sold or unsold player to the available pool.
type ResetPlayer struct {
	PlayerID string
}

// AddPlayer creates a new available player. The manager assigns ID when it
// is empty.
type AddPlayer struct {
	ID    string
	Input roster.Input
}

func (StartAuction) Name() string { return "StartAuction" }
func (PlaceBid) Name() string { return "PlaceBid" }
func (ClearBidding) Name() string { return "ClearBidding" }
func (MarkUnsold) Name() string { return "MarkUnsold" }
func (FinalizeSale) Name() string { return "FinalizeSale" }
func (ResetPlayer) Name() string { return "ResetPlayer" }
func (AddPlayer) Name() string { return "AddPlayer" }

func (c StartAuction) attributes() []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("player.id", c.PlayerID)}
}

func (c PlaceBid) attributes() []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("team", c.Team), attribute.Int("bid.delta", c.Delta)}
}

func (c ClearBidding) attributes() []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("player.id", c.PlayerID)}
}

func (c MarkUnsold) attributes() []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("player.id", c.PlayerID)}
}

func (c FinalizeSale) attributes() []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("player.id", c.PlayerID)}
}

func (c ResetPlayer) attributes() []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("player.id", c.PlayerID)}
}

func (c AddPlayer) attributes() []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("player.id", c.ID), attribute.String("player.name", c.Input.Name)}
}
