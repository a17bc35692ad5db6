// Package commands maps Discord slash commands onto auction operations.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/team-auction/internal/auction"
	"github.com/jensholdgaard/team-auction/internal/auth"
	"github.com/jensholdgaard/team-auction/internal/bidding"
	"github.com/jensholdgaard/team-auction/internal/ledger"
	"github.com/jensholdgaard/team-auction/internal/roster"
)

// Auctioneer is the subset of auction.Manager the bot drives.
type Auctioneer interface {
	StartAuction(ctx context.Context, playerID string) (auction.Result, error)
	PlaceBid(ctx context.Context, team string, delta int) (auction.Result, error)
	ClearBidding(ctx context.Context, playerID string) (auction.Result, error)
	MarkUnsold(ctx context.Context, playerID string) (auction.Result, error)
	FinalizeSale(ctx context.Context, playerID string) (auction.Result, error)
	ResetPlayer(ctx context.Context, playerID string) (auction.Result, error)
	View(ctx context.Context) (auction.View, error)
}

// Handlers process Discord interactions.
type Handlers struct {
	auctioneer Auctioneer
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewHandlers creates new command handlers.
func NewHandlers(a Auctioneer, logger *slog.Logger, tp trace.TracerProvider) *Handlers {
	return &Handlers{
		auctioneer: a,
		logger:     logger,
		tracer:     tp.Tracer("github.com/jensholdgaard/team-auction/internal/bot/commands"),
	}
}

var zero = 0.0

// SlashCommands returns the slash command definitions.
func SlashCommands() []*discordgo.ApplicationCommand {
	playerOption := func(required bool, desc string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "player",
			Description: desc,
			Required:    required,
		}
	}
	return []*discordgo.ApplicationCommand{
		{
			Name:        "auction-start",
			Description: "Put a player under the hammer (admin only)",
			Options:     []*discordgo.ApplicationCommandOption{playerOption(true, "Player ID to auction")},
		},
		{
			Name:        "bid",
			Description: "Raise the current auction for a team (admin only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "team",
					Description: "Bidding team",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Team A", Value: string(ledger.TeamA)},
						{Name: "Team B", Value: string(ledger.TeamB)},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "increment",
					Description: "Lakhs to add to the current price (0 re-confirms it)",
					Required:    true,
					MinValue:    &zero,
				},
			},
		},
		{
			Name:        "auction-clear",
			Description: "Drop all bids and return to the base price (admin only)",
			Options:     []*discordgo.ApplicationCommandOption{playerOption(false, "Player ID, defaults to the current one")},
		},
		{
			Name:        "auction-unsold",
			Description: "Close the auction without a sale (admin only)",
			Options:     []*discordgo.ApplicationCommandOption{playerOption(false, "Player ID, defaults to the current one")},
		},
		{
			Name:        "auction-sold",
			Description: "Sell the player to the last bidding team (admin only)",
			Options:     []*discordgo.ApplicationCommandOption{playerOption(false, "Player ID, defaults to the current one")},
		},
		{
			Name:        "player-reset",
			Description: "Return a sold or unsold player to the pool (admin only)",
			Options:     []*discordgo.ApplicationCommandOption{playerOption(true, "Player ID to reset")},
		},
		{
			Name:        "auction-status",
			Description: "Show the player under the hammer",
		},
		{
			Name:        "teams",
			Description: "Show team budgets and squads",
		},
	}
}

// InteractionCreate handles incoming slash command interactions.
func (h *Handlers) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	ctx := context.Background()
	if u := interactionUser(i); u != nil {
		ctx = auth.WithPrincipal(ctx, auth.Principal{ID: u.ID, Name: u.Username, Source: "discord"})
	}
	data := i.ApplicationCommandData()
	respond(s, i, h.Handle(ctx, data.Name, data.Options))
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

// Handle runs the named command and returns the reply text.
func (h *Handlers) Handle(ctx context.Context, name string, opts []*discordgo.ApplicationCommandInteractionDataOption) string {
	ctx, span := h.tracer.Start(ctx, "InteractionCreate",
		trace.WithAttributes(attribute.String("command", name)),
	)
	defer span.End()

	var (
		msg string
		err error
	)
	switch name {
	case "auction-start":
		msg, err = h.handleStart(ctx, opts)
	case "bid":
		msg, err = h.handleBid(ctx, opts)
	case "auction-clear":
		msg, err = h.handleClear(ctx, opts)
	case "auction-unsold":
		msg, err = h.handleUnsold(ctx, opts)
	case "auction-sold":
		msg, err = h.handleSold(ctx, opts)
	case "player-reset":
		msg, err = h.handleReset(ctx, opts)
	case "auction-status":
		msg, err = h.handleStatus(ctx)
	case "teams":
		msg, err = h.handleTeams(ctx)
	default:
		return "Unknown command"
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.logger.DebugContext(ctx, "command failed", slog.String("command", name), slog.Any("error", err))
		return describe(err)
	}
	return msg
}

func option(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) *discordgo.ApplicationCommandInteractionDataOption {
	for _, o := range opts {
		if o.Name == name {
			return o
		}
	}
	return nil
}

func stringOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	if o := option(opts, name); o != nil {
		return o.StringValue()
	}
	return ""
}

func intOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) int {
	if o := option(opts, name); o != nil {
		return int(o.IntValue())
	}
	return 0
}

// targetPlayer returns the player option, falling back to the player under
// the hammer.
func (h *Handlers) targetPlayer(ctx context.Context, opts []*discordgo.ApplicationCommandInteractionDataOption) (string, error) {
	if id := stringOption(opts, "player"); id != "" {
		return id, nil
	}
	v, err := h.auctioneer.View(ctx)
	if err != nil {
		return "", err
	}
	p, ok := v.Current()
	if !ok {
		return "", bidding.ErrNoActiveAuction
	}
	return p.ID, nil
}

func (h *Handlers) handleStart(ctx context.Context, opts []*discordgo.ApplicationCommandInteractionDataOption) (string, error) {
	res, err := h.auctioneer.StartAuction(ctx, stringOption(opts, "player"))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Now bidding: **%s** (%s), starting at **%d**", res.Player.Name, strings.Join(res.Player.InterestedGames, ", "), res.Auction.CurrentPrice), nil
}

func (h *Handlers) handleBid(ctx context.Context, opts []*discordgo.ApplicationCommandInteractionDataOption) (string, error) {
	res, err := h.auctioneer.PlaceBid(ctx, stringOption(opts, "team"), intOption(opts, "increment"))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Team %s bids **%d** for **%s**", res.Auction.LastBidTeam, res.Auction.CurrentPrice, res.Player.Name), nil
}

func (h *Handlers) handleClear(ctx context.Context, opts []*discordgo.ApplicationCommandInteractionDataOption) (string, error) {
	id, err := h.targetPlayer(ctx, opts)
	if err != nil {
		return "", err
	}
	res, err := h.auctioneer.ClearBidding(ctx, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Bids cleared, **%s** is back at **%d**", res.Player.Name, res.Player.CurrentPrice), nil
}

func (h *Handlers) handleUnsold(ctx context.Context, opts []*discordgo.ApplicationCommandInteractionDataOption) (string, error) {
	id, err := h.targetPlayer(ctx, opts)
	if err != nil {
		return "", err
	}
	res, err := h.auctioneer.MarkUnsold(ctx, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("**%s** goes unsold", res.Player.Name), nil
}

func (h *Handlers) handleSold(ctx context.Context, opts []*discordgo.ApplicationCommandInteractionDataOption) (string, error) {
	id, err := h.targetPlayer(ctx, opts)
	if err != nil {
		return "", err
	}
	res, err := h.auctioneer.FinalizeSale(ctx, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SOLD! **%s** to Team %s for **%d** (%d left)", res.Player.Name, res.Team.ID, *res.Player.FinalPrice, res.Team.Remaining()), nil
}

func (h *Handlers) handleReset(ctx context.Context, opts []*discordgo.ApplicationCommandInteractionDataOption) (string, error) {
	res, err := h.auctioneer.ResetPlayer(ctx, stringOption(opts, "player"))
	if err != nil {
		return "", err
	}
	if res.Team != nil {
		return fmt.Sprintf("**%s** is available again, Team %s refunded", res.Player.Name, res.Team.ID), nil
	}
	return fmt.Sprintf("**%s** is available again", res.Player.Name), nil
}

func (h *Handlers) handleStatus(ctx context.Context) (string, error) {
	v, err := h.auctioneer.View(ctx)
	if err != nil {
		return "", err
	}
	p, ok := v.Current()
	if !ok {
		return "No player is under the hammer.", nil
	}
	if !v.Auction.HasBid() {
		return fmt.Sprintf("**%s** at base price **%d**, no bids yet", p.Name, v.Auction.CurrentPrice), nil
	}
	return fmt.Sprintf("**%s** at **%d**, last bid by Team %s", p.Name, v.Auction.CurrentPrice, v.Auction.LastBidTeam), nil
}

func (h *Handlers) handleTeams(ctx context.Context) (string, error) {
	v, err := h.auctioneer.View(ctx)
	if err != nil {
		return "", err
	}
	names := make(map[string]string, len(v.Players))
	for _, p := range v.Players {
		names[p.ID] = p.Name
	}

	var b strings.Builder
	for _, id := range ledger.IDs {
		st := v.Team(id)
		fmt.Fprintf(&b, "**Team %s**: %d players, spent %d, %d left\n", id, st.Players, st.Spent, st.Remaining)
		for _, p := range v.Players {
			if p.Status == roster.StatusSold && p.SoldTo == string(id) {
				fmt.Fprintf(&b, "- %s (%d)\n", p.Name, *p.FinalPrice)
			}
		}
	}
	return b.String(), nil
}

// describe turns an auction error into a reply for the channel.
func describe(err error) string {
	var rej *bidding.Rejection
	switch {
	case errors.Is(err, auction.ErrNotAuthorized):
		return "Only auction admins can do that."
	case errors.Is(err, bidding.ErrNoActiveAuction):
		return "No player is under the hammer."
	case errors.As(err, &rej):
		return "Bid rejected: " + rej.Error()
	case errors.Is(err, auction.ErrAuctionBusy):
		return "Another player is already under the hammer."
	case errors.Is(err, auction.ErrPlayerNotFound):
		return "No such player."
	case errors.Is(err, auction.ErrNoBids):
		return "Nobody has bid yet, mark the player unsold instead."
	case errors.Is(err, auction.ErrConcurrentModification):
		return "The auction moved on while that was processed, please retry."
	}
	return fmt.Sprintf("Failed: %s", err)
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: msg,
		},
	})
}
