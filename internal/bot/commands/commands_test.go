package commands_test

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/team-auction/internal/auction"
	"github.com/jensholdgaard/team-auction/internal/auth"
	"github.com/jensholdgaard/team-auction/internal/bot/commands"
	"github.com/jensholdgaard/team-auction/internal/clock"
	"github.com/jensholdgaard/team-auction/internal/config"
	"github.com/jensholdgaard/team-auction/internal/roster"
	"github.com/jensholdgaard/team-auction/internal/store/memory"
	"github.com/jensholdgaard/team-auction/internal/telemetry"
)

const adminID = "1001"

func setup(t *testing.T) (*commands.Handlers, *auction.Manager) {
	t.Helper()
	metrics, err := telemetry.NewMetrics(metricnoop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	gate := auth.NewAdminGate(slog.Default(), auth.ConfigDirectory([]config.AdminAccount{{DiscordID: adminID}}))
	cfg := config.Defaults().Auction
	m := auction.NewManager(memory.New(), gate, cfg, slog.Default(), noop.NewTracerProvider(), metrics,
		clock.NewMock(time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)))

	if err := m.Bootstrap(context.Background(), nil); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return commands.NewHandlers(m, slog.Default(), noop.NewTracerProvider()), m
}

func as(id string) context.Context {
	return auth.WithPrincipal(context.Background(), auth.Principal{ID: id, Name: "tester", Source: "discord"})
}

func str(name, v string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionString, Value: v}
}

func num(name string, v int) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionInteger, Value: float64(v)}
}

type opts = []*discordgo.ApplicationCommandInteractionDataOption

func TestSlashCommands(t *testing.T) {
	seen := make(map[string]bool)
	for _, c := range commands.SlashCommands() {
		if c.Name == "" || c.Description == "" {
			t.Errorf("command %+v is missing a name or description", c)
		}
		if seen[c.Name] {
			t.Errorf("duplicate command %q", c.Name)
		}
		seen[c.Name] = true
	}
	for _, want := range []string{"auction-start", "bid", "auction-clear", "auction-unsold", "auction-sold", "player-reset", "teams"} {
		if !seen[want] {
			t.Errorf("missing command %q", want)
		}
	}
}

func TestHandle_AuctionFlow(t *testing.T) {
	h, m := setup(t)
	ctx := as(adminID)
	p, err := m.AddPlayer(ctx, roster.Input{Name: "Asha", InterestedGames: []string{"chess", "go"}})
	if err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}

	steps := []struct {
		name string
		cmd  string
		opts opts
		want string
	}{
		{"status before start", "auction-status", nil, "No player is under the hammer"},
		{"start", "auction-start", opts{str("player", p.ID)}, "Now bidding: **Asha** (chess, go), starting at **20**"},
		{"status without bids", "auction-status", nil, "no bids yet"},
		{"bid A", "bid", opts{str("team", "A"), num("increment", 30)}, "Team A bids **50**"},
		{"bid B", "bid", opts{str("team", "B"), num("increment", 10)}, "Team B bids **60**"},
		{"over budget", "bid", opts{str("team", "A"), num("increment", 5000)}, "Bid rejected: team A cannot afford 5060"},
		{"status", "auction-status", nil, "last bid by Team B"},
		{"sell current", "auction-sold", nil, "SOLD! **Asha** to Team B for **60** (940 left)"},
		{"teams", "teams", nil, "- Asha (60)"},
		{"reset", "player-reset", opts{str("player", p.ID)}, "Team B refunded"},
		{"sell again", "auction-sold", nil, "No player is under the hammer"},
	}
	for _, s := range steps {
		if got := h.Handle(ctx, s.cmd, s.opts); !strings.Contains(got, s.want) {
			t.Errorf("%s: got %q, want it to contain %q", s.name, got, s.want)
		}
	}
}

func TestHandle_ClearAndUnsold(t *testing.T) {
	h, m := setup(t)
	ctx := as(adminID)
	p, err := m.AddPlayer(ctx, roster.Input{Name: "Bo", InterestedGames: []string{"chess"}, BasePrice: 40})
	if err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}
	h.Handle(ctx, "auction-start", opts{str("player", p.ID)})
	h.Handle(ctx, "bid", opts{str("team", "A"), num("increment", 10)})

	if got := h.Handle(ctx, "auction-clear", nil); !strings.Contains(got, "back at **40**") {
		t.Errorf("clear: got %q", got)
	}
	if got := h.Handle(ctx, "auction-sold", opts{str("player", p.ID)}); !strings.Contains(got, "Nobody has bid yet") {
		t.Errorf("sell without bids: got %q", got)
	}
	if got := h.Handle(ctx, "auction-unsold", nil); !strings.Contains(got, "goes unsold") {
		t.Errorf("unsold: got %q", got)
	}
}

func TestHandle_RequiresAdmin(t *testing.T) {
	h, m := setup(t)
	p, err := m.AddPlayer(as(adminID), roster.Input{Name: "Cy", InterestedGames: []string{"chess"}})
	if err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}

	for _, ctx := range []context.Context{as("2002"), context.Background()} {
		got := h.Handle(ctx, "auction-start", opts{str("player", p.ID)})
		if got != "Only auction admins can do that." {
			t.Errorf("got %q", got)
		}
	}
	if got := h.Handle(as("2002"), "teams", nil); !strings.Contains(got, "Team A") {
		t.Errorf("read-only command should work for anyone, got %q", got)
	}
}

func TestHandle_Unknown(t *testing.T) {
	h, _ := setup(t)
	if got := h.Handle(context.Background(), "auction-close", nil); got != "Unknown command" {
		t.Errorf("got %q", got)
	}
}
