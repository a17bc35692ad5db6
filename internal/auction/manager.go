package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/team-auction/internal/auth"
	"github.com/jensholdgaard/team-auction/internal/bidding"
	"github.com/jensholdgaard/team-auction/internal/clock"
	"github.com/jensholdgaard/team-auction/internal/config"
	"github.com/jensholdgaard/team-auction/internal/event"
	"github.com/jensholdgaard/team-auction/internal/ledger"
	"github.com/jensholdgaard/team-auction/internal/roster"
	"github.com/jensholdgaard/team-auction/internal/store"
	"github.com/jensholdgaard/team-auction/internal/telemetry"
)

// Manager runs commands against the shared store. Each command is one
// optimistic transaction: read a snapshot, apply the pure transition, and
// commit conditionally on the snapshot's revision, retrying on conflict.
type Manager struct {
	store   store.Store
	gate    auth.Gate
	machine Machine

	maxRetries    uint
	retryInterval time.Duration
	opTimeout     time.Duration

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *telemetry.Metrics
	clock   clock.Clock
	newID   func() string
}

// NewManager creates a Manager enforcing cfg's rules.
func NewManager(st store.Store, gate auth.Gate, cfg config.AuctionConfig, logger *slog.Logger, tp trace.TracerProvider, metrics *telemetry.Metrics, clk clock.Clock) *Manager {
	return &Manager{
		store:         st,
		gate:          gate,
		machine:       Machine{Budget: cfg.Budget, BasePrice: cfg.BasePrice},
		maxRetries:    cfg.MaxRetries,
		retryInterval: cfg.RetryInterval,
		opTimeout:     cfg.OpTimeout,
		logger:        logger,
		tracer:        tp.Tracer("github.com/jensholdgaard/team-auction/internal/auction"),
		metrics:       metrics,
		clock:         clk,
		newID:         uuid.NewString,
	}
}

// Execute authorizes and runs cmd.
func (m *Manager) Execute(ctx context.Context, cmd Command) (Result, error) {
	if add, ok := cmd.(AddPlayer); ok && add.ID == "" {
		add.ID = m.newID()
		cmd = add
	}

	ctx, span := m.tracer.Start(ctx, "Manager."+cmd.Name(), trace.WithAttributes(cmd.attributes()...))
	defer span.End()

	res, err := m.execute(ctx, cmd)
	m.record(ctx, cmd, res, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	span.SetAttributes(attribute.Int64("store.revision", res.Revision))
	return res, nil
}

func (m *Manager) execute(ctx context.Context, cmd Command) (Result, error) {
	if !m.gate.Authorized(ctx) {
		return Result{}, fmt.Errorf("%s: %w", cmd.Name(), ErrNotAuthorized)
	}

	attempts := 0
	res, err := backoff.Retry(ctx, func() (Result, error) {
		attempts++
		snap, err := m.snapshot(ctx)
		if err != nil {
			return Result{}, backoff.Permanent(err)
		}
		out, err := m.machine.Apply(snap, cmd, m.clock.Now())
		if err != nil {
			return Result{}, backoff.Permanent(err)
		}
		if out.Change.Empty() {
			return out.Result, nil
		}
		for i := range out.Change.Events {
			out.Change.Events[i].ID = m.newID()
		}

		rev, err := m.commit(ctx, out.Change)
		if errors.Is(err, store.ErrConflict) {
			m.metrics.Conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("command", cmd.Name())))
			m.logger.DebugContext(ctx, "commit conflict, retrying",
				slog.String("command", cmd.Name()),
				slog.Int("attempt", attempts),
			)
			return Result{}, err
		}
		if err != nil {
			return Result{}, backoff.Permanent(err)
		}
		out.Result.Revision = rev
		stampResult(&out.Result, rev)
		return out.Result, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(m.retryInterval)),
		backoff.WithMaxTries(m.maxRetries+1),
	)
	if errors.Is(err, store.ErrConflict) {
		return Result{}, fmt.Errorf("%s: %w after %d attempts: %w", cmd.Name(), ErrConcurrentModification, attempts, err)
	}
	return res, err
}

// stampResult mirrors the versions the store assigned on commit.
func stampResult(r *Result, rev int64) {
	r.Player.Version = rev
	if r.Auction != nil {
		r.Auction.Version = rev
	}
	if r.Team != nil {
		r.Team.Version = rev
	}
}

func (m *Manager) snapshot(ctx context.Context) (*store.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()
	snap, err := m.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	return snap, nil
}

func (m *Manager) commit(ctx context.Context, c store.Change) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()
	return m.store.Commit(ctx, c)
}

// record emits metrics and logs for a finished command.
func (m *Manager) record(ctx context.Context, cmd Command, res Result, err error) {
	logger := telemetry.LogWithTrace(ctx, m.logger).With(slog.String("command", cmd.Name()))

	if bid, ok := cmd.(PlaceBid); ok {
		outcome := "accepted"
		if err != nil {
			outcome = reason(err)
		}
		m.metrics.Bids.Add(ctx, 1, metric.WithAttributes(
			attribute.String("team", bid.Team),
			attribute.String("outcome", outcome),
		))
	}

	if err != nil {
		logger.WarnContext(ctx, "command rejected", slog.String("reason", reason(err)), slog.Any("error", err))
		return
	}

	if _, ok := cmd.(FinalizeSale); ok && res.Team != nil {
		attrs := metric.WithAttributes(attribute.String("team", string(res.Team.ID)))
		m.metrics.Sales.Add(ctx, 1, attrs)
		m.metrics.SalePrice.Record(ctx, int64(*res.Player.FinalPrice), attrs)
	}
	logger.InfoContext(ctx, "command applied",
		slog.String("player_id", res.Player.ID),
		slog.String("status", string(res.Player.Status)),
		slog.Int("price", res.Player.CurrentPrice),
		slog.Int64("revision", res.Revision),
	)
}

// reason is a short, stable label for err.
func reason(err error) string {
	for _, r := range []struct {
		err   error
		label string
	}{
		{ErrNotAuthorized, "not_authorized"},
		{bidding.ErrNoActiveAuction, "no_active_auction"},
		{bidding.ErrInvalidDelta, "invalid_delta"},
		{bidding.ErrBelowBasePrice, "below_base_price"},
		{bidding.ErrBudgetExceeded, "budget_exceeded"},
		{ErrAuctionBusy, "auction_busy"},
		{ErrPlayerNotFound, "player_not_found"},
		{ErrTeamNotFound, "team_not_found"},
		{ErrNoBids, "no_bids"},
		{ErrInvalidTransition, "invalid_transition"},
		{ErrConcurrentModification, "concurrent_modification"},
		{roster.ErrInvalidPlayer, "invalid_player"},
		{store.ErrUnavailable, "store_unavailable"},
		{context.DeadlineExceeded, "timeout"},
	} {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return "error"
}

// StartAuction opens bidding on a player.
func (m *Manager) StartAuction(ctx context.Context, playerID string) (Result, error) {
	return m.Execute(ctx, StartAuction{PlayerID: playerID})
}

// PlaceBid raises the open auction by delta for team.
func (m *Manager) PlaceBid(ctx context.Context, team string, delta int) (Result, error) {
	return m.Execute(ctx, PlaceBid{Team: team, Delta: delta})
}

// ClearBidding resets the open auction for playerID to its base price.
func (m *Manager) ClearBidding(ctx context.Context, playerID string) (Result, error) {
	return m.Execute(ctx, ClearBidding{PlayerID: playerID})
}

// MarkUnsold ends the open auction for playerID without a sale.
func (m *Manager) MarkUnsold(ctx context.Context, playerID string) (Result, error) {
	return m.Execute(ctx, MarkUnsold{PlayerID: playerID})
}

// FinalizeSale sells playerID to the last bidding team.
func (m *Manager) FinalizeSale(ctx context.Context, playerID string) (Result, error) {
	return m.Execute(ctx, FinalizeSale{PlayerID: playerID})
}

// ResetPlayer returns playerID to the available pool, refunding its team.
func (m *Manager) ResetPlayer(ctx context.Context, playerID string) (Result, error) {
	return m.Execute(ctx, ResetPlayer{PlayerID: playerID})
}

// AddPlayer creates a player with a generated id.
func (m *Manager) AddPlayer(ctx context.Context, in roster.Input) (roster.Player, error) {
	res, err := m.Execute(ctx, AddPlayer{Input: in})
	if err != nil {
		return roster.Player{}, err
	}
	return res.Player, nil
}

// ImportPlayers adds each player in turn and returns how many were added
// before the first failure.
func (m *Manager) ImportPlayers(ctx context.Context, players []roster.Player) (int, error) {
	for i, p := range players {
		in := roster.Input{
			Name:            p.Name,
			Image:           p.Image,
			Pitch:           p.Pitch,
			InterestedGames: p.InterestedGames,
			BasePrice:       p.BasePrice,
		}
		if _, err := m.Execute(ctx, AddPlayer{ID: p.ID, Input: in}); err != nil {
			return i, fmt.Errorf("importing player %q: %w", p.Name, err)
		}
	}
	return len(players), nil
}

// Restore replaces the players, teams and admins with doc. Players that were
// bidding come back available; when doc carries no teams every player comes
// back available and both teams start from zero. The result must satisfy
// CheckInvariants or nothing is written.
func (m *Manager) Restore(ctx context.Context, doc store.Document) (int64, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Restore",
		trace.WithAttributes(attribute.Int("players", len(doc.Players)), attribute.Int("teams", len(doc.Teams))),
	)
	defer span.End()

	if !m.gate.Authorized(ctx) {
		return 0, fmt.Errorf("restore: %w", ErrNotAuthorized)
	}

	doc, err := m.normalize(doc)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	ev, err := event.New("store", event.StoreRestored, event.StoreRestoredData{
		Players: len(doc.Players),
		Teams:   len(doc.Teams),
		Admins:  len(doc.Admins),
	}, m.clock.Now())
	if err != nil {
		return 0, err
	}
	ev.ID = m.newID()

	ctx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()
	rev, err := m.store.Restore(ctx, doc, ev)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("restoring store: %w", err)
	}

	m.logger.InfoContext(ctx, "store restored",
		slog.Int("players", len(doc.Players)),
		slog.Int("teams", len(doc.Teams)),
		slog.Int("admins", len(doc.Admins)),
		slog.Int64("revision", rev),
	)
	return rev, nil
}

func (m *Manager) normalize(doc store.Document) (store.Document, error) {
	out := store.Document{Admins: doc.Admins}
	keepSales := len(doc.Teams) > 0

	snap := store.NewSnapshot()
	for _, p := range doc.Players {
		p = p.Clone()
		if p.BasePrice == 0 {
			p.BasePrice = m.machine.BasePrice
		}
		if !keepSales || p.Status == roster.StatusBidding || p.Status == "" {
			p = p.Reset()
		}
		if _, dup := snap.Players[p.ID]; dup {
			return store.Document{}, fmt.Errorf("%w: duplicate player id %q", roster.ErrInvalidPlayer, p.ID)
		}
		snap.Players[p.ID] = p
		out.Players = append(out.Players, p)
	}

	for _, t := range doc.Teams {
		if t.Budget == 0 {
			t.Budget = m.machine.Budget
		}
		snap.Teams[t.ID] = t.Clone()
	}
	for _, id := range ledger.IDs {
		if _, ok := snap.Teams[id]; !ok {
			snap.Teams[id] = ledger.New(id, m.machine.Budget)
		}
	}
	for _, id := range ledger.IDs {
		out.Teams = append(out.Teams, snap.Teams[id])
	}

	if err := CheckInvariants(snap); err != nil {
		return store.Document{}, err
	}
	return out, nil
}

// Bootstrap creates any missing team and, when the catalog is empty, adds
// seed players. It runs with system privileges.
func (m *Manager) Bootstrap(ctx context.Context, seed []roster.Input) error {
	ctx, span := m.tracer.Start(ctx, "Manager.Bootstrap")
	defer span.End()

	// Replicas starting together race for the empty store; the loser re-reads
	// and finds the teams already there.
	change, err := backoff.Retry(ctx, func() (store.Change, error) {
		snap, err := m.snapshot(ctx)
		if err != nil {
			return store.Change{}, backoff.Permanent(err)
		}
		change, err := m.bootstrapChange(snap, seed)
		if err != nil {
			return store.Change{}, backoff.Permanent(err)
		}
		if change.Empty() {
			return change, nil
		}
		if _, err := m.commit(ctx, change); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return store.Change{}, err
			}
			return store.Change{}, backoff.Permanent(err)
		}
		return change, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(m.retryInterval)),
		backoff.WithMaxTries(m.maxRetries+1),
	)
	if err != nil {
		return fmt.Errorf("bootstrapping store: %w", err)
	}
	if change.Empty() {
		return nil
	}
	m.logger.InfoContext(ctx, "store bootstrapped",
		slog.Int("teams", len(change.Teams)),
		slog.Int("players", len(change.Players)),
	)
	return nil
}

func (m *Manager) bootstrapChange(snap *store.Snapshot, seed []roster.Input) (store.Change, error) {
	change := store.Change{Revision: snap.Revision}
	for _, id := range ledger.IDs {
		if _, ok := snap.Teams[id]; !ok {
			change.Teams = append(change.Teams, ledger.New(id, m.machine.Budget))
		}
	}
	if len(snap.Players) == 0 {
		for _, in := range seed {
			p, err := roster.New(m.newID(), in, m.machine.BasePrice)
			if err != nil {
				return store.Change{}, fmt.Errorf("seed player %q: %w", in.Name, err)
			}
			change.Players = append(change.Players, p)
		}
	}
	return change, nil
}

// View returns the current presentation state.
func (m *Manager) View(ctx context.Context) (View, error) {
	snap, err := m.snapshot(ctx)
	if err != nil {
		return View{}, err
	}
	return m.machine.NewView(snap), nil
}

// Watch streams a View for the current state and after every change. Slow
// readers only see the latest. The channel closes when ctx is done.
func (m *Manager) Watch(ctx context.Context) (<-chan View, error) {
	snaps, err := m.store.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribing to store: %w", err)
	}
	out := make(chan View, 1)
	go func() {
		defer close(out)
		for snap := range snaps {
			v := m.machine.NewView(snap)
			select {
			case <-out:
			default:
			}
			out <- v
		}
	}()
	return out, nil
}

// History returns up to limit of the most recent audit events.
func (m *Manager) History(ctx context.Context, limit int) ([]event.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()
	return m.store.Events().Recent(ctx, limit)
}

// PlayerHistory returns the audit events for one player.
func (m *Manager) PlayerHistory(ctx context.Context, playerID string) ([]event.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()
	return m.store.Events().Load(ctx, playerID)
}

// Check reads the current state and verifies the cross-entity invariants.
func (m *Manager) Check(ctx context.Context) error {
	snap, err := m.snapshot(ctx)
	if err != nil {
		return err
	}
	return CheckInvariants(snap)
}
