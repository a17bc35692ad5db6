package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/jensholdgaard/team-auction/internal/api"
	"github.com/jensholdgaard/team-auction/internal/auction"
	"github.com/jensholdgaard/team-auction/internal/auth"
	"github.com/jensholdgaard/team-auction/internal/bot"
	"github.com/jensholdgaard/team-auction/internal/clock"
	"github.com/jensholdgaard/team-auction/internal/config"
	"github.com/jensholdgaard/team-auction/internal/health"
	"github.com/jensholdgaard/team-auction/internal/leader"
	"github.com/jensholdgaard/team-auction/internal/roster"
	"github.com/jensholdgaard/team-auction/internal/store"
	"github.com/jensholdgaard/team-auction/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/team-auction/internal/store/memory"
	_ "github.com/jensholdgaard/team-auction/internal/store/redisstore"
	_ "github.com/jensholdgaard/team-auction/internal/store/sqlstore"
)

var version = "dev"

// seedPlayers fill an empty catalog when -seed is given.
var seedPlayers = []roster.Input{
	{Name: "Aarav Mehta", Pitch: "Opens fast, never tilts", InterestedGames: []string{"chess", "valorant"}},
	{Name: "Diya Sharma", Pitch: "Endgame specialist", InterestedGames: []string{"chess"}, BasePrice: 40},
	{Name: "Kabir Rao", Pitch: "Shot caller", InterestedGames: []string{"valorant", "cs2"}},
	{Name: "Meera Iyer", Pitch: "Can play any role", InterestedGames: []string{"fifa", "rocket league"}, BasePrice: 30},
	{Name: "Rohan Das", InterestedGames: []string{"fifa"}},
	{Name: "Sara Khan", Pitch: "Tournament veteran", InterestedGames: []string{"cs2", "chess"}, BasePrice: 50},
}

type options struct {
	configPath string
	seed       bool
	importCSV  string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to configuration file")
	flag.BoolVar(&opts.seed, "seed", false, "add sample players when the catalog is empty")
	flag.StringVar(&opts.importCSV, "import-csv", "", "import players from a CSV file and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("loading .env", slog.Any("error", err))
	}

	if err := run(opts); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(opts options) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	metrics, err := telemetry.NewMetrics(tp.MeterProvider)
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer st.Close()
	logger.InfoContext(ctx, "connected to store", slog.String("driver", cfg.Database.Driver))

	var gate auth.Gate = auth.NewAdminGate(logger, auth.ConfigDirectory(cfg.Auth.Admins), auth.StoreDirectory{Store: st})
	switch {
	case opts.importCSV != "":
		// The CLI operator already holds the store credentials.
		gate = auth.Allow
	case cfg.Auth.AllowAll:
		logger.WarnContext(ctx, "privilege gate disabled, every caller is an admin")
		gate = auth.Allow
	}
	manager := auction.NewManager(st, gate, cfg.Auction, logger, tp.TracerProvider, metrics, clk)

	var seed []roster.Input
	if opts.seed {
		seed = seedPlayers
	}
	if err := manager.Bootstrap(ctx, seed); err != nil {
		return err
	}
	if err := manager.Check(ctx); err != nil {
		logger.ErrorContext(ctx, "store fails consistency checks", slog.Any("error", err))
	}

	if opts.importCSV != "" {
		return importPlayers(ctx, manager, opts.importCSV, cfg.Auction.BasePrice, logger)
	}

	healthHandler := health.NewHandler(clk,
		health.StoreChecker(st),
		health.Checker{Name: "ledger", Check: manager.Check},
	)

	var accounts *auth.Accounts
	var issuer *auth.Issuer
	if cfg.Auth.JWTSecret != "" {
		accounts = auth.NewAccounts(cfg.Auth.Admins)
		issuer = auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, clk)
	}
	srv := api.New(api.Options{
		Manager:  manager,
		Accounts: accounts,
		Issuer:   issuer,
		Health:   healthHandler,
		Config:   cfg.Server,
		Logger:   logger,
		Tracer:   tp.TracerProvider,
	})

	// The API runs on all replicas; the store is shared.
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.InfoContext(ctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
			cancel()
		}
	}()
	healthHandler.SetReady(true)
	logger.InfoContext(ctx, "auctiond is running", slog.String("version", version))

	// runBot is the work only the leader does.
	runBot := func(ctx context.Context) {
		if cfg.Discord.Token == "" {
			logger.InfoContext(ctx, "discord token not set, bot disabled")
			<-ctx.Done()
			return
		}
		discordBot, botErr := bot.New(cfg.Discord, manager, logger, tp.TracerProvider)
		if botErr != nil {
			logger.ErrorContext(ctx, "creating bot failed", slog.Any("error", botErr))
			return
		}
		if botErr = discordBot.Run(ctx); botErr != nil {
			logger.ErrorContext(ctx, "bot stopped with error", slog.Any("error", botErr))
		}
	}

	if leaderErr := leader.Run(ctx, cfg.LeaderElection, logger, leader.Callbacks{
		OnStartedLeading: runBot,
		OnStoppedLeading: func() {
			if ctx.Err() == nil {
				logger.Info("lost leadership, shutting down...")
				cancel()
			}
		},
		OnRoleChange: healthHandler.SetRole,
	}); leaderErr != nil {
		return fmt.Errorf("leader election: %w", leaderErr)
	}

	<-ctx.Done()
	logger.Info("shutting down...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}

func importPlayers(ctx context.Context, m *auction.Manager, path string, basePrice int, logger *slog.Logger) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("opening player csv: %w", err)
	}
	defer f.Close()

	players, err := roster.ReadCSV(f, basePrice, uuid.NewString)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	n, err := m.ImportPlayers(ctx, players)
	logger.InfoContext(ctx, "imported players", slog.Int("count", n), slog.String("file", path))
	return err
}
