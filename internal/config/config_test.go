package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jensholdgaard/team-auction/internal/config"
)

const testHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z1d0b5sXyE0VvV4xvD6X4bGm"

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "valid full config",
			yaml: `
discord:
  token: "test-token"
  guild_id: "123456"
database:
  driver: "postgres"
  host: "db.example.com"
  port: 5433
  user: "auction"
  password: "secret"
  dbname: "auction"
  sslmode: "require"
server:
  port: 9090
telemetry:
  service_name: "my-auction"
  otlp_endpoint: "localhost:4318"
auction:
  budget: 1500
  base_price: 25
  max_retries: 5
auth:
  jwt_secret: "s3cret"
  admins:
    - username: "operator"
      password_hash: "` + testHash + `"
    - discord_id: "998877"
`,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Discord.Token != "test-token" {
					t.Errorf("got token %q, want %q", cfg.Discord.Token, "test-token")
				}
				if cfg.Database.Port != 5433 {
					t.Errorf("got db port %d, want %d", cfg.Database.Port, 5433)
				}
				if cfg.Server.Port != 9090 {
					t.Errorf("got server port %d, want %d", cfg.Server.Port, 9090)
				}
				if cfg.Auction.Budget != 1500 || cfg.Auction.BasePrice != 25 {
					t.Errorf("got auction %+v", cfg.Auction)
				}
				if len(cfg.Auth.Admins) != 2 {
					t.Errorf("got %d admins, want 2", len(cfg.Auth.Admins))
				}
			},
		},
		{
			name: "defaults applied",
			yaml: `
discord:
  token: "tok"
`,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Database.Driver != "memory" {
					t.Errorf("got driver %q, want %q", cfg.Database.Driver, "memory")
				}
				if cfg.Auction.Budget != 1000 || cfg.Auction.BasePrice != 20 {
					t.Errorf("got auction %+v, want budget 1000 base 20", cfg.Auction)
				}
				if cfg.Auction.MaxRetries != 3 {
					t.Errorf("got max retries %d, want 3", cfg.Auction.MaxRetries)
				}
				if cfg.Telemetry.ServiceName != "team-auction" {
					t.Errorf("got service name %q, want %q", cfg.Telemetry.ServiceName, "team-auction")
				}
			},
		},
		{
			name:    "invalid yaml",
			yaml:    `{{{invalid`,
			wantErr: true,
		},
		{
			name: "invalid driver rejected",
			yaml: `
database:
  driver: "mongodb"
`,
			wantErr: true,
		},
		{
			name: "base price above budget rejected",
			yaml: `
auction:
  budget: 100
  base_price: 200
`,
			wantErr: true,
		},
		{
			name: "plain text password rejected",
			yaml: `
auth:
  jwt_secret: "s3cret"
  admins:
    - username: "operator"
      password_hash: "hunter2"
`,
			wantErr: true,
		},
		{
			name: "password login without secret rejected",
			yaml: `
auth:
  admins:
    - username: "operator"
      password_hash: "` + testHash + `"
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatal(err)
			}

			cfg, err := config.Load(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && cfg != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AUCTION_DB_DRIVER", "sqlite")
	t.Setenv("AUCTION_DB_PATH", "/var/lib/auction.db")
	t.Setenv("AUCTION_BUDGET", "2000")
	t.Setenv("AUCTION_OP_TIMEOUT", "2s")
	t.Setenv("AUCTION_AUTH_ALLOW_ALL", "true")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("auction:\n  budget: 500\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != "/var/lib/auction.db" {
		t.Errorf("got database %+v", cfg.Database)
	}
	if cfg.Auction.Budget != 2000 {
		t.Errorf("env must override file: got budget %d, want 2000", cfg.Auction.Budget)
	}
	if cfg.Auction.OpTimeout != 2*time.Second {
		t.Errorf("got op timeout %v, want 2s", cfg.Auction.OpTimeout)
	}
	if !cfg.Auth.AllowAll {
		t.Error("expected allow_all from env")
	}
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("got server port %d, want 8080", cfg.Server.Port)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := config.Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "user",
		Password: "pass",
		DBName:   "testdb",
		SSLMode:  "disable",
	}
	want := "host=localhost port=5432 user=user password=pass dbname=testdb sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
