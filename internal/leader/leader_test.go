package leader

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jensholdgaard/team-auction/internal/config"
)

func TestIdentity_FromPodName(t *testing.T) {
	t.Setenv("POD_NAME", "auctiond-abc123")
	if got := identity(); got != "auctiond-abc123" {
		t.Errorf("identity() = %q, want %q", got, "auctiond-abc123")
	}
}

func TestIdentity_Hostname(t *testing.T) {
	t.Setenv("POD_NAME", "")
	host, err := os.Hostname()
	if err != nil {
		t.Skip("cannot get hostname")
	}
	if got := identity(); got != host {
		t.Errorf("identity() = %q, want %q", got, host)
	}
}

func TestRun_Disabled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var roles []string
	stopped := false
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, config.LeaderElectionConfig{}, slog.Default(), Callbacks{
			OnStartedLeading: func(ctx context.Context) { <-ctx.Done() },
			OnStoppedLeading: func() { stopped = true },
			OnRoleChange:     func(r string) { roles = append(roles, r) },
		})
	}()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !stopped {
		t.Error("OnStoppedLeading was not called")
	}
	if len(roles) != 1 || roles[0] != RoleLeader {
		t.Errorf("roles = %v, want [leader]", roles)
	}
}
