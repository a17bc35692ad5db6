// Package leader elects the one replica that runs the Discord bot. Every
// replica serves HTTP; only the holder of the Kubernetes Lease owns the bot
// session so each slash command is answered once.
package leader

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/jensholdgaard/team-auction/internal/config"
)

// Roles reported while an election runs.
const (
	RoleLeader   = "leader"
	RoleFollower = "follower"
)

// Callbacks are invoked as leadership changes hands.
type Callbacks struct {
	// OnStartedLeading runs when this replica takes the lease. It should
	// block until ctx is done.
	OnStartedLeading func(ctx context.Context)
	// OnStoppedLeading runs when the lease is lost or released.
	OnStoppedLeading func()
	// OnRoleChange, if set, receives RoleLeader or RoleFollower.
	OnRoleChange func(role string)
}

func (c Callbacks) role(r string) {
	if c.OnRoleChange != nil {
		c.OnRoleChange(r)
	}
}

// identity returns a unique identity for this instance.
// It uses the POD_NAME env var if set, otherwise the hostname.
func identity() string {
	if name := os.Getenv("POD_NAME"); name != "" {
		return name
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

// ClientFactory creates a Kubernetes clientset.
// Extracted as a variable for testing.
var ClientFactory = func() (kubernetes.Interface, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("building in-cluster config: %w", err)
	}
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	return client, nil
}

// Run blocks until ctx is done. With election disabled the replica leads
// for its whole life; otherwise it contends for the configured Lease.
func Run(ctx context.Context, cfg config.LeaderElectionConfig, logger *slog.Logger, cb Callbacks) error {
	if !cfg.Enabled {
		logger.Info("leader election disabled, running as leader")
		cb.role(RoleLeader)
		cb.OnStartedLeading(ctx)
		cb.OnStoppedLeading()
		return nil
	}

	id := identity()
	logger.Info("starting leader election",
		slog.String("identity", id),
		slog.String("lease", cfg.LeaseName),
		slog.String("namespace", cfg.LeaseNamespace),
	)

	client, err := ClientFactory()
	if err != nil {
		return fmt.Errorf("leader election client: %w", err)
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      cfg.LeaseName,
			Namespace: cfg.LeaseNamespace,
		},
		Client: client.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: id,
		},
	}

	cb.role(RoleFollower)
	leaderelection.RunOrDie(ctx, leaderelection.LeaderElectionConfig{
		Lock:            lock,
		LeaseDuration:   cfg.LeaseDuration,
		RenewDeadline:   cfg.RenewDeadline,
		RetryPeriod:     cfg.RetryPeriod,
		ReleaseOnCancel: true,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(ctx context.Context) {
				logger.Info("acquired leadership", slog.String("identity", id))
				cb.role(RoleLeader)
				cb.OnStartedLeading(ctx)
			},
			OnStoppedLeading: func() {
				logger.Info("lost leadership", slog.String("identity", id))
				cb.role(RoleFollower)
				cb.OnStoppedLeading()
			},
			OnNewLeader: func(newID string) {
				if newID == id {
					return
				}
				logger.Info("new leader elected", slog.String("leader", newID))
			},
		},
	})

	return nil
}
