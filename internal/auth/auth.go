// Package auth decides who may mutate auction state. Adapters resolve the
// caller into a Principal on the context; a Gate answers whether that
// principal holds the admin capability.
package auth

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jensholdgaard/team-auction/internal/config"
	"github.com/jensholdgaard/team-auction/internal/store"
)

// Principal is an authenticated caller.
type Principal struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	// Source is the adapter that authenticated the caller, e.g. "http".
	Source string `json:"source"`
}

type principalKey struct{}

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal on ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.ID != ""
}

// Gate is the privilege capability check consulted before every mutation.
type Gate interface {
	Authorized(ctx context.Context) bool
}

// Static is a Gate with a fixed answer.
type Static bool

const (
	Allow Static = true
	Deny  Static = false
)

func (s Static) Authorized(context.Context) bool { return bool(s) }

// Directory answers whether an identity is an admin.
type Directory interface {
	IsAdmin(ctx context.Context, id string) (bool, error)
}

// AdminGate authorizes principals found in any of its directories.
type AdminGate struct {
	dirs   []Directory
	logger *slog.Logger
}

// NewAdminGate returns a gate over dirs, consulted in order.
func NewAdminGate(logger *slog.Logger, dirs ...Directory) *AdminGate {
	return &AdminGate{dirs: dirs, logger: logger}
}

func (g *AdminGate) Authorized(ctx context.Context) bool {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return false
	}
	for _, d := range g.dirs {
		ok, err := d.IsAdmin(ctx, p.ID)
		if err != nil {
			g.logger.WarnContext(ctx, "admin directory lookup failed",
				slog.String("principal", p.ID),
				slog.Any("error", err),
			)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// StaticDirectory is a fixed set of admin identities.
type StaticDirectory map[string]struct{}

// ConfigDirectory lists the usernames and Discord IDs of the configured
// admins.
func ConfigDirectory(admins []config.AdminAccount) StaticDirectory {
	d := StaticDirectory{}
	for _, a := range admins {
		if a.Username != "" {
			d[strings.ToLower(a.Username)] = struct{}{}
		}
		if a.DiscordID != "" {
			d[a.DiscordID] = struct{}{}
		}
	}
	return d
}

func (d StaticDirectory) IsAdmin(_ context.Context, id string) (bool, error) {
	_, ok := d[id]
	if !ok {
		_, ok = d[strings.ToLower(id)]
	}
	return ok, nil
}

// StoreDirectory reads the admin registry kept in the shared store.
type StoreDirectory struct {
	Store store.Store
}

func (d StoreDirectory) IsAdmin(ctx context.Context, id string) (bool, error) {
	snap, err := d.Store.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	_, ok := snap.Admins[id]
	return ok, nil
}
