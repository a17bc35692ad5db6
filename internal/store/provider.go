package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jensholdgaard/team-auction/internal/config"
)

// Driver is a function that opens a connection and returns a Store.
type Driver func(ctx context.Context, cfg config.DatabaseConfig) (Store, error)

// registry maps driver names to their factory functions.
var registry = map[string]Driver{}

// Register adds a named driver to the global registry.
// It is intended to be called from init() in each driver package.
func Register(name string, d Driver) {
	registry[name] = d
}

// Open selects the driver specified in cfg.Driver and completes the
// connection handshake within cfg.ConnectTimeout. Handshake failures wrap
// ErrUnavailable.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	d, ok := registry[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unknown store driver %q (registered: %v)", cfg.Driver, registeredNames())
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	s, err := d(ctx, cfg)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, cfg.Driver, err)
	}
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: %s: ping: %w", ErrUnavailable, cfg.Driver, err)
	}
	return s, nil
}

func registeredNames() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
