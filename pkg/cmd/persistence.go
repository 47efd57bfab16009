// Package cmd provides common initialization functions for the command
// line binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/flowstone-io/flowstone/pkg/persistence"
	"github.com/flowstone-io/flowstone/pkg/persistence/memory"
	"github.com/flowstone-io/flowstone/pkg/persistence/postgresql"
)

// NewPersistence builds the durable store from a connection URL. The
// scheme selects the implementation; "memory://" is for local development
// only.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	provider, _, _ := strings.Cut(databaseURL, "://")

	switch provider {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to initialize postgresql persistence: %w", err))
		}

		return store
	case "memory":
		return memory.NewPersistence()
	default:
		panic("unsupported persistence provider: " + provider)
	}
}
