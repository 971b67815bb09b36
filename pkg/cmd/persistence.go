// Package cmd provides shared initialization for the command-line
// binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/voyagerhq/voyager/pkg/persistence"
	"github.com/voyagerhq/voyager/pkg/persistence/memory"
	"github.com/voyagerhq/voyager/pkg/persistence/postgresql"
)

// NewPersistence selects the persistence backend from the database URL
// scheme. Anything that is not PostgreSQL falls back to the in-memory
// store, which is only suitable for development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to initialize postgresql persistence: %w", err))
		}

		return p
	case databaseURL == "memory://":
		logger.WarnContext(ctx, "using in-memory persistence; state is lost on restart")

		return memory.NewPersistence()
	default:
		panic("unsupported database URL: " + databaseURL)
	}
}
