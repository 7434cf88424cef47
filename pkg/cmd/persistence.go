package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/novu-co/novu-sub003/pkg/persistence"
	"github.com/novu-co/novu-sub003/pkg/persistence/file"
	"github.com/novu-co/novu-sub003/pkg/persistence/postgresql"
)

// NewPersistence picks the backend from the URL scheme: postgres:// or postgresql:// for
// PostgreSQL, anything else is a file:// directory.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}

		return p, nil
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}
