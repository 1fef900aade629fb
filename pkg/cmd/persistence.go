package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/taskflow/pkg/persistence"
	"github.com/dukex/taskflow/pkg/persistence/file"
	"github.com/dukex/taskflow/pkg/persistence/postgresql"
)

// NewPersistence selects the storage backend from the URL scheme: file://<dir> or
// postgres://. A bare path is treated as a file directory.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return file.NewPersistence(databaseURL), nil
	}

	switch provider {
	case "file":
		return file.NewPersistence(rest), nil
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}

		return p, nil
	default:
		return nil, fmt.Errorf("unsupported persistence provider: %s", provider)
	}
}
