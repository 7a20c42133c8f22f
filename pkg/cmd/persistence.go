// Package cmd provides shared bootstrap helpers for the paperwork services.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vessoa/paperwork/pkg/persistence"
	"github.com/vessoa/paperwork/pkg/persistence/file"
	"github.com/vessoa/paperwork/pkg/persistence/postgresql"
)

// NewPersistence builds the store for a database URL. postgres:// URLs get
// the PostgreSQL store; file:// URLs and bare paths get the JSON file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceScheme(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "file":
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
	default:
		return nil, fmt.Errorf("unsupported persistence scheme in %q (supported: file, postgres)", databaseURL)
	}
}

func parsePersistenceScheme(databaseURL string) string {
	parts := strings.SplitN(databaseURL, "://", 2)
	if len(parts) < 2 {
		return "file"
	}

	return parts[0]
}
