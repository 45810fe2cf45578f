package db

import (
	"context"
	"fmt"
	"log/slog"

	"siri-poller/internal/logging"
)

// LoadLineCatalog opens dsn and returns the numeric line references of the
// GTFS routes table. With a city set, dsn is treated as the cluster DSN and
// the newest import database for that city is read instead.
func LoadLineCatalog(ctx context.Context, dsn, city, agencyID string, logger *slog.Logger) ([]int, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if city != "" {
		meta, err := Open(dsn)
		if err != nil {
			return nil, fmt.Errorf("open meta db: %w", err)
		}
		name, err := ResolveLatestImportDBName(ctx, meta, city)
		logging.SafeCloseWithLogging(meta, logger, "meta_db_close")
		if err != nil {
			return nil, fmt.Errorf("resolve import db: %w", err)
		}
		dsn, err = WithDBName(dsn, name)
		if err != nil {
			return nil, fmt.Errorf("build import dsn: %w", err)
		}
		logger.Info("using latest gtfs import", slog.String("city", city), slog.String("db", name))
	}

	conn, err := Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	defer logging.SafeCloseWithLogging(conn, logger, "catalog_db_close")

	if err := Ping(ctx, conn); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	refs, err := FetchLineRefs(ctx, conn, agencyID)
	if err != nil {
		return nil, err
	}
	logging.LogOperation(logger, "line_catalog_loaded",
		slog.String("source", "postgres"),
		slog.Int("lines", len(refs)))
	return refs, nil
}
