package jobs

import (
	"context"
	"fmt"

	"github.com/DrPeryCox/pres-gen-new/internal/config"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/logger"
)

// Open returns the store selected by cfg.Driver with its schema migrated.
func Open(ctx context.Context, cfg config.Store, log *logger.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return OpenSQLite(ctx, cfg.SQLitePath, log)
	case "postgres":
		return OpenPostgres(ctx, cfg.DatabaseURL, log)
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}
