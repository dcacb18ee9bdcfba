package factory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/everkeep/everkeep/server/internal/config"
	storepkg "github.com/everkeep/everkeep/server/internal/store"
	storepg "github.com/everkeep/everkeep/server/internal/store/postgres"
	storelite "github.com/everkeep/everkeep/server/internal/store/sqlite"
)

// NewStore opens the store selected by cfg.DBDriver and ensures the schema
// exists before returning. The *sql.DB is returned alongside so callers can
// close it and wire health probes.
func NewStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storepkg.Store, *sql.DB, error) {
	switch cfg.DBDriver {
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, nil, fmt.Errorf("EVERKEEP_POSTGRES_DSN is required when DB_DRIVER=postgres")
		}
		db, err := storepg.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := storepg.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("postgres schema: %w", err)
		}
		log.Debug().Str("driver", cfg.DBDriver).Msg("store ready")
		return storepg.NewWithDB(db), db, nil

	case "sqlite":
		db, err := storelite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := storelite.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("sqlite schema: %w", err)
		}
		log.Debug().Str("driver", cfg.DBDriver).Str("path", cfg.SQLitePath).Msg("store ready")
		return storelite.NewWithDB(db), db, nil

	default:
		return nil, nil, fmt.Errorf("unknown DB_DRIVER: %s", cfg.DBDriver)
	}
}
