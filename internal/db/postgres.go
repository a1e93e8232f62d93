package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pubformatter/pkg/types"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema holds every table of the service
const Schema = "pubformatter"

func Connect(ctx context.Context, config *types.Config) (*pgxpool.Pool, error) {

	poolConfig, err := PoolConfig(config)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// PoolConfig parses DATABASE_URL and applies the pool settings. A
// search_path or pool_max_conns given in the URL wins over the defaults.
func PoolConfig(config *types.Config) (*pgxpool.Config, error) {
	if config.DatabaseURL == "" {
		return nil, fmt.Errorf("database url is empty")
	}

	poolConfig, err := pgxpool.ParseConfig(config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if _, ok := poolConfig.ConnConfig.RuntimeParams["search_path"]; !ok {
		poolConfig.ConnConfig.RuntimeParams["search_path"] = Schema
	}

	// works for both URL and keyword/value connection strings
	if config.DatabaseMaxConns > 0 && !strings.Contains(config.DatabaseURL, "pool_max_conns=") {
		poolConfig.MaxConns = config.DatabaseMaxConns
	}

	// the sweepers run every SWEEP_EVERY_SEC, keep a connection warm for them
	poolConfig.MinConns = 1
	poolConfig.MaxConnIdleTime = 15 * time.Minute
	poolConfig.MaxConnLifetime = 45 * time.Minute

	return poolConfig, nil
}
