package main

import (
	"context"

	"pubformatter/internal/db"
	"pubformatter/internal/store"

	"github.com/urfave/cli/v2"
)

var migrateCommand = &cli.Command{
	Name:  "migrate",
	Usage: "Create the submission schema",
	Action: func(c *cli.Context) error {
		config, err := loadConfig(c.String("env-prefix"))
		if err != nil {
			return err
		}

		if err := requireDatabase(config); err != nil {
			return err
		}

		logger := newLogger(config)
		ctx := context.Background()

		pool, err := db.Connect(ctx, config)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := store.Migrate(ctx, pool); err != nil {
			return err
		}

		logger.Info("schema is up to date")
		return nil
	},
}
