package main

import (
	"context"
	"time"

	"pubformatter/internal/db"
	"pubformatter/internal/store"
	"pubformatter/internal/submission"

	"github.com/urfave/cli/v2"
)

var sweepCommand = &cli.Command{
	Name:  "sweep",
	Usage: "Delete the content of recorded download handles that have expired",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "grace",
			Usage: "Only sweep handles that expired at least this long ago",
		},
	},
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

		handleStorage, err := newStorage(ctx, config, logger)
		if err != nil {
			return err
		}

		released, err := submission.SweepExpired(ctx, store.NewSubmissionRepository(pool), handleStorage, time.Now().Add(-c.Duration("grace")), logger)
		if err != nil {
			return err
		}

		logger.WithField("released", released).Info("sweep complete")
		return nil
	},
}
