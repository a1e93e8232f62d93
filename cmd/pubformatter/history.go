package main

import (
	"context"
	"fmt"

	"pubformatter/internal/db"
	"pubformatter/internal/store"
	"pubformatter/pkg/types"

	"github.com/k0kubun/pp/v3"
	"github.com/urfave/cli/v2"
)

var historyCommand = &cli.Command{
	Name:  "history",
	Usage: "Show recorded submission attempts",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "session",
			Usage: "List the attempts of a form session, newest first",
		},
		&cli.StringFlag{
			Name:  "id",
			Usage: "Show a single submission",
		},
		&cli.Uint64Flag{
			Name:  "limit",
			Usage: "Maximum number of attempts to list",
			Value: 20,
		},
	},
	Action: func(c *cli.Context) error {
		if c.String("session") == "" && c.String("id") == "" {
			return fmt.Errorf("set --session or --id")
		}

		config, err := loadConfig(c.String("env-prefix"))
		if err != nil {
			return err
		}

		if err := requireDatabase(config); err != nil {
			return err
		}

		ctx := context.Background()

		pool, err := db.Connect(ctx, config)
		if err != nil {
			return err
		}
		defer pool.Close()

		repo := store.NewSubmissionRepository(pool)

		if id := c.String("id"); id != "" {
			submission, err := repo.Submission(ctx, id)
			if err != nil {
				return fmt.Errorf("load submission %s: %w", id, err)
			}
			pp.Println(submission)
			return nil
		}

		submissions, err := repo.SubmissionsBySession(ctx, c.String("session"), c.Uint64("limit"))
		if err != nil {
			return fmt.Errorf("list submissions: %w", err)
		}

		for _, submission := range submissions {
			fmt.Println(historyLine(submission))
		}

		return nil
	},
}

func historyLine(s *types.Submission) string {
	line := fmt.Sprintf("%s  %s  %-10s  %s  %s", s.CreatedAt.Format("2006-01-02 15:04:05"), s.ID, s.Status, s.DOI, s.SourceFileName)

	if s.FailureCategory != nil {
		line += "  " + *s.FailureCategory
		if s.StatusCode != nil {
			line += fmt.Sprintf(" (%d)", *s.StatusCode)
		}
	}

	if s.HandleReleasedAt != nil {
		line += "  released"
	}

	return line
}
