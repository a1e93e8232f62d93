package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pubformatter/internal/db"
	"pubformatter/internal/processor"
	"pubformatter/internal/server"
	"pubformatter/internal/store"
	"pubformatter/internal/submission"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var serveCommand = &cli.Command{
	Name:   "serve",
	Usage:  "Start the HTTP server",
	Action: serve,
}

func serve(cCtx *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config, err := loadConfig(cCtx.String("env-prefix"))
	if err != nil {
		return err
	}

	if err := requireDatabase(config); err != nil {
		return err
	}

	logger := newLogger(config)

	policy, err := submission.ParsePolicy(config.DownloadPolicy)
	if err != nil {
		return err
	}

	pool, err := db.Connect(ctx, config)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := store.Migrate(ctx, pool); err != nil {
		return err
	}

	submissionRepo := store.NewSubmissionRepository(pool)

	handleStorage, err := newStorage(ctx, config, logger)
	if err != nil {
		return err
	}

	client := processor.NewClient(
		config.ProcessorURL,
		logger,
		processor.WithTimeout(time.Duration(config.ProcessorTimeoutSec)*time.Second),
		processor.WithRateLimit(config.ProcessorRatePerSec),
	)

	registry := submission.NewRegistry(func(sessionID string) *submission.Workflow {
		return submission.New(submission.Config{
			SessionID: sessionID,
			Policy:    policy,
			HandleTTL: handleTTL(config),
		}, client, handleStorage, submissionRepo, logger)
	}, time.Duration(config.SessionMaxAgeSec)*time.Second, logger)

	sweepEvery := time.Duration(config.SweepEverySec) * time.Second
	go registry.RunSweeper(ctx, sweepEvery)
	go sweepRecorded(ctx, submissionRepo, handleStorage, sweepEvery, logger)

	srv, err := server.New(config, logger, registry)
	if err != nil {
		return err
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":      config.ServerPort,
			"policy":    policy,
			"processor": client.Endpoint(),
		}).Infof("server starting http://localhost:%d", config.ServerPort)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = srv.Stop(shutdownCtx)
	registry.Close(shutdownCtx)

	return err
}

// sweepRecorded reclaims expired handles left behind by earlier processes
func sweepRecorded(ctx context.Context, lister submission.ExpiredHandleLister, storage submission.Storage, interval time.Duration, logger *logrus.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			released, err := submission.SweepExpired(ctx, lister, storage, now, logger)
			if err != nil {
				logger.WithError(err).Error("failed to sweep recorded handles")
				continue
			}
			if released > 0 {
				logger.WithField("released", released).Info("swept recorded handles")
			}
		}
	}
}
