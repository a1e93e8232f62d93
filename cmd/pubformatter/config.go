package main

import (
	"context"
	"fmt"
	"time"

	"pubformatter/internal/storage"
	"pubformatter/internal/submission"
	"pubformatter/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

func loadConfig(prefix string) (*types.Config, error) {
	c := new(types.Config)
	if err := envconfig.Process(prefix, c); err != nil {
		return nil, fmt.Errorf("process environment config: %w", err)
	}

	if c.ServerPort == 0 {
		c.ServerPort = 8080
	}

	if c.ReadTimeoutSec == 0 {
		c.ReadTimeoutSec = 30
	}

	// the processing call alone may take up to ProcessorTimeoutSec
	if c.WriteTimeoutSec <= c.ProcessorTimeoutSec {
		c.WriteTimeoutSec = c.ProcessorTimeoutSec + 30
	}

	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = 25
	}

	if c.SweepEverySec == 0 {
		c.SweepEverySec = 60
	}

	if _, err := submission.ParsePolicy(c.DownloadPolicy); err != nil {
		return nil, err
	}

	return c, nil
}

func requireDatabase(c *types.Config) error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("set DATABASE_URL")
	}
	return nil
}

func newLogger(c *types.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		logger.WithError(err).WithField("level", c.LogLevel).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

func handleTTL(c *types.Config) time.Duration {
	return time.Duration(c.DownloadTTLSec) * time.Second
}

func loadAWSConfig(ctx context.Context) (aws.Config, error) {
	config, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
	}

	return config, nil
}

// newStorage builds the handle storage selected by STORAGE_BACKEND
func newStorage(ctx context.Context, c *types.Config, logger *logrus.Logger) (submission.Storage, error) {
	switch c.StorageBackend {
	case "", "local":
		return storage.NewLocalStorage(c.StorageDir, logger), nil
	case "s3":
		if c.StorageBucketName == "" {
			return nil, fmt.Errorf("set STORAGE_BUCKET_NAME for the s3 storage backend")
		}

		awsConfig, err := loadAWSConfig(ctx)
		if err != nil {
			return nil, err
		}

		return storage.NewS3Storage(s3.NewFromConfig(awsConfig), c.StorageBucketName), nil
	}

	return nil, fmt.Errorf("unknown storage backend %q (want local or s3)", c.StorageBackend)
}
