package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/jonathan/songsmith/internal/blob"
	"github.com/jonathan/songsmith/internal/config"
	"github.com/jonathan/songsmith/internal/db"
	"github.com/jonathan/songsmith/internal/generation"
	"github.com/jonathan/songsmith/internal/pipeline"
	"github.com/jonathan/songsmith/internal/workflow"
)

const defaultWorkers = 4

// app holds the wired service components shared by the subcommands.
type app struct {
	cfg    config.Config
	db     *db.DB
	blobs  *blob.Store
	engine *workflow.Engine
	logger *log.Logger
}

// loadConfig resolves configuration from the environment, layered over an
// optional JSON config file.
func loadConfig(path string) (config.Config, error) {
	cfg := *config.FromEnv()
	if path != "" {
		fileCfg, err := config.LoadConfig(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = cfg.MergeWithDefaults(*fileCfg)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// bootstrap connects the database, applies the schema, builds the blob
// store, synthesis client and workflow engine, and registers the
// generation job.
func bootstrap(ctx context.Context, cfg config.Config) (*app, error) {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "songsmith",
	})

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	database.TransactionalCategoryReplace = cfg.CategoryReplaceTransactional()

	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	blobs, err := blob.New(ctx, blob.Config{
		EndpointURL:     cfg.S3EndpointURL,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		Bucket:          cfg.S3Bucket,
	})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to create blob store: %w", err)
	}

	client := generation.NewClient(generation.Options{
		Key:               cfg.ModalKey,
		Secret:            cfg.ModalSecret,
		Timeout:           time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		RequestsPerMinute: cfg.RequestsPerMinute,
		Logger:            logger.WithPrefix("synthesis"),
	})

	endpoints := generation.Endpoints{
		FromDescription:     cfg.GenerateFromDescriptionURL,
		WithLyrics:          cfg.GenerateWithLyricsURL,
		WithDescribedLyrics: cfg.GenerateWithDescribedLyricsURL,
	}

	workers := cfg.Workers
	if workers == 0 {
		workers = defaultWorkers
	}
	limiter := workflow.NewKeyedLimiter(int64(workers))
	engine := workflow.New(database, limiter, logger.WithPrefix("workflow"))

	job := pipeline.NewGenerateSongJob(database, client, endpoints, logger.WithPrefix("generate"))
	if err := engine.Register(job.Definition()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to register generation job: %w", err)
	}

	return &app{
		cfg:    cfg,
		db:     database,
		blobs:  blobs,
		engine: engine,
		logger: logger,
	}, nil
}

func (a *app) close() {
	a.db.Close()
}
