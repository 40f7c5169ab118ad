package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/songsmith/internal/pipeline"
	"github.com/jonathan/songsmith/internal/server"
)

var (
	servePort       int
	serveConfigPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that queues songs, dispatches generation jobs and serves playback URLs.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to config.json file (environment values take precedence)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(serveConfigPath)
	if err != nil {
		return err
	}
	if cfg.Port == 0 {
		cfg.Port = servePort
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	// Pick up runs interrupted by a previous crash before accepting traffic.
	handles, err := a.engine.ResumePending(ctx, pipeline.JobGenerateSong)
	if err != nil {
		return fmt.Errorf("failed to resume pending runs: %w", err)
	}
	if len(handles) > 0 {
		a.logger.Info("resumed interrupted generation runs", "count", len(handles))
	}

	srv := server.New(server.Config{
		Port:   cfg.Port,
		Store:  a.db,
		Engine: a.engine,
		Blobs:  a.blobs,
		Logger: a.logger.WithPrefix("http"),
	})

	return srv.Start()
}
