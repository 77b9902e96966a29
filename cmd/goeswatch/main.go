// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

// goeswatch runs the weather imagery system: an HTTP API, a job worker
// or the beat scheduler, selected by subcommand. All three share one
// catalog database and redis broker.
package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"storj.io/common/process"

	"github.com/goeswatch/goeswatch"
	"github.com/goeswatch/goeswatch/version"
)

var rootCmd = &cobra.Command{
	Use:   "goeswatch",
	Short: "GOES satellite imagery fetcher and catalog",
}

func init() {
	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "api",
			Short: "Run the HTTP API server",
			RunE:  cmdAPI,
		},
		&cobra.Command{
			Use:   "worker",
			Short: "Run a job worker",
			RunE:  cmdWorker,
		},
		&cobra.Command{
			Use:   "beat",
			Short: "Run the schedule and cleanup beat",
			RunE:  cmdBeat,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print build information",
			Run: func(cmd *cobra.Command, args []string) {
				info := version.Build()
				cmd.Printf("goeswatch %s (%s) %s\n", info.Version, info.Commit, info.GoVersion)
			},
		},
	)
}

func main() {
	process.Exec(rootCmd)
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// loadConfig assembles the runtime configuration from the environment.
// Component tunables not exposed here keep their code defaults.
func loadConfig() goeswatch.Config {
	config := goeswatch.Config{
		Database: envOr("DATABASE_URL", "sqlite3://goeswatch.db"),
		Redis:    envOr("REDIS_URL", "redis://localhost:6379/0"),
		Storage:  envOr("STORAGE_PATH", "./storage"),
		Encoder:  envOr("FFMPEG_BINARY", "ffmpeg"),
	}
	config.API.Address = envOr("API_ADDRESS", ":8000")
	config.API.APIKey = os.Getenv("API_KEY")
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				config.API.CORSOrigins = append(config.API.CORSOrigins, origin)
			}
		}
	}
	config.Worker.ID = os.Getenv("WORKER_ID")
	return config
}

func runPeer(ctx context.Context, run func(context.Context) error, close func() error) error {
	runErr := run(ctx)
	closeErr := close()
	if runErr != nil {
		return runErr
	}
	return closeErr
}

func cmdAPI(cmd *cobra.Command, args []string) error {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	peer, err := goeswatch.NewAPI(ctx, log, loadConfig())
	if err != nil {
		return err
	}
	return runPeer(ctx, peer.Run, peer.Close)
}

func cmdWorker(cmd *cobra.Command, args []string) error {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	peer, err := goeswatch.NewWorker(ctx, log, loadConfig())
	if err != nil {
		return err
	}
	return runPeer(ctx, peer.Run, peer.Close)
}

func cmdBeat(cmd *cobra.Command, args []string) error {
	ctx, _ := process.Ctx(cmd)
	log := zap.L()

	peer, err := goeswatch.NewBeat(ctx, log, loadConfig())
	if err != nil {
		return err
	}
	return runPeer(ctx, peer.Run, peer.Close)
}
