package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/musicd/internal/backend"
	"github.com/example/musicd/internal/jobqueue"
	"github.com/example/musicd/internal/onnx"
	"github.com/example/musicd/internal/rpc"
	"github.com/example/musicd/internal/trackcache"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the musicd JSON-RPC daemon over stdin/stdout",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if _, err := onnx.Bootstrap(cfg.Runtime); err != nil {
				return fmt.Errorf("bootstrap ONNX runtime: %w", err)
			}

			registry := backend.New(cfg.Paths.MusicGenModelDir, cfg.Paths.AceStepModelDir)

			engines, err := rpc.BuildEngines(cfg, registry)
			if err != nil {
				return fmt.Errorf("load inference engines: %w", err)
			}

			cache, err := trackcache.New(cfg.Cache.Dir, cfg.Cache.MaxMB, cfg.Cache.MaxCount)
			if err != nil {
				return fmt.Errorf("open track cache: %w", err)
			}

			queue := jobqueue.New(cfg.Queue.MaxSize)

			srv := rpc.New(queue, cache, registry, engines, cfg,
				rpc.WithReader(os.Stdin),
				rpc.WithWriter(os.Stdout),
				rpc.WithShutdownTimeout(30*time.Second),
			)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Run(ctx)
		},
	}

	return cmd
}
