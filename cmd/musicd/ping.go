package main

import (
	"fmt"
	"os"

	"github.com/example/musicd/internal/backend"
	"github.com/example/musicd/internal/onnx"
	"github.com/spf13/cobra"
)

// newPingCmd is musicd's liveness probe. Unlike an HTTP server, a serve
// process speaks line-delimited JSON-RPC over its own stdin/stdout and
// exposes no separate address a sibling process could dial, so ping checks
// the same preconditions serve itself depends on: the ONNX runtime loads
// and the configured backend directories resolve to a usable status.
func newPingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that musicd's runtime and backend assets are reachable",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if _, err := onnx.Bootstrap(cfg.Runtime); err != nil {
				return fmt.Errorf("ONNX runtime unreachable: %w", err)
			}
			defer func() { _ = onnx.Shutdown() }()

			registry := backend.New(cfg.Paths.MusicGenModelDir, cfg.Paths.AceStepModelDir)
			for _, desc := range registry.List() {
				fmt.Fprintf(os.Stdout, "%-10s %-10s status=%s\n", desc.Type, desc.Name, desc.Status)
			}

			_, err = fmt.Fprintln(os.Stdout, "ok")
			return err
		},
	}

	return cmd
}
