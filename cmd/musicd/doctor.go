package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/example/musicd/internal/backend"
	"github.com/example/musicd/internal/doctor"
	"github.com/example/musicd/internal/onnx"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime and backend asset checks",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			registry := backend.New(cfg.Paths.MusicGenModelDir, cfg.Paths.AceStepModelDir)

			var checks []doctor.BackendCheck
			for _, desc := range registry.List() {
				id := "musicgen"
				if desc.Type == "diffusion" {
					id = "ace_step"
				}
				var berr error
				if b := registry.Get(id); b != nil {
					berr = b.LastError()
				}
				checks = append(checks, doctor.BackendCheck{
					ID: id, Type: desc.Type, Status: desc.Status, Err: berr,
				})
			}

			dcfg := doctor.Config{
				ORTVersion: func() (string, error) {
					info, err := onnx.Bootstrap(cfg.Runtime)
					if err != nil {
						return "", err
					}
					return info.Version, nil
				},
				Backends: checks,
				CacheDir: cfg.Cache.Dir,
			}

			result := doctor.Run(dcfg, os.Stdout)

			if result.Failed() {
				for _, f := range result.Failures() {
					fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}
				return errors.New("doctor checks failed")
			}

			_, err = fmt.Fprintln(os.Stdout, "doctor checks passed")
			return err
		},
	}

	return cmd
}
