package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/example/musicd/internal/config"
	"github.com/example/musicd/internal/model"
	"github.com/spf13/cobra"
)

func newModelVerifyCmd() *cobra.Command {
	var backendName string
	var manifestPath string
	var ortAPIVersion uint32

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run smoke inference against a backend's loaded ONNX graphs",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			backendID, err := config.NormalizeBackend(backendName)
			if err != nil {
				return err
			}

			manifest := manifestPath
			if manifest == "" {
				dir := cfg.Paths.MusicGenModelDir
				if backendID == "ace_step" {
					dir = cfg.Paths.AceStepModelDir
				}
				manifest = filepath.Join(dir, "manifest.json")
			}

			err = model.VerifyONNX(model.VerifyOptions{
				ManifestPath:  manifest,
				ORTLibrary:    cfg.Runtime.ORTLibraryPath,
				ORTAPIVersion: ortAPIVersion,
				Stdout:        os.Stdout,
				Stderr:        os.Stderr,
			})
			if err != nil {
				return fmt.Errorf("verify %s: %w", backendID, err)
			}

			_, err = fmt.Fprintf(os.Stdout, "backend %s: all graphs verified\n", backendID)
			return err
		},
	}

	cmd.Flags().StringVar(&backendName, "backend", "musicgen", "Backend to verify: musicgen|ace_step")
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Path to manifest.json (defaults to the backend's configured model dir)")
	cmd.Flags().Uint32Var(&ortAPIVersion, "ort-api-version", 23, "ONNX Runtime C API version expected by the purego binding")

	return cmd
}
