package main

import (
	"fmt"
	"os"

	"github.com/example/musicd/internal/config"
	"github.com/example/musicd/internal/model"
	"github.com/spf13/cobra"
)

func newModelDownloadCmd() *cobra.Command {
	var backendName string
	var outDir string
	var hfToken string
	var archiveURL string
	var archiveSHA256 string
	var archiveVariant string
	var lockFile string

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download a backend's pinned ONNX model assets from Hugging Face",
		RunE: func(_ *cobra.Command, _ []string) error {
			backendID, err := config.NormalizeBackend(backendName)
			if err != nil {
				return err
			}

			dir := outDir
			if dir == "" {
				cfg, err := requireConfig()
				if err == nil {
					if backendID == "musicgen" {
						dir = cfg.Paths.MusicGenModelDir
					} else {
						dir = cfg.Paths.AceStepModelDir
					}
				}
			}
			if dir == "" {
				return fmt.Errorf("--out-dir is required when no config is loaded")
			}

			// --archive-url (or a resolvable lock file) selects the single-file
			// archive acquisition path, used for offline/airgapped installs where
			// per-graph ranged GETs against Hugging Face aren't available.
			if archiveURL != "" || lockFile != "" {
				err = model.DownloadONNXBundle(model.DownloadONNXBundleOptions{
					Backend:   backendID,
					Variant:   archiveVariant,
					BundleURL: archiveURL,
					SHA256:    archiveSHA256,
					LockFile:  lockFile,
					OutDir:    dir,
					Stdout:    os.Stdout,
					Stderr:    os.Stderr,
				})
				if err != nil {
					return fmt.Errorf("model bundle download failed: %w", err)
				}
				return nil
			}

			if hfToken == "" {
				hfToken = os.Getenv("HF_TOKEN")
			}

			err = model.Download(model.DownloadOptions{
				Backend: backendID,
				OutDir:  dir,
				Token:   hfToken,
				Stdout:  os.Stdout,
				Stderr:  os.Stderr,
			})
			if err != nil {
				return fmt.Errorf("model download failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&backendName, "backend", "musicgen", "Backend to download: musicgen|ace_step")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "Directory to store downloaded assets (defaults to the backend's configured model dir)")
	cmd.Flags().StringVar(&hfToken, "hf-token", "", "Hugging Face token (falls back to HF_TOKEN env var)")
	cmd.Flags().StringVar(&archiveURL, "archive-url", "", "Download a single pre-bundled archive (.zip/.tar.gz) instead of per-file Hugging Face fetches")
	cmd.Flags().StringVar(&archiveSHA256, "archive-sha256", "", "Expected sha256 of --archive-url (skipped when resolved from --lock-file)")
	cmd.Flags().StringVar(&archiveVariant, "archive-variant", "fp32", "Archive variant to resolve from --lock-file when --archive-url is omitted")
	cmd.Flags().StringVar(&lockFile, "lock-file", "", "Bundle lock file (bundles/onnx-bundles.lock.json) to resolve --archive-url/--archive-sha256 from")

	return cmd
}
