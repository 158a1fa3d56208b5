package main

import (
	"github.com/spf13/cobra"

	"qingest/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "qingest",
	Short: "Bulk question ingestion pipeline with LLM-powered extraction",
	Long: `Qingest turns scanned question papers into structured questions on the
question bank backend.

The pipeline includes:
  - PDF and image rasterization
  - Vision-model question extraction with cross-page continuation
  - LaTeX normalization of mathematical and chemical notation
  - Diagram identification, cropping, and object-store upload
  - Subject/chapter/topic resolution against the backend taxonomy
  - Bulk upload with per-question status and retry`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.qingest/config.yaml)",
	)

	rootCmd.AddCommand(versionCmd)
}
