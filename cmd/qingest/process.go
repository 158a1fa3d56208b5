package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"qingest/internal/assemble"
	"qingest/internal/backend"
	"qingest/internal/config"
	"qingest/internal/extract"
	"qingest/internal/hierarchy"
	"qingest/internal/pipeline"
	"qingest/internal/providers"
	"qingest/internal/regions"
	"qingest/internal/storage"
)

var (
	processSolutions string
	processExamID    string
	processPaperID   string
	processPrevYear  bool
	processOutput    string
	processDryRun    bool
	processProvider  string
)

var processCmd = &cobra.Command{
	Use:   "process <paper>",
	Short: "Extract and upload questions from a question paper",
	Long: `Process a question paper (PDF or image) end to end: rasterize pages,
extract questions with the configured vision model, crop diagrams, resolve
each question into the subject hierarchy, and upload the result.

With --dry-run the batch is written to --output (or stdout) instead of
being uploaded, so the extraction can be reviewed first.

Examples:
  qingest process paper.pdf --exam-id jee-2026 --paper-id shift-1
  qingest process paper.pdf --solutions answers.pdf --previous-year
  qingest process scan.png --dry-run --output batch.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		cm, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfg := cm.Get()

		document, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read paper: %w", err)
		}
		var solutions []byte
		if processSolutions != "" {
			solutions, err = os.ReadFile(processSolutions)
			if err != nil {
				return fmt.Errorf("failed to read solutions: %w", err)
			}
		}

		registry := providers.NewRegistry(logger)
		if err := registry.LoadFromConfig(registryConfig(cfg)); err != nil {
			return err
		}

		providerName := processProvider
		if providerName == "" {
			providerName = cfg.Defaults.Provider
		}
		vision, err := registry.Get(providerName)
		if err != nil {
			return err
		}

		var images pipeline.ImageStore
		if processDryRun {
			images = discardImages{logger: logger}
		} else {
			uploader, err := storage.NewUploader(storage.Config{
				Endpoint:  cfg.Storage.Endpoint,
				Region:    cfg.Storage.Region,
				Bucket:    cfg.Storage.Bucket,
				AccessKey: config.ResolveEnvVars(cfg.Storage.AccessKey),
				SecretKey: config.ResolveEnvVars(cfg.Storage.SecretKey),
				CDNURL:    cfg.Storage.CDNURL,
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			images = uploader
		}

		authToken := config.ResolveEnvVars(cfg.Backend.AuthToken)
		resolver := hierarchy.NewResolver(
			hierarchy.NewClient(cfg.Backend.HierarchyAPIURL, authToken),
			vision,
			cfg.Providers[providerName].Model,
			logger,
		)

		store := pipeline.NewStore()
		var identify *regions.Identifier
		if cfg.Pipeline.ExtractDiagrams {
			identify = regions.NewIdentifier(vision, logger)
		}
		p := pipeline.New(cfg.Pipeline, cfg.Defaults,
			extract.NewClient(vision, logger), identify, images, resolver, store, logger)

		result, err := p.Run(ctx, document, pipeline.RunOptions{
			Solutions:      solutions,
			ExamID:         processExamID,
			PaperID:        processPaperID,
			IsPreviousYear: processPrevYear,
			Folder:         cfg.Storage.Folder,
		})
		if err != nil {
			return err
		}
		logger.Info("extraction finished",
			"pages", result.Pages,
			"questions", result.Questions,
			"skipped_pages", result.SkippedPages,
			"needs_review", result.NeedsReview,
			"failed_resolution", result.FailedResolution)

		if processDryRun {
			return writeBatch(store.Snapshot(), processOutput)
		}

		orch := pipeline.NewOrchestrator(store, backend.NewClient(cfg.Backend.QuestionAPIURL, authToken), logger)
		summary, err := orch.UploadAll(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("uploaded %d, failed %d, skipped %d\n", summary.Uploaded, summary.Failed, summary.Skipped)

		if summary.Failed > 0 {
			for _, q := range store.Snapshot() {
				if q.Status == assemble.StatusError {
					fmt.Printf("  %s: %s\n", q.LocalID, q.ErrorMessage)
				}
			}
		}
		if processOutput != "" {
			return writeBatch(store.Snapshot(), processOutput)
		}
		return nil
	},
}

// registryConfig converts config-file provider entries into registry
// client configs, resolving ${ENV_VAR} references in API keys.
func registryConfig(cfg *config.Config) providers.RegistryConfig {
	clients := make(map[string]providers.ClientConfig, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		clients[name] = providers.ClientConfig{
			Type:    pc.Type,
			Model:   pc.Model,
			APIKey:  config.ResolveEnvVars(pc.APIKey),
			Enabled: pc.Enabled,
		}
	}
	return providers.RegistryConfig{Clients: clients}
}

// writeBatch dumps the assembled questions as JSON to a file or stdout.
func writeBatch(questions []*assemble.ProcessedQuestion, path string) error {
	data, err := json.MarshalIndent(questions, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}
	if path == "" {
		fmt.Println(string(data))
		return nil
	}
	return os.WriteFile(path, data, 0o644)
}

// discardImages skips object-store uploads during dry runs but still
// produces stable URLs so the assembled output is reviewable.
type discardImages struct {
	logger *slog.Logger
}

func (d discardImages) Upload(ctx context.Context, data []byte, folder, filename string) (*storage.StoredObject, error) {
	key := folder + "/" + filename
	d.logger.Debug("dry run, not uploading image", "key", key)
	return &storage.StoredObject{URL: "dryrun://" + key, Key: key}, nil
}

func init() {
	processCmd.Flags().StringVar(&processSolutions, "solutions", "", "separate solutions document (PDF or image)")
	processCmd.Flags().StringVar(&processExamID, "exam-id", "", "exam to attach questions to")
	processCmd.Flags().StringVar(&processPaperID, "paper-id", "", "paper to attach questions to")
	processCmd.Flags().BoolVar(&processPrevYear, "previous-year", false, "mark questions as previous year questions")
	processCmd.Flags().StringVarP(&processOutput, "output", "o", "", "write the assembled batch to a JSON file")
	processCmd.Flags().BoolVar(&processDryRun, "dry-run", false, "extract and assemble without uploading")
	processCmd.Flags().StringVar(&processProvider, "provider", "", "vision provider to use (default from config)")

	rootCmd.AddCommand(processCmd)
}
