package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/adcraft/creative-orchestrator/internal/credits"
	"github.com/adcraft/creative-orchestrator/internal/generation"
	"github.com/adcraft/creative-orchestrator/internal/materialize"
	"github.com/adcraft/creative-orchestrator/internal/orchestrator"
	"github.com/adcraft/creative-orchestrator/internal/provider"
	"github.com/adcraft/creative-orchestrator/internal/store"
)

var (
	promptsFlag    []string
	videoFlag      bool
	sourceFlag     string
	pickSourceFlag bool
	durationFlag   int
	resolutionFlag string
	creditsFlag    int
	apiURLFlag     string
	apiKeyFlag     string
	outDirFlag     string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run a generation batch locally with an in-memory checkpoint",
	Long: `Generate runs the full orchestration loop in-process: credit admission,
provider submission, polling, and materialization. The checkpoint lives in
memory and results land in a local output directory instead of S3, so
nothing touches the deployed tables.

Each --prompt becomes one scene. With --video the batch generates scene
videos instead of images.`,
	Run: runGenerate,
}

func init() {
	generateCmd.Flags().StringArrayVarP(&promptsFlag, "prompt", "p", nil, "Scene prompt (repeat for multiple scenes)")
	generateCmd.Flags().BoolVar(&videoFlag, "video", false, "Generate scene videos instead of images")
	generateCmd.Flags().StringVar(&sourceFlag, "source", "", "Source asset reference passed to the provider")
	generateCmd.Flags().BoolVar(&pickSourceFlag, "pick-source", false, "Choose the source asset with a native file picker")
	generateCmd.Flags().IntVar(&durationFlag, "duration", 5, "Seconds per scene video")
	generateCmd.Flags().StringVar(&resolutionFlag, "resolution", "1080p", "Video resolution")
	generateCmd.Flags().IntVar(&creditsFlag, "credits", 0, "Credits to grant the local ledger (0 = exactly the batch cost)")
	generateCmd.Flags().StringVar(&apiURLFlag, "api-url", os.Getenv("PROVIDER_API_URL"), "Provider API base URL")
	generateCmd.Flags().StringVar(&apiKeyFlag, "api-key", os.Getenv("PROVIDER_API_KEY"), "Provider API key")
	generateCmd.Flags().StringVarP(&outDirFlag, "out", "o", "./creative-out", "Directory for materialized assets")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) {
	if len(promptsFlag) == 0 {
		log.Fatal().Msg("At least one --prompt is required")
	}
	if apiURLFlag == "" {
		log.Fatal().Msg("Provider API URL is required (--api-url or PROVIDER_API_URL)")
	}

	source := sourceFlag
	if source == "" && pickSourceFlag {
		picked, err := zenity.SelectFile(
			zenity.Title("Select source asset"),
			zenity.FileFilters{
				{Name: "Images", Patterns: []string{"*.jpg", "*.jpeg", "*.png", "*.webp"}},
			},
		)
		if err != nil {
			if errors.Is(err, zenity.ErrCanceled) {
				log.Fatal().Msg("Source selection cancelled")
			}
			log.Fatal().Err(err).Msg("File picker failed")
		}
		source = picked
	}

	ctx := context.Background()
	memStore := store.NewMemoryStore()
	ledger := credits.NewMemoryLedger()
	ledger.Grant("local", grantAmount())

	orch := orchestrator.New(orchestrator.Deps{
		Store:        memStore,
		Ledger:       ledger,
		Provider:     provider.NewQueueClient(apiURLFlag, apiKeyFlag),
		Materializer: materialize.NewMaterializer(&dirObjectStore{root: outDirFlag}, nil),
	})

	draft, err := orch.CreateDraft(ctx, "local", len(promptsFlag))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create draft")
	}
	log.Info().Str("draftId", draft.ID).Int("scenes", len(promptsFlag)).Bool("video", videoFlag).Msg("Starting batch")

	specs := make([]generation.Spec, len(promptsFlag))
	for i, prompt := range promptsFlag {
		specs[i] = generation.Spec{
			SceneIndex: i,
			Kind:       generation.KindImage,
			Prompt:     prompt,
			SourceRef:  source,
		}
		if videoFlag {
			specs[i].Kind = generation.KindVideo
			specs[i].DurationSeconds = durationFlag
			specs[i].Resolution = resolutionFlag
		}
	}

	start := time.Now()
	var report *orchestrator.BatchReport
	if videoFlag {
		report, err = orch.StartVideoBatch(ctx, draft.ID, specs)
	} else {
		report, err = orch.StartSceneBatch(ctx, draft.ID, specs)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Batch failed to start")
	}

	fmt.Printf("\nBatch finished in %s\n", time.Since(start).Round(time.Second))
	fmt.Printf("  completed scenes: %v\n", report.Completed)
	fmt.Printf("  failed scenes:    %v\n", report.Failed)
	for scene, sceneErr := range report.Errors {
		fmt.Printf("    scene %d: %v\n", scene, sceneErr)
	}

	versions, err := memStore.ListVersions(ctx, draft.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list versions")
	}
	for _, v := range versions {
		fmt.Printf("  scene %d v%d: %s\n", v.SceneIndex, v.Version, v.URL)
	}
}

// grantAmount sizes the local ledger so admission control behaves the way
// it would in production.
func grantAmount() int {
	if creditsFlag > 0 {
		return creditsFlag
	}
	if videoFlag {
		return credits.VideoCost(len(promptsFlag), durationFlag)
	}
	return credits.ImageBatchCost(len(promptsFlag))
}

// dirObjectStore materializes assets into a local directory tree, standing
// in for S3 during local runs.
type dirObjectStore struct {
	root string
}

var _ materialize.ObjectStore = (*dirObjectStore)(nil)

func (d *dirObjectStore) Upload(_ context.Context, key string, body io.Reader, _ string) error {
	path := filepath.Join(d.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, body); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (d *dirObjectStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	abs, err := filepath.Abs(filepath.Join(d.root, filepath.FromSlash(key)))
	if err != nil {
		return "", err
	}
	return "file://" + abs, nil
}
