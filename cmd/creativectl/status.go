package main

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/adcraft/creative-orchestrator/internal/store"
	"github.com/adcraft/creative-orchestrator/internal/version"
)

var (
	statusTableFlag string
	statusDraftFlag string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Inspect a draft checkpoint in DynamoDB",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusTableFlag, "table", "", "DynamoDB draft table name")
	statusCmd.Flags().StringVar(&statusDraftFlag, "draft", "", "Draft ID")
	statusCmd.MarkFlagRequired("table")
	statusCmd.MarkFlagRequired("draft")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	draftStore := dynamoStoreFromEnv(ctx, statusTableFlag)

	draft, err := draftStore.GetDraft(ctx, statusDraftFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load draft")
	}
	if draft == nil {
		log.Fatal().Str("draftId", statusDraftFlag).Msg("Draft not found")
	}

	fmt.Printf("Draft %s\n", draft.ID)
	fmt.Printf("  owner:    %s\n", draft.OwnerID)
	fmt.Printf("  status:   %s\n", draft.Status)
	fmt.Printf("  order:    %v\n", draft.SceneOrder)
	fmt.Printf("  reserved: %d credits\n", draft.CreditsReserved)
	fmt.Printf("  created:  %s\n", time.Unix(draft.CreatedAt, 0).Format(time.RFC3339))

	jobList, err := draftStore.ListJobs(ctx, draft.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list jobs")
	}
	fmt.Printf("\nJobs (%d):\n", len(jobList))
	for _, job := range jobList {
		fmt.Printf("  scene %d  %-6s %-10s %s\n", job.SceneIndex, job.Kind, job.Status, job.RequestID)
		if job.ErrorKind != "" {
			fmt.Printf("           error: %s\n", job.ErrorKind)
		}
	}

	scenes, err := version.NewLedger(draftStore).Scenes(ctx, draft.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list versions")
	}
	fmt.Printf("\nScenes (%d):\n", len(scenes))
	for _, scene := range scenes {
		for _, v := range scene.Versions {
			marker := " "
			if v.IsActive {
				marker = "*"
			}
			fmt.Printf("  %s scene %d v%d  %s\n", marker, v.SceneIndex, v.Version, v.ID)
		}
	}
}

// dynamoStoreFromEnv builds a DynamoDB-backed draft store using the
// ambient AWS credentials and region.
func dynamoStoreFromEnv(ctx context.Context, table string) *store.DynamoStore {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), table)
}
