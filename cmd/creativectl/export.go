package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/adcraft/creative-orchestrator/internal/store"
)

var (
	exportBucketFlag string
	exportDraftFlag  string
	exportTableFlag  string
	exportWriteFlag  bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Fetch and decode an archived draft snapshot from S3",
	Long: `Export reads the zstd-compressed snapshot a completed draft leaves in the
archive bucket and prints its contents. With --write it first re-archives
the draft from the live DynamoDB table, so a draft that never completed
can still be exported.`,
	Run: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportBucketFlag, "bucket", "", "S3 archive bucket")
	exportCmd.Flags().StringVar(&exportDraftFlag, "draft", "", "Draft ID")
	exportCmd.Flags().StringVar(&exportTableFlag, "table", "", "DynamoDB draft table (required with --write)")
	exportCmd.Flags().BoolVar(&exportWriteFlag, "write", false, "Re-archive the draft from DynamoDB before reading")
	exportCmd.MarkFlagRequired("bucket")
	exportCmd.MarkFlagRequired("draft")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	s3Client := s3.NewFromConfig(cfg)

	if exportWriteFlag {
		if exportTableFlag == "" {
			log.Fatal().Msg("--table is required with --write")
		}
		exporter := store.NewExporter(dynamoStoreFromEnv(ctx, exportTableFlag), s3Client, exportBucketFlag)
		key, err := exporter.Export(ctx, exportDraftFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Re-archive failed")
		}
		log.Info().Str("key", key).Msg("Draft re-archived")
	}

	key := store.ArchiveKey(exportDraftFlag)
	out, err := s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(exportBucketFlag),
		Key:    aws.String(key),
	})
	if err != nil {
		log.Fatal().Err(err).Str("key", key).Msg("Failed to fetch archive")
	}
	defer out.Body.Close()

	compressed, err := io.ReadAll(out.Body)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read archive body")
	}
	snapshot, err := store.DecodeSnapshot(compressed)
	if err != nil {
		log.Fatal().Err(err).Str("key", key).Msg("Failed to decode snapshot")
	}

	fmt.Printf("Snapshot %s (exported %s, %d bytes compressed)\n",
		snapshot.Draft.ID,
		time.Unix(snapshot.ExportedAt, 0).Format(time.RFC3339),
		len(compressed))
	fmt.Printf("  status: %s  scenes: %v\n", snapshot.Draft.Status, snapshot.Draft.SceneOrder)
	fmt.Printf("  jobs:   %d\n", len(snapshot.Jobs))
	fmt.Printf("  assets: %d versions\n", len(snapshot.Versions))
	for _, v := range snapshot.Versions {
		flag := ""
		if v.Degraded {
			flag = "  DEGRADED"
		}
		fmt.Printf("    scene %d v%d  %s%s\n", v.SceneIndex, v.Version, v.URL, flag)
	}
}
