package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	logsFunctionFlag string
	logsSinceFlag    time.Duration
	logsFilterFlag   string
	logsDraftFlag    string
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print recent Lambda log events from CloudWatch",
	Long: `Logs pulls recent events from a Lambda function's CloudWatch log group.
With --draft the events are filtered to one draft, which is usually the
fastest way to see why a batch stalled or degraded.`,
	Run: runLogs,
}

func init() {
	logsCmd.Flags().StringVar(&logsFunctionFlag, "function", "poll-worker-lambda", "Lambda function name")
	logsCmd.Flags().DurationVar(&logsSinceFlag, "since", 15*time.Minute, "How far back to search")
	logsCmd.Flags().StringVar(&logsFilterFlag, "filter", "", "CloudWatch filter pattern")
	logsCmd.Flags().StringVar(&logsDraftFlag, "draft", "", "Only show events mentioning this draft ID")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	client := cloudwatchlogs.NewFromConfig(cfg)

	filter := logsFilterFlag
	if logsDraftFlag != "" {
		filter = fmt.Sprintf("%q", logsDraftFlag)
	}

	input := &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName: aws.String("/aws/lambda/" + logsFunctionFlag),
		StartTime:    aws.Int64(time.Now().Add(-logsSinceFlag).UnixMilli()),
	}
	if filter != "" {
		input.FilterPattern = aws.String(filter)
	}

	count := 0
	for {
		out, err := client.FilterLogEvents(ctx, input)
		if err != nil {
			log.Fatal().Err(err).Str("function", logsFunctionFlag).Msg("FilterLogEvents failed")
		}
		for _, event := range out.Events {
			ts := time.UnixMilli(aws.ToInt64(event.Timestamp)).Format("15:04:05.000")
			fmt.Printf("%s %s\n", ts, strings.TrimRight(aws.ToString(event.Message), "\n"))
			count++
		}
		if out.NextToken == nil {
			break
		}
		input.NextToken = out.NextToken
	}
	log.Info().Int("events", count).Str("function", logsFunctionFlag).Msg("Log search complete")
}
