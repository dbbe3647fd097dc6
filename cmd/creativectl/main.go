// Package main provides creativectl, the operator CLI for the creative
// orchestrator.
//
// Subcommands:
//
//	generate — run a generation batch locally against the real provider,
//	           materializing results to a local directory
//	status   — inspect a draft checkpoint in DynamoDB
//	logs     — tail recent Lambda log events from CloudWatch
//	export   — fetch and decode an archived draft snapshot from S3
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/adcraft/creative-orchestrator/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "creativectl",
	Short: "Operator CLI for the creative generation orchestrator",
	Long: `creativectl drives and inspects the asynchronous generation pipeline.

The deployed pipeline runs in Lambda; this tool covers the gaps around it.
"generate" exercises the full orchestration loop on your machine with an
in-memory checkpoint, which is the quickest way to validate prompts and
provider credentials before a deploy. "status", "logs", and "export" read
the deployed system's DynamoDB table, CloudWatch log groups, and S3
archive bucket directly.

Examples:
  creativectl generate --prompt "sunset chase" --prompt "rooftop finale"
  creativectl generate --video --source ./product.jpg --prompt "slow pan"
  creativectl status --table drafts-prod --draft a1b2c3d4
  creativectl logs --function poll-worker-lambda --since 30m
  creativectl export --table drafts-prod --bucket assets-prod --draft a1b2c3d4`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
