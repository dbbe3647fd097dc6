// Package main provides the poll worker Lambda entry point.
//
// The worker owns everything long-running: credit admission, provider
// submission, status polling, materialization of ephemeral results to S3,
// and version bookkeeping. It is invoked asynchronously by the draft API
// Lambda via lambda:Invoke with InvocationType=Event, so the API returns
// 202 while the worker drives batches to a terminal state. Clients poll
// draft status through the API; the DynamoDB checkpoint is the source of
// truth between invocations.
//
// Event format:
//
//	{
//	  "type": "scene-batch"|"video-batch"|"regenerate"|"resume"|"cancel",
//	  "draftId": "uuid",
//	  "specs": [...scene specs, batch types only]
//	}
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/adcraft/creative-orchestrator/internal/credits"
	"github.com/adcraft/creative-orchestrator/internal/generation"
	"github.com/adcraft/creative-orchestrator/internal/lambdaboot"
	"github.com/adcraft/creative-orchestrator/internal/logging"
	"github.com/adcraft/creative-orchestrator/internal/materialize"
	"github.com/adcraft/creative-orchestrator/internal/orchestrator"
	"github.com/adcraft/creative-orchestrator/internal/provider"
	"github.com/adcraft/creative-orchestrator/internal/store"
)

var coldStart = true

// Collaborators initialized at cold start.
var (
	draftStore *store.DynamoStore
	orch       *orchestrator.Orchestrator
)

// WorkerEvent is the top-level event received from the draft API Lambda.
type WorkerEvent struct {
	Type    string            `json:"type"`
	DraftID string            `json:"draftId"`
	Specs   []generation.Spec `json:"specs,omitempty"`
}

func init() {
	initStart := time.Now()
	logging.Init()

	clients := lambdaboot.InitAWS()
	draftStore = lambdaboot.InitDraftStore(clients.Config, "DRAFT_TABLE_NAME")
	s3c := lambdaboot.InitS3(clients.Config, "ASSET_BUCKET_NAME")

	ledger := initLedger(clients)
	prov := initProvider(clients)

	var backfill materialize.BackfillStarter
	backfillArn := os.Getenv("BACKFILL_SFN_ARN")
	if backfillArn != "" {
		backfill = materialize.NewSfnBackfill(sfn.NewFromConfig(clients.Config), backfillArn)
	} else {
		log.Warn().Msg("BACKFILL_SFN_ARN not set — degraded asset backfill disabled")
	}

	objects := materialize.NewS3ObjectStore(s3c.Client, s3c.Bucket)
	mat := materialize.NewMaterializer(objects, backfill)

	var events *orchestrator.Emitter
	if os.Getenv("DISABLE_EVENTS") == "" {
		events = orchestrator.NewEmitter(eventbridge.NewFromConfig(clients.Config))
	}

	orch = orchestrator.New(orchestrator.Deps{
		Store:        draftStore,
		Ledger:       ledger,
		Provider:     prov,
		Materializer: mat,
		Events:       events,
		Exporter:     store.NewExporter(draftStore, s3c.Client, s3c.Bucket),
	})

	lambdaboot.StartupLog("poll-worker-lambda", initStart).
		DynamoTable("drafts", os.Getenv("DRAFT_TABLE_NAME")).
		S3Bucket("assets", s3c.Bucket).
		StateMachine("backfill", backfillArn).
		Feature("events", events != nil).
		Config("provider", providerName()).
		Log()
}

// initLedger wires the Aurora Data API credit ledger. Falls back to an
// in-memory ledger when the cluster is not configured; that mode admits
// nothing until credits are granted, which suits local runs only.
func initLedger(clients lambdaboot.AWSClients) credits.Ledger {
	clusterARN := os.Getenv("CREDITS_CLUSTER_ARN")
	secretARN := os.Getenv("CREDITS_SECRET_ARN")
	database := os.Getenv("CREDITS_DATABASE")
	if clusterARN == "" || secretARN == "" {
		log.Warn().Msg("Credit cluster not configured — using in-memory ledger")
		return credits.NewMemoryLedger()
	}
	if database == "" {
		database = "credits"
	}
	return credits.NewDataAPILedger(rdsdata.NewFromConfig(clients.Config), clusterARN, secretARN, database)
}

func providerName() string {
	name := os.Getenv("GENERATION_PROVIDER")
	if name == "" {
		name = "queue"
	}
	return name
}

// initProvider selects the generation backend. "queue" talks to the async
// queue-based AI provider over HTTPS; "veo" drives Gemini video operations
// directly.
func initProvider(clients lambdaboot.AWSClients) provider.Provider {
	switch name := providerName(); name {
	case "queue":
		baseURL := os.Getenv("PROVIDER_API_URL")
		if baseURL == "" {
			log.Fatal().Msg("PROVIDER_API_URL environment variable is required")
		}
		return provider.NewQueueClient(baseURL, lambdaboot.LoadProviderKey(clients.SSM))
	case "veo":
		lambdaboot.LoadGeminiKey(clients.SSM)
		client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
			APIKey:  os.Getenv("GEMINI_API_KEY"),
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Gemini client")
		}
		model := os.Getenv("VEO_MODEL")
		if model == "" {
			model = "veo-3.0-generate-001"
		}
		return provider.NewVeoProvider(client, model)
	default:
		log.Fatal().Str("provider", name).Msg("Unknown GENERATION_PROVIDER")
		return nil
	}
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context, event WorkerEvent) error {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "poll-worker-lambda").Msg("Cold start — first invocation")
	}
	log.Info().
		Str("type", event.Type).
		Str("draftId", event.DraftID).
		Int("specCount", len(event.Specs)).
		Msg("Poll worker invoked")

	switch event.Type {
	case "scene-batch":
		report, err := orch.StartSceneBatch(ctx, event.DraftID, event.Specs)
		return logOutcome(event, report, err)
	case "video-batch":
		report, err := orch.StartVideoBatch(ctx, event.DraftID, event.Specs)
		return logOutcome(event, report, err)
	case "regenerate":
		if len(event.Specs) != 1 {
			return fmt.Errorf("regenerate expects exactly one spec, got %d", len(event.Specs))
		}
		report, err := orch.Regenerate(ctx, event.DraftID, event.Specs[0])
		return logOutcome(event, report, err)
	case "resume":
		report, err := orch.Resume(ctx, event.DraftID)
		return logOutcome(event, report, err)
	case "cancel":
		// The persisted flag reaches a batch polling in another
		// execution environment on its next watcher tick; local is true
		// only when the batch ran in this process.
		local := orch.Cancel(ctx, event.DraftID)
		log.Info().Str("draftId", event.DraftID).Bool("local", local).Msg("Cancel requested")
		return nil
	default:
		return fmt.Errorf("unknown event type: %s", event.Type)
	}
}

// logOutcome records the batch result. Per-job failures come back inside
// the report with err == nil; only admission and validation errors surface
// as a handler error, since re-driving a finished batch through Lambda's
// async retry would double-submit work.
func logOutcome(event WorkerEvent, report *orchestrator.BatchReport, err error) error {
	if err != nil {
		log.Error().Err(err).
			Str("type", event.Type).
			Str("draftId", event.DraftID).
			Msg("Batch did not start")
		return err
	}
	log.Info().
		Str("type", event.Type).
		Str("draftId", event.DraftID).
		Ints("completed", report.Completed).
		Ints("failed", report.Failed).
		Float64("progress", report.Progress).
		Msg("Batch reached terminal state")
	return nil
}
