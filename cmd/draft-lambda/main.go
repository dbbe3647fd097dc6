// Package main provides the Lambda entry point for the draft API.
//
// It fronts the generation orchestrator behind API Gateway. Draft state,
// jobs, and asset versions live in DynamoDB; materialized assets live in
// S3. Long-running work (submission, polling, materialization) is
// dispatched to the poll worker Lambda so every endpoint here returns
// quickly.
//
// Endpoints:
//
//	GET  /api/health                     — health check (no auth required)
//	POST /api/drafts                     — create a draft
//	GET  /api/drafts/{id}/status         — draft, jobs, and derived progress
//	POST /api/drafts/{id}/generate       — start a scene image batch (202)
//	POST /api/drafts/{id}/video          — start a video batch (202)
//	POST /api/drafts/{id}/regenerate     — regenerate a single scene (202)
//	POST /api/drafts/{id}/resume         — re-poll persisted in-flight jobs (202)
//	POST /api/drafts/{id}/cancel         — request batch cancellation (202)
//	POST /api/drafts/{id}/reorder        — move a scene within the order
//	GET  /api/drafts/{id}/versions       — per-scene version histories
//	POST /api/drafts/{id}/activate       — switch a scene's active version
//	POST /api/drafts/{id}/export         — archive the draft snapshot to S3
package main

import (
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/adcraft/creative-orchestrator/internal/lambdaboot"
	"github.com/adcraft/creative-orchestrator/internal/logging"
	"github.com/adcraft/creative-orchestrator/internal/sequence"
	"github.com/adcraft/creative-orchestrator/internal/store"
	"github.com/adcraft/creative-orchestrator/internal/version"
)

func init() {
	initStart := time.Now()
	logging.Init()

	clients := lambdaboot.InitAWS()
	draftStore = lambdaboot.InitDraftStore(clients.Config, "DRAFT_TABLE_NAME")

	s3c := lambdaboot.InitS3(clients.Config, "ASSET_BUCKET_NAME")
	s3Client = s3c.Client
	assetBucket = s3c.Bucket

	lambdaClient = lambdasvc.NewFromConfig(clients.Config)
	workerLambdaArn = os.Getenv("WORKER_LAMBDA_ARN")
	if workerLambdaArn == "" {
		log.Warn().Msg("WORKER_LAMBDA_ARN not set — generation dispatch disabled")
	}

	versionLedger = version.NewLedger(draftStore)
	sequencer = sequence.NewSequencer(draftStore)
	exporter = store.NewExporter(draftStore, s3Client, assetBucket)

	lambdaboot.StartupLog("draft-lambda", initStart).
		DynamoTable("drafts", os.Getenv("DRAFT_TABLE_NAME")).
		S3Bucket("assets", assetBucket).
		LambdaFunc("pollWorker", workerLambdaArn).
		Log()
}

func main() {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", handleHealth)
	mux.HandleFunc("/api/drafts", handleCreateDraft)
	mux.HandleFunc("/api/drafts/", handleDraftRoutes)

	adapter := httpadapter.NewV2(mux)
	lambda.Start(adapter.ProxyWithContext)
}
