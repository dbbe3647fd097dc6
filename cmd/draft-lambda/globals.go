package main

import (
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/adcraft/creative-orchestrator/internal/sequence"
	"github.com/adcraft/creative-orchestrator/internal/store"
	"github.com/adcraft/creative-orchestrator/internal/version"
)

// AWS clients and collaborators initialized at cold start.
var (
	draftStore      *store.DynamoStore
	versionLedger   *version.Ledger
	sequencer       *sequence.Sequencer
	exporter        *store.Exporter
	s3Client        *s3.Client
	assetBucket     string
	lambdaClient    *lambdasvc.Client
	workerLambdaArn string
)
