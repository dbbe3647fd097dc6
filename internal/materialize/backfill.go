package materialize

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/rs/zerolog/log"
)

// BackfillStarter kicks off the asynchronous pipeline that re-downloads a
// degraded asset from its ephemeral URL before the provider expires it.
type BackfillStarter interface {
	StartBackfill(ctx context.Context, req BackfillRequest) error
}

// BackfillRequest identifies one degraded asset to recover.
type BackfillRequest struct {
	DraftID      string `json:"draftId"`
	SceneIndex   int    `json:"sceneIndex"`
	VersionID    string `json:"versionId"`
	RequestID    string `json:"requestId"`
	EphemeralURL string `json:"ephemeralUrl"`
}

// SfnBackfill starts a Step Functions execution per degraded asset. The
// state machine retries the download with backoff and calls back into the
// API to swap the version URL once the asset lands in S3.
type SfnBackfill struct {
	client          *sfn.Client
	stateMachineArn string
}

var _ BackfillStarter = (*SfnBackfill)(nil)

func NewSfnBackfill(client *sfn.Client, stateMachineArn string) *SfnBackfill {
	return &SfnBackfill{
		client:          client,
		stateMachineArn: stateMachineArn,
	}
}

func (b *SfnBackfill) StartBackfill(ctx context.Context, req BackfillRequest) error {
	input, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal backfill request: %w", err)
	}

	// Execution names must be unique per state machine; the version ID is.
	name := fmt.Sprintf("backfill-%s", req.VersionID)
	_, err = b.client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(b.stateMachineArn),
		Input:           aws.String(string(input)),
		Name:            aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("StartExecution %s: %w", name, err)
	}

	log.Info().
		Str("draftId", req.DraftID).
		Int("sceneIndex", req.SceneIndex).
		Str("versionId", req.VersionID).
		Str("sfnArn", b.stateMachineArn).
		Msg("Backfill pipeline started for degraded asset")
	return nil
}
