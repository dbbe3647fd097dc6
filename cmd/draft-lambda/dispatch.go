package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/rs/zerolog/log"

	"github.com/adcraft/creative-orchestrator/internal/generation"
)

// WorkerEvent is the payload dispatched to the poll worker Lambda.
type WorkerEvent struct {
	Type    string            `json:"type"`
	DraftID string            `json:"draftId"`
	Specs   []generation.Spec `json:"specs,omitempty"`
}

// invokeWorkerAsync sends an event to the poll worker Lambda asynchronously.
// Uses InvocationType=Event so the API Lambda returns 202 immediately while
// the worker drives submission and polling to completion.
func invokeWorkerAsync(ctx context.Context, event WorkerEvent) error {
	if lambdaClient == nil || workerLambdaArn == "" {
		log.Warn().Msg("Poll worker Lambda client not configured")
		return fmt.Errorf("poll worker lambda not configured")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal worker event: %w", err)
	}

	_, err = lambdaClient.Invoke(ctx, &lambdasvc.InvokeInput{
		FunctionName:   aws.String(workerLambdaArn),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to invoke poll worker Lambda")
		return fmt.Errorf("invoke poll worker lambda: %w", err)
	}

	log.Debug().
		Str("type", event.Type).
		Str("draftId", event.DraftID).
		Int("specs", len(event.Specs)).
		Msg("Poll worker Lambda invoked asynchronously")
	return nil
}
