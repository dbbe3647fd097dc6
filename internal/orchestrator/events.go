package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"
)

const eventSource = "creative-orchestrator"

// BatchTerminalEvent is emitted once per batch when every job has reached
// a terminal state.
type BatchTerminalEvent struct {
	DraftID    string `json:"draftId"`
	OwnerID    string `json:"ownerId"`
	Kind       string `json:"kind"`
	Completed  []int  `json:"completed"`
	Failed     []int  `json:"failed"`
	DurationMs int64  `json:"durationMs"`
}

// DegradedAssetEvent is emitted when a materialization falls back to the
// ephemeral provider URL. Operators alert on these because the URL will
// expire.
type DegradedAssetEvent struct {
	DraftID      string `json:"draftId"`
	SceneIndex   int    `json:"sceneIndex"`
	VersionID    string `json:"versionId"`
	RequestID    string `json:"requestId"`
	EphemeralURL string `json:"ephemeralUrl"`
}

// eventBridgeAPI is the slice of the EventBridge client the emitter uses.
type eventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Emitter publishes lifecycle events to the default EventBridge bus.
type Emitter struct {
	client eventBridgeAPI
}

func NewEmitter(client eventBridgeAPI) *Emitter {
	return &Emitter{client: client}
}

// EmitBatchTerminal publishes a BatchTerminal event.
func (e *Emitter) EmitBatchTerminal(ctx context.Context, event BatchTerminalEvent) error {
	return e.put(ctx, "BatchTerminal", event)
}

// EmitDegradedAsset publishes a DegradedAsset event.
func (e *Emitter) EmitDegradedAsset(ctx context.Context, event DegradedAssetEvent) error {
	return e.put(ctx, "DegradedAsset", event)
}

func (e *Emitter) put(ctx context.Context, detailType string, event interface{}) error {
	detail, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", detailType, err)
	}

	result, err := e.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{
			{
				Source:     aws.String(eventSource),
				DetailType: aws.String(detailType),
				Detail:     aws.String(string(detail)),
			},
		},
	})
	if err != nil {
		log.Error().Err(err).Str("detailType", detailType).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil || entry.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(entry.ErrorCode)).
					Str("errorMessage", aws.ToString(entry.ErrorMessage)).
					Str("detailType", detailType).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			}
		}
	}

	log.Debug().Str("detailType", detailType).Msg("Lifecycle event emitted to EventBridge")
	return nil
}
