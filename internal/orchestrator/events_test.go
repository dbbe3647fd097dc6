package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
)

type fakeBus struct {
	entries []eventbridge.PutEventsInput
	fail    bool
	reject  bool
}

func (f *fakeBus) PutEvents(_ context.Context, params *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	if f.fail {
		return nil, errors.New("bus unavailable")
	}
	f.entries = append(f.entries, *params)
	if f.reject {
		return &eventbridge.PutEventsOutput{
			FailedEntryCount: 1,
			Entries: []eventbridgetypes.PutEventsResultEntry{
				{ErrorCode: aws.String("ThrottlingException"), ErrorMessage: aws.String("slow down")},
			},
		}, nil
	}
	return &eventbridge.PutEventsOutput{}, nil
}

func TestEmitBatchTerminal(t *testing.T) {
	bus := &fakeBus{}
	emitter := NewEmitter(bus)

	event := BatchTerminalEvent{
		DraftID:   "d1",
		OwnerID:   "u1",
		Kind:      "image",
		Completed: []int{0, 2},
		Failed:    []int{1},
	}
	if err := emitter.EmitBatchTerminal(context.Background(), event); err != nil {
		t.Fatalf("EmitBatchTerminal failed: %v", err)
	}

	if len(bus.entries) != 1 {
		t.Fatalf("entries = %d", len(bus.entries))
	}
	entry := bus.entries[0].Entries[0]
	if aws.ToString(entry.Source) != eventSource {
		t.Errorf("source = %s", aws.ToString(entry.Source))
	}
	if aws.ToString(entry.DetailType) != "BatchTerminal" {
		t.Errorf("detailType = %s", aws.ToString(entry.DetailType))
	}

	var decoded BatchTerminalEvent
	if err := json.Unmarshal([]byte(aws.ToString(entry.Detail)), &decoded); err != nil {
		t.Fatalf("detail is not valid JSON: %v", err)
	}
	if decoded.DraftID != "d1" || len(decoded.Failed) != 1 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestEmitPropagatesFailures(t *testing.T) {
	emitter := NewEmitter(&fakeBus{fail: true})
	err := emitter.EmitDegradedAsset(context.Background(), DegradedAssetEvent{DraftID: "d1"})
	if err == nil {
		t.Fatal("expected error from failing bus")
	}

	emitter = NewEmitter(&fakeBus{reject: true})
	err = emitter.EmitDegradedAsset(context.Background(), DegradedAssetEvent{DraftID: "d1"})
	if err == nil {
		t.Fatal("expected error from rejected entry")
	}
}
