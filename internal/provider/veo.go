package provider

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/adcraft/creative-orchestrator/internal/generation"
)

// VeoProvider generates scene videos through the Gemini API's long-running
// video operations. The operation name doubles as the poll request ID, so
// a resumed session can reconstruct the operation handle from the
// checkpointed ID alone.
type VeoProvider struct {
	client *genai.Client
	model  string
}

// NewVeoProvider creates a video provider backed by the given model
// (e.g. "veo-3.0-generate-001").
func NewVeoProvider(client *genai.Client, model string) *VeoProvider {
	return &VeoProvider{client: client, model: model}
}

// Submit starts a video generation operation and returns its operation name.
func (p *VeoProvider) Submit(ctx context.Context, spec generation.Spec) (string, error) {
	var image *genai.Image
	if spec.SourceRef != "" {
		image = &genai.Image{GCSURI: spec.SourceRef}
	}

	config := &genai.GenerateVideosConfig{
		NumberOfVideos: 1,
	}
	if spec.Resolution != "" {
		config.AspectRatio = spec.Resolution
	}

	op, err := p.client.Models.GenerateVideos(ctx, p.model, spec.Prompt, image, config)
	if err != nil {
		return "", fmt.Errorf("start video generation: %w", err)
	}
	if op.Name == "" {
		return "", fmt.Errorf("video operation has no name")
	}

	log.Debug().
		Str("operation", op.Name).
		Str("model", p.model).
		Int("sceneIndex", spec.SceneIndex).
		Msg("Video generation operation started")
	return op.Name, nil
}

// Status polls the named operation. A not-done operation maps to
// IN_PROGRESS; the Gemini API does not distinguish a queued phase.
func (p *VeoProvider) Status(ctx context.Context, requestID string) (StatusResponse, error) {
	op, err := p.client.Operations.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: requestID}, nil)
	if err != nil {
		return StatusResponse{}, fmt.Errorf("poll video operation %s: %w", requestID, err)
	}

	if !op.Done {
		return StatusResponse{State: generation.StatusInProgress}, nil
	}

	if len(op.Error) > 0 {
		msg := fmt.Sprintf("%v", op.Error["message"])
		return StatusResponse{
			State:        generation.StatusFailed,
			ErrorKind:    generation.ErrKindProvider,
			ErrorMessage: msg,
		}, nil
	}

	resp := op.Response
	if resp == nil || len(resp.GeneratedVideos) == 0 {
		// Done with no output means every candidate was filtered.
		return StatusResponse{
			State:        generation.StatusFailed,
			ErrorKind:    generation.ErrKindContentPolicy,
			ErrorMessage: "all generated videos were filtered by safety policies",
		}, nil
	}

	video := resp.GeneratedVideos[0].Video
	if video == nil || video.URI == "" {
		return StatusResponse{
			State:        generation.StatusFailed,
			ErrorKind:    generation.ErrKindProvider,
			ErrorMessage: "operation completed without a video URI",
		}, nil
	}

	return StatusResponse{
		State:     generation.StatusCompleted,
		Progress:  100,
		ResultURL: video.URI,
	}, nil
}
