// Package materialize copies ephemeral provider results into durable S3
// storage. Provider result URLs expire within hours; materialization is
// what makes a generated asset safe to reference from a checkpoint.
//
// Materialization never fails a generation job. If the copy cannot be
// completed after a retry, the asset is recorded in degraded mode against
// its ephemeral URL and a backfill pipeline is started to recover it.
package materialize

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/adcraft/creative-orchestrator/internal/generation"
	"github.com/adcraft/creative-orchestrator/internal/metrics"
)

const (
	downloadTimeout = 30 * time.Second

	// maxDownloadBytes bounds a single asset download. Provider videos
	// top out well under this.
	maxDownloadBytes = 512 << 20
)

// Result describes where a materialized asset lives.
type Result struct {
	// URL is what gets stored on the asset version: a presigned S3 URL,
	// or the ephemeral provider URL when Degraded.
	URL string

	// Key is the S3 object key, empty when Degraded.
	Key string

	ContentType string
	Degraded    bool
}

// Materializer downloads provider results and uploads them to durable
// storage.
type Materializer struct {
	httpClient *http.Client
	objects    ObjectStore
	backfill   BackfillStarter
}

// NewMaterializer wires the materializer. backfill may be nil when no
// recovery pipeline is configured; degraded assets then stay degraded
// until the draft owner regenerates the scene.
func NewMaterializer(objects ObjectStore, backfill BackfillStarter) *Materializer {
	return &Materializer{
		httpClient: &http.Client{Timeout: downloadTimeout},
		objects:    objects,
		backfill:   backfill,
	}
}

// Materialize copies one completed job's result into durable storage and
// returns the stored location. On persistent failure it returns a degraded
// Result pointing at the ephemeral URL; the error return is reserved for
// invalid input, not transfer failures.
func (m *Materializer) Materialize(ctx context.Context, draftID string, job *generation.Job) (*Result, error) {
	if job.Status != generation.StatusCompleted {
		return nil, fmt.Errorf("job %s is %s, only COMPLETED jobs materialize", job.RequestID, job.Status)
	}
	if job.ResultURL == "" {
		return nil, fmt.Errorf("job %s completed without a result URL", job.RequestID)
	}

	start := time.Now()
	result, err := m.transfer(ctx, draftID, job)
	if err == nil {
		metrics.ForOperation("materialize").
			Dimension("kind", string(job.Kind)).
			Count("MaterializeSuccess").
			Duration("MaterializeDuration", time.Since(start)).
			Property("draftId", draftID).
			Flush()
		return result, nil
	}

	log.Warn().
		Err(err).
		Str("draftId", draftID).
		Str("requestId", job.RequestID).
		Msg("Materialization failed after retry, falling back to ephemeral URL")

	metrics.ForOperation("materialize").
		Dimension("kind", string(job.Kind)).
		Count("MaterializeDegraded").
		Property("draftId", draftID).
		Property("requestId", job.RequestID).
		Flush()

	return &Result{
		URL:      job.ResultURL,
		Degraded: true,
	}, nil
}

// RequestBackfill starts the recovery pipeline for a degraded version.
// Call after the degraded version is recorded so the pipeline has a
// version ID to repoint.
func (m *Materializer) RequestBackfill(ctx context.Context, req BackfillRequest) {
	if m.backfill == nil {
		log.Debug().Str("draftId", req.DraftID).Msg("No backfill pipeline configured, skipping")
		return
	}
	if err := m.backfill.StartBackfill(ctx, req); err != nil {
		// Backfill is best-effort on top of an already-degraded asset.
		log.Error().Err(err).Str("versionId", req.VersionID).Msg("Failed to start backfill pipeline")
	}
}

// transfer downloads the result (one retry) and uploads it to the object
// store, returning the durable location.
func (m *Materializer) transfer(ctx context.Context, draftID string, job *generation.Job) (*Result, error) {
	data, err := m.download(ctx, job.ResultURL)
	if err != nil {
		log.Debug().Err(err).Str("requestId", job.RequestID).Msg("Download failed, retrying once")
		data, err = m.download(ctx, job.ResultURL)
		if err != nil {
			return nil, fmt.Errorf("download after retry: %w", err)
		}
	}

	contentType := http.DetectContentType(data)
	ext := extensionFor(job.Kind, contentType)

	if job.Kind == generation.KindImage || job.Kind == generation.KindEdit {
		recompressed, ct, rcErr := recompressImage(data)
		if rcErr != nil {
			// Store the original bytes rather than degrade over a codec
			// the recompressor does not handle.
			log.Warn().Err(rcErr).Str("requestId", job.RequestID).Msg("Recompression failed, storing original bytes")
		} else {
			data, contentType, ext = recompressed, ct, ".jpg"
		}
	}

	key := fmt.Sprintf("drafts/%s/scene-%04d/%s%s", draftID, job.SceneIndex, job.RequestID, ext)
	if err := m.objects.Upload(ctx, key, bytes.NewReader(data), contentType); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	url, err := m.objects.PresignGet(ctx, key, PresignExpiry)
	if err != nil {
		return nil, fmt.Errorf("presign: %w", err)
	}

	log.Info().
		Str("draftId", draftID).
		Str("requestId", job.RequestID).
		Str("key", key).
		Int("bytes", len(data)).
		Msg("Asset materialized to durable storage")

	return &Result{
		URL:         url,
		Key:         key,
		ContentType: contentType,
	}, nil
}

func (m *Materializer) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("GET %s: empty body", url)
	}
	return data, nil
}

func extensionFor(kind generation.Kind, contentType string) string {
	if kind == generation.KindVideo {
		return ".mp4"
	}
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
