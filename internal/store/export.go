package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/adcraft/creative-orchestrator/internal/generation"
)

// s3PutAPI is the slice of the S3 client used by Exporter.
type s3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Snapshot is the full serialized state of a draft at export time. Archives
// outlive the 7-day DynamoDB TTL, so a snapshot is the only durable record
// of an expired draft.
type Snapshot struct {
	Draft      *Draft            `json:"draft"`
	Jobs       []*generation.Job `json:"jobs"`
	Versions   []*AssetVersion   `json:"versions"`
	ExportedAt int64             `json:"exportedAt"`
}

// Exporter writes zstd-compressed draft snapshots to S3 under an
// "archives/" prefix.
type Exporter struct {
	store  DraftStore
	client s3PutAPI
	bucket string
}

func NewExporter(store DraftStore, client s3PutAPI, bucket string) *Exporter {
	return &Exporter{
		store:  store,
		client: client,
		bucket: bucket,
	}
}

// ArchiveKey returns the S3 key a draft snapshot is written to.
func ArchiveKey(draftID string) string {
	return fmt.Sprintf("archives/%s.json.zst", draftID)
}

// Export collects a draft's full state, compresses it, and uploads it to S3.
// Returns the S3 key of the archive.
func (e *Exporter) Export(ctx context.Context, draftID string) (string, error) {
	snapshot, err := e.collect(ctx, draftID)
	if err != nil {
		return "", err
	}

	compressed, err := encodeSnapshot(snapshot)
	if err != nil {
		return "", fmt.Errorf("encode snapshot for %s: %w", draftID, err)
	}

	key := ArchiveKey(draftID)
	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &e.bucket,
		Key:         &key,
		Body:        bytes.NewReader(compressed),
		ContentType: aws.String("application/zstd"),
	})
	if err != nil {
		return "", fmt.Errorf("upload archive %s: %w", key, err)
	}

	log.Info().
		Str("draftId", draftID).
		Str("key", key).
		Int("compressedBytes", len(compressed)).
		Msg("Draft archived to S3")
	return key, nil
}

// collect reads the draft, its jobs, and its versions into a Snapshot.
func (e *Exporter) collect(ctx context.Context, draftID string) (*Snapshot, error) {
	draft, err := e.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("load draft %s: %w", draftID, err)
	}
	if draft == nil {
		return nil, fmt.Errorf("draft %s not found", draftID)
	}

	jobs, err := e.store.ListJobs(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("load jobs for %s: %w", draftID, err)
	}
	versions, err := e.store.ListVersions(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("load versions for %s: %w", draftID, err)
	}

	return &Snapshot{
		Draft:      draft,
		Jobs:       jobs,
		Versions:   versions,
		ExportedAt: time.Now().Unix(),
	}, nil
}

// encodeSnapshot serializes a snapshot to zstd-compressed JSON.
func encodeSnapshot(snapshot *Snapshot) ([]byte, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot reverses encodeSnapshot. Used by the CLI export
// inspection command.
func DecodeSnapshot(compressed []byte) (*Snapshot, error) {
	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	var snapshot Snapshot
	if err := json.NewDecoder(dec).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snapshot, nil
}
