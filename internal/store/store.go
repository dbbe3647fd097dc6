// Package store persists draft checkpoints for the generation orchestrator.
// It replaces in-memory wizard state with DynamoDB-backed storage that
// survives Lambda container recycling, page reloads, and deployments.
//
// The package uses a single-table DynamoDB design where all records for a
// draft share a partition key (DRAFT#{draftId}). Sort keys distinguish
// record types: META, JOB#, VER#, and SCENE#. A TTL attribute (expiresAt)
// auto-deletes abandoned drafts after 7 days.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/adcraft/creative-orchestrator/internal/generation"
)

// DraftTTL is the default time-to-live for all draft records.
const DraftTTL = 7 * 24 * time.Hour

// Draft lifecycle statuses. Transitions are forward-only: a draft never
// moves back to an earlier stage and COMPLETED is terminal. FAILED is
// not: it marks a fully failed batch and reopens when a retry starts
// generating again.
const (
	StatusDraft            = "DRAFT"
	StatusGeneratingScenes = "GENERATING_SCENES"
	StatusScenesCompleted  = "SCENES_COMPLETED"
	StatusGeneratingVideo  = "GENERATING_VIDEO"
	StatusCompleted        = "COMPLETED"
	StatusFailed           = "FAILED"
)

var statusRank = map[string]int{
	StatusDraft:            0,
	StatusGeneratingScenes: 1,
	StatusScenesCompleted:  2,
	StatusGeneratingVideo:  3,
	StatusCompleted:        4,
	StatusFailed:           4,
}

// ValidTransition reports whether moving a draft from status from to status
// to respects the forward-only lifecycle.
func ValidTransition(from, to string) error {
	fromRank, ok := statusRank[from]
	if !ok {
		return fmt.Errorf("unknown draft status %q", from)
	}
	toRank, ok := statusRank[to]
	if !ok {
		return fmt.Errorf("unknown draft status %q", to)
	}
	if from == StatusCompleted {
		return fmt.Errorf("draft status %s is terminal", from)
	}
	if from == StatusFailed {
		if to == StatusGeneratingScenes || to == StatusGeneratingVideo {
			return nil
		}
		return fmt.Errorf("draft status %s only reopens into a generating status, not %s", from, to)
	}
	if toRank < fromRank {
		return fmt.Errorf("draft status cannot move backwards from %s to %s", from, to)
	}
	return nil
}

// Draft is the persisted, resumable state of one wizard session
// (DynamoDB SK = META).
type Draft struct {
	ID              string `json:"id" dynamodbav:"-"`
	OwnerID         string `json:"ownerId" dynamodbav:"ownerId"`
	Status          string `json:"status" dynamodbav:"status"`
	WizardStep      string `json:"wizardStep,omitempty" dynamodbav:"wizardStep,omitempty"`
	SceneOrder      []int  `json:"sceneOrder,omitempty" dynamodbav:"sceneOrder,omitempty"`
	CreditsReserved int    `json:"creditsReserved" dynamodbav:"creditsReserved"`
	CancelRequested bool   `json:"cancelRequested,omitempty" dynamodbav:"cancelRequested,omitempty"`
	CreatedAt       int64  `json:"createdAt" dynamodbav:"createdAt"`
}

// AssetVersion is one immutable generated output for a scene
// (DynamoDB SK = VER#{scene}#{version}). IsActive is derived from the
// scene's active pointer on read; everything else never changes after the
// version is recorded.
type AssetVersion struct {
	ID              string `json:"id" dynamodbav:"id"`
	SceneIndex      int    `json:"sceneIndex" dynamodbav:"sceneIndex"`
	Version         int    `json:"version" dynamodbav:"version"`
	URL             string `json:"url" dynamodbav:"url"`
	SourceURL       string `json:"sourceUrl,omitempty" dynamodbav:"sourceUrl,omitempty"`
	Prompt          string `json:"prompt,omitempty" dynamodbav:"prompt,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty" dynamodbav:"durationSeconds,omitempty"`
	Resolution      string `json:"resolution,omitempty" dynamodbav:"resolution,omitempty"`
	RequestID       string `json:"requestId,omitempty" dynamodbav:"requestId,omitempty"`
	Degraded        bool   `json:"degraded,omitempty" dynamodbav:"degraded,omitempty"`
	IsActive        bool   `json:"isActive" dynamodbav:"-"`
	CreatedAt       int64  `json:"createdAt" dynamodbav:"createdAt"`
}

// SceneAsset is the derived per-scene view: all versions ascending plus the
// single active one.
type SceneAsset struct {
	SceneIndex    int             `json:"sceneIndex"`
	Versions      []*AssetVersion `json:"versions"`
	ActiveVersion *AssetVersion   `json:"activeVersion,omitempty"`
}

// DraftStore is the checkpoint persistence interface. Each method is safe
// for concurrent use. All Get methods return (nil, nil) when the record
// does not exist; Put methods are full-item upserts, Update methods are
// partial writes that leave sibling attributes untouched.
type DraftStore interface {
	// --- Draft metadata ---

	// PutDraft creates or replaces a draft metadata record.
	PutDraft(ctx context.Context, draft *Draft) error

	// GetDraft retrieves draft metadata by ID. Returns nil, nil if not found.
	GetDraft(ctx context.Context, draftID string) (*Draft, error)

	// UpdateDraftStatus partially updates the status field.
	UpdateDraftStatus(ctx context.Context, draftID, status string) error

	// UpdateWizardStep partially updates the wizard step field.
	UpdateWizardStep(ctx context.Context, draftID, step string) error

	// UpdateSceneOrder partially updates the scene order list.
	UpdateSceneOrder(ctx context.Context, draftID string, order []int) error

	// UpdateCreditsReserved partially updates the reserved credit count.
	UpdateCreditsReserved(ctx context.Context, draftID string, credits int) error

	// UpdateCancelRequested partially updates the cancellation flag. The
	// flag outlives the process, so a poll loop running in a different
	// execution environment picks it up on its next tick.
	UpdateCancelRequested(ctx context.Context, draftID string, requested bool) error

	// --- Generation jobs ---

	// PutJob creates or replaces a job record for a draft.
	PutJob(ctx context.Context, draftID string, job *generation.Job) error

	// ListJobs retrieves all job records for a draft.
	ListJobs(ctx context.Context, draftID string) ([]*generation.Job, error)

	// --- Asset versions ---

	// PutVersion creates a version record. Versions are immutable; callers
	// never put the same (scene, version) twice.
	PutVersion(ctx context.Context, draftID string, version *AssetVersion) error

	// ListVersions retrieves all version records for a draft, with IsActive
	// populated from the per-scene active pointers.
	ListVersions(ctx context.Context, draftID string) ([]*AssetVersion, error)

	// SetActiveVersion repoints a scene's active pointer. The pointer is a
	// single attribute, so exclusivity within the scene holds by
	// construction.
	SetActiveVersion(ctx context.Context, draftID string, sceneIndex int, versionID string) error
}
