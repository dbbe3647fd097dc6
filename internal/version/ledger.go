// Package version assigns monotonically increasing version numbers to
// generated scene assets and maintains the single active version per scene.
package version

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/adcraft/creative-orchestrator/internal/jobs"
	"github.com/adcraft/creative-orchestrator/internal/store"
)

// NewVersion carries the inputs for recording one generated asset.
type NewVersion struct {
	SceneIndex      int
	URL             string
	SourceURL       string
	Prompt          string
	DurationSeconds int
	Resolution      string
	RequestID       string
	Degraded        bool
}

// Ledger numbers asset versions per scene and tracks the active pointer.
// Version numbers start at 1 and only grow; recording never reuses a
// number even after an activation change.
type Ledger struct {
	store store.DraftStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex // draftID#sceneIndex
}

func NewLedger(s store.DraftStore) *Ledger {
	return &Ledger{
		store: s,
		locks: make(map[string]*sync.Mutex),
	}
}

// sceneLock returns the mutex serializing writes for one scene of one
// draft. Concurrent regenerations of different scenes proceed in parallel.
func (l *Ledger) sceneLock(draftID string, sceneIndex int) *sync.Mutex {
	key := fmt.Sprintf("%s#%d", draftID, sceneIndex)

	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	return lock
}

// Record persists a new asset version for a scene and makes it active.
// The version number is one greater than the scene's current maximum.
func (l *Ledger) Record(ctx context.Context, draftID string, nv NewVersion) (*store.AssetVersion, error) {
	lock := l.sceneLock(draftID, nv.SceneIndex)
	lock.Lock()
	defer lock.Unlock()

	existing, err := l.store.ListVersions(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}

	next := 1
	for _, v := range existing {
		if v.SceneIndex == nv.SceneIndex && v.Version >= next {
			next = v.Version + 1
		}
	}

	av := &store.AssetVersion{
		ID:              jobs.GenerateID("ver-"),
		SceneIndex:      nv.SceneIndex,
		Version:         next,
		URL:             nv.URL,
		SourceURL:       nv.SourceURL,
		Prompt:          nv.Prompt,
		DurationSeconds: nv.DurationSeconds,
		Resolution:      nv.Resolution,
		RequestID:       nv.RequestID,
		Degraded:        nv.Degraded,
		IsActive:        true,
		CreatedAt:       time.Now().Unix(),
	}

	if err := l.store.PutVersion(ctx, draftID, av); err != nil {
		return nil, fmt.Errorf("put version: %w", err)
	}
	if err := l.store.SetActiveVersion(ctx, draftID, nv.SceneIndex, av.ID); err != nil {
		return nil, fmt.Errorf("activate version: %w", err)
	}

	log.Info().
		Str("draftId", draftID).
		Int("sceneIndex", nv.SceneIndex).
		Int("version", next).
		Bool("degraded", nv.Degraded).
		Msg("New asset version recorded and activated")
	return av, nil
}

// Activate repoints a scene's active version to an existing version ID.
// Activating the already-active version is a no-op. The version must
// belong to the given scene.
func (l *Ledger) Activate(ctx context.Context, draftID string, sceneIndex int, versionID string) error {
	lock := l.sceneLock(draftID, sceneIndex)
	lock.Lock()
	defer lock.Unlock()

	versions, err := l.store.ListVersions(ctx, draftID)
	if err != nil {
		return fmt.Errorf("list versions: %w", err)
	}

	var target *store.AssetVersion
	for _, v := range versions {
		if v.ID == versionID {
			target = v
			break
		}
	}
	if target == nil {
		return fmt.Errorf("version %s not found in draft %s", versionID, draftID)
	}
	if target.SceneIndex != sceneIndex {
		return fmt.Errorf("version %s belongs to scene %d, not %d", versionID, target.SceneIndex, sceneIndex)
	}
	if target.IsActive {
		log.Debug().Str("draftId", draftID).Str("versionId", versionID).Msg("Version already active, skipping")
		return nil
	}

	if err := l.store.SetActiveVersion(ctx, draftID, sceneIndex, versionID); err != nil {
		return fmt.Errorf("activate version: %w", err)
	}

	log.Info().
		Str("draftId", draftID).
		Int("sceneIndex", sceneIndex).
		Str("versionId", versionID).
		Msg("Active version switched")
	return nil
}

// Scenes groups a draft's versions into per-scene views, ascending by
// scene index and version number.
func (l *Ledger) Scenes(ctx context.Context, draftID string) ([]*store.SceneAsset, error) {
	versions, err := l.store.ListVersions(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}

	byScene := make(map[int]*store.SceneAsset)
	var order []int
	for _, v := range versions {
		scene, ok := byScene[v.SceneIndex]
		if !ok {
			scene = &store.SceneAsset{SceneIndex: v.SceneIndex}
			byScene[v.SceneIndex] = scene
			order = append(order, v.SceneIndex)
		}
		scene.Versions = append(scene.Versions, v)
		if v.IsActive {
			scene.ActiveVersion = v
		}
	}

	// ListVersions returns scene-ascending order, so the first-seen order
	// of scene indexes is already sorted.
	scenes := make([]*store.SceneAsset, 0, len(order))
	for _, idx := range order {
		scenes = append(scenes, byScene[idx])
	}
	return scenes, nil
}
