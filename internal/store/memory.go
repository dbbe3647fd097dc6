package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/adcraft/creative-orchestrator/internal/generation"
)

// MemoryStore is an in-memory DraftStore for local CLI runs and tests.
// It mirrors DynamoStore semantics: upsert Puts, partial Updates, and
// (nil, nil) on missing drafts.
type MemoryStore struct {
	mu       sync.RWMutex
	drafts   map[string]*Draft
	jobs     map[string]map[string]*generation.Job // draftID -> requestID -> job
	versions map[string][]*AssetVersion            // draftID -> versions
	active   map[string]map[int]string             // draftID -> sceneIndex -> versionID
}

var _ DraftStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		drafts:   make(map[string]*Draft),
		jobs:     make(map[string]map[string]*generation.Job),
		versions: make(map[string][]*AssetVersion),
		active:   make(map[string]map[int]string),
	}
}

func (s *MemoryStore) PutDraft(_ context.Context, draft *Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if draft.CreatedAt == 0 {
		draft.CreatedAt = time.Now().Unix()
	}
	copied := *draft
	copied.SceneOrder = append([]int(nil), draft.SceneOrder...)
	s.drafts[draft.ID] = &copied
	return nil
}

func (s *MemoryStore) GetDraft(_ context.Context, draftID string) (*Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	draft, ok := s.drafts[draftID]
	if !ok {
		return nil, nil
	}
	copied := *draft
	copied.SceneOrder = append([]int(nil), draft.SceneOrder...)
	return &copied, nil
}

func (s *MemoryStore) UpdateDraftStatus(_ context.Context, draftID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureDraft(draftID).Status = status
	return nil
}

func (s *MemoryStore) UpdateWizardStep(_ context.Context, draftID, step string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureDraft(draftID).WizardStep = step
	return nil
}

func (s *MemoryStore) UpdateSceneOrder(_ context.Context, draftID string, order []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureDraft(draftID).SceneOrder = append([]int(nil), order...)
	return nil
}

func (s *MemoryStore) UpdateCreditsReserved(_ context.Context, draftID string, credits int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureDraft(draftID).CreditsReserved = credits
	return nil
}

func (s *MemoryStore) UpdateCancelRequested(_ context.Context, draftID string, requested bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureDraft(draftID).CancelRequested = requested
	return nil
}

func (s *MemoryStore) PutJob(_ context.Context, draftID string, job *generation.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.jobs[draftID] == nil {
		s.jobs[draftID] = make(map[string]*generation.Job)
	}
	copied := *job
	s.jobs[draftID][job.RequestID] = &copied
	return nil
}

func (s *MemoryStore) ListJobs(_ context.Context, draftID string) ([]*generation.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*generation.Job, 0, len(s.jobs[draftID]))
	for _, job := range s.jobs[draftID] {
		copied := *job
		jobs = append(jobs, &copied)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].RequestID < jobs[j].RequestID })
	return jobs, nil
}

func (s *MemoryStore) PutVersion(_ context.Context, draftID string, version *AssetVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *version
	s.versions[draftID] = append(s.versions[draftID], &copied)
	return nil
}

func (s *MemoryStore) ListVersions(_ context.Context, draftID string) ([]*AssetVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := s.active[draftID]
	versions := make([]*AssetVersion, 0, len(s.versions[draftID]))
	for _, v := range s.versions[draftID] {
		copied := *v
		copied.IsActive = active[v.SceneIndex] == v.ID
		versions = append(versions, &copied)
	}
	sort.Slice(versions, func(i, j int) bool {
		if versions[i].SceneIndex != versions[j].SceneIndex {
			return versions[i].SceneIndex < versions[j].SceneIndex
		}
		return versions[i].Version < versions[j].Version
	})
	return versions, nil
}

func (s *MemoryStore) SetActiveVersion(_ context.Context, draftID string, sceneIndex int, versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active[draftID] == nil {
		s.active[draftID] = make(map[int]string)
	}
	s.active[draftID][sceneIndex] = versionID
	return nil
}

// ensureDraft mirrors DynamoDB UpdateItem upsert behavior: a partial update
// on a missing item creates it. Caller must hold the write lock.
func (s *MemoryStore) ensureDraft(draftID string) *Draft {
	draft, ok := s.drafts[draftID]
	if !ok {
		draft = &Draft{ID: draftID, CreatedAt: time.Now().Unix()}
		s.drafts[draftID] = draft
	}
	return draft
}
