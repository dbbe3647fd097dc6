package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/adcraft/creative-orchestrator/internal/generation"
	"github.com/adcraft/creative-orchestrator/internal/jobs"
	"github.com/adcraft/creative-orchestrator/internal/store"
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// POST /api/drafts — create a draft checkpoint.
func handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		OwnerID    string `json:"ownerId"`
		SceneCount int    `json:"sceneCount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.OwnerID == "" {
		httpError(w, http.StatusBadRequest, "ownerId is required")
		return
	}
	if req.SceneCount < 1 || req.SceneCount > 50 {
		httpError(w, http.StatusBadRequest, "sceneCount must be between 1 and 50")
		return
	}

	order := make([]int, req.SceneCount)
	for i := range order {
		order[i] = i
	}
	draft := &store.Draft{
		ID:         uuid.NewString(),
		OwnerID:    req.OwnerID,
		Status:     store.StatusDraft,
		SceneOrder: order,
	}
	if err := draftStore.PutDraft(r.Context(), draft); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to create draft", err.Error())
		return
	}

	log.Info().Str("draftId", draft.ID).Str("ownerId", req.OwnerID).Msg("Draft created")
	respondJSON(w, http.StatusCreated, draft)
}

// handleDraftRoutes fans out /api/drafts/{id}/{action}.
func handleDraftRoutes(w http.ResponseWriter, r *http.Request) {
	draftID, action, ok := jobs.ParseRoute(r.URL.Path, "/api/drafts/")
	if !ok {
		httpError(w, http.StatusNotFound, "not found")
		return
	}

	draft, err := loadOwnedDraft(r, draftID)
	if err != nil {
		httpError(w, http.StatusNotFound, "not found")
		return
	}

	switch action {
	case "status":
		handleStatus(w, r, draft)
	case "generate":
		handleGenerate(w, r, draft, "scene-batch")
	case "video":
		handleGenerate(w, r, draft, "video-batch")
	case "regenerate":
		handleRegenerate(w, r, draft)
	case "resume":
		handleResume(w, r, draft)
	case "cancel":
		handleCancel(w, r, draft)
	case "reorder":
		handleReorder(w, r, draft)
	case "versions":
		handleVersions(w, r, draft)
	case "activate":
		handleActivate(w, r, draft)
	case "export":
		handleExport(w, r, draft)
	default:
		httpError(w, http.StatusNotFound, "not found")
	}
}

// loadOwnedDraft resolves the draft and enforces ownership. A mismatch is
// indistinguishable from a missing draft.
func loadOwnedDraft(r *http.Request, draftID string) (*store.Draft, error) {
	draft, err := draftStore.GetDraft(r.Context(), draftID)
	if err != nil {
		return nil, err
	}
	if draft == nil || !jobs.CheckOwnership(r, draft.OwnerID) {
		return nil, errNotFound
	}
	return draft, nil
}

// GET /api/drafts/{id}/status?ownerId=...
func handleStatus(w http.ResponseWriter, r *http.Request, draft *store.Draft) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	jobList, err := draftStore.ListJobs(r.Context(), draft.ID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to load jobs", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"draft":    draft,
		"jobs":     jobList,
		"progress": checkpointProgress(jobList),
	})
}

// checkpointProgress derives percent progress from persisted job states.
// Exactly 100 only when every job completed; the live estimator in the
// worker owns finer-grained progress while a batch runs.
func checkpointProgress(jobList []*generation.Job) float64 {
	if len(jobList) == 0 {
		return 0
	}
	completed := 0
	for _, job := range jobList {
		if job.Status == generation.StatusCompleted {
			completed++
		}
	}
	if completed == len(jobList) {
		return 100
	}
	pct := float64(completed) / float64(len(jobList)) * 100
	if pct > 99 {
		pct = 99
	}
	return pct
}

// POST /api/drafts/{id}/generate — dispatch a generation batch to the
// worker; 202 with the draft ID, progress polled via status.
func handleGenerate(w http.ResponseWriter, r *http.Request, draft *store.Draft, eventType string) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Specs []generation.Spec `json:"specs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Specs) == 0 {
		httpError(w, http.StatusBadRequest, "at least one spec is required")
		return
	}
	for _, spec := range req.Specs {
		if spec.Prompt == "" {
			httpError(w, http.StatusBadRequest, "every spec needs a prompt")
			return
		}
	}

	event := WorkerEvent{Type: eventType, DraftID: draft.ID, Specs: req.Specs}
	if err := invokeWorkerAsync(r.Context(), event); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to start generation", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"draftId": draft.ID})
}

// POST /api/drafts/{id}/regenerate — single-scene regeneration.
func handleRegenerate(w http.ResponseWriter, r *http.Request, draft *store.Draft) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var spec generation.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if spec.Prompt == "" {
		httpError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	event := WorkerEvent{Type: "regenerate", DraftID: draft.ID, Specs: []generation.Spec{spec}}
	if err := invokeWorkerAsync(r.Context(), event); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to start regeneration", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"draftId": draft.ID})
}

// POST /api/drafts/{id}/resume — re-poll persisted in-flight jobs.
func handleResume(w http.ResponseWriter, r *http.Request, draft *store.Draft) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := invokeWorkerAsync(r.Context(), WorkerEvent{Type: "resume", DraftID: draft.ID}); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to resume", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"draftId": draft.ID})
}

// POST /api/drafts/{id}/cancel — request cooperative cancellation.
func handleCancel(w http.ResponseWriter, r *http.Request, draft *store.Draft) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := invokeWorkerAsync(r.Context(), WorkerEvent{Type: "cancel", DraftID: draft.ID}); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to cancel", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"draftId": draft.ID})
}

// POST /api/drafts/{id}/reorder — move a scene within the order.
func handleReorder(w http.ResponseWriter, r *http.Request, draft *store.Draft) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		From int `json:"from"`
		To   int `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	order, err := sequencer.Reorder(r.Context(), draft.ID, req.From, req.To)
	if err != nil {
		httpError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"sceneOrder": order})
}

// GET /api/drafts/{id}/versions — per-scene version histories.
func handleVersions(w http.ResponseWriter, r *http.Request, draft *store.Draft) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	scenes, err := versionLedger.Scenes(r.Context(), draft.ID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to load versions", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"scenes": scenes})
}

// POST /api/drafts/{id}/activate — switch a scene's active version.
func handleActivate(w http.ResponseWriter, r *http.Request, draft *store.Draft) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		SceneIndex int    `json:"sceneIndex"`
		VersionID  string `json:"versionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.VersionID == "" {
		httpError(w, http.StatusBadRequest, "versionId is required")
		return
	}

	if err := versionLedger.Activate(r.Context(), draft.ID, req.SceneIndex, req.VersionID); err != nil {
		httpError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"activeVersionId": req.VersionID})
}

// POST /api/drafts/{id}/export — archive the draft snapshot to S3.
func handleExport(w http.ResponseWriter, r *http.Request, draft *store.Draft) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if exporter == nil {
		httpError(w, http.StatusServiceUnavailable, "archive export not configured")
		return
	}

	key, err := exporter.Export(r.Context(), draft.ID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "export failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"key": key})
}

var errNotFound = errors.New("not found")
