// Package orchestrator wires admission control, submission, polling,
// materialization, and version tracking into the draft-level operations
// the API exposes. It is the only package that mutates draft lifecycle
// status.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/adcraft/creative-orchestrator/internal/credits"
	"github.com/adcraft/creative-orchestrator/internal/gateway"
	"github.com/adcraft/creative-orchestrator/internal/generation"
	"github.com/adcraft/creative-orchestrator/internal/materialize"
	"github.com/adcraft/creative-orchestrator/internal/metrics"
	"github.com/adcraft/creative-orchestrator/internal/poll"
	"github.com/adcraft/creative-orchestrator/internal/provider"
	"github.com/adcraft/creative-orchestrator/internal/sequence"
	"github.com/adcraft/creative-orchestrator/internal/store"
	"github.com/adcraft/creative-orchestrator/internal/version"
)

// cancelWatchInterval paces the persisted cancel-flag checks while a
// batch is polling.
const cancelWatchInterval = time.Second

// Deps carries the orchestrator's collaborators. Events and Exporter are
// optional; everything else is required.
type Deps struct {
	Store        store.DraftStore
	Ledger       credits.Ledger
	Provider     provider.Provider
	Materializer *materialize.Materializer
	Events       *Emitter
	Exporter     *store.Exporter
}

// Orchestrator coordinates one draft's generation work end to end.
type Orchestrator struct {
	store     store.DraftStore
	ledger    credits.Ledger
	gate      *credits.Gate
	gateway   *gateway.Gateway
	scheduler *poll.Scheduler
	mat       *materialize.Materializer
	versions  *version.Ledger
	seq       *sequence.Sequencer
	events    *Emitter
	exporter  *store.Exporter

	mu       sync.Mutex
	sessions map[string]*poll.Session
	progress map[string]*poll.Estimator
}

func New(d Deps) *Orchestrator {
	return &Orchestrator{
		store:     d.Store,
		ledger:    d.Ledger,
		gate:      credits.NewGate(d.Ledger),
		gateway:   gateway.New(d.Provider),
		scheduler: poll.NewScheduler(d.Provider),
		mat:       d.Materializer,
		versions:  version.NewLedger(d.Store),
		seq:       sequence.NewSequencer(d.Store),
		events:    d.Events,
		exporter:  d.Exporter,
		sessions:  make(map[string]*poll.Session),
		progress:  make(map[string]*poll.Estimator),
	}
}

// BatchReport summarizes a finished batch for the caller. Failures are
// job-scoped: a failed scene can be regenerated without touching its
// siblings.
type BatchReport struct {
	DraftID   string        `json:"draftId"`
	Completed []int         `json:"completed"`
	Failed    []int         `json:"failed"`
	Errors    map[int]error `json:"-"`
	Progress  float64       `json:"progress"`
}

// CreateDraft starts a new draft checkpoint with the identity scene order.
func (o *Orchestrator) CreateDraft(ctx context.Context, ownerID string, sceneCount int) (*store.Draft, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("draft requires an owner")
	}
	if sceneCount < 1 {
		return nil, fmt.Errorf("draft requires at least one scene, got %d", sceneCount)
	}

	order := make([]int, sceneCount)
	for i := range order {
		order[i] = i
	}

	draft := &store.Draft{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		Status:     store.StatusDraft,
		SceneOrder: order,
	}
	if err := o.store.PutDraft(ctx, draft); err != nil {
		return nil, fmt.Errorf("create draft: %w", err)
	}

	log.Info().Str("draftId", draft.ID).Str("ownerId", ownerID).Int("scenes", sceneCount).Msg("Draft created")
	return draft, nil
}

// StartSceneBatch runs the scene image generation stage: admission check,
// submission, polling to completion, materialization, and version
// recording. It blocks until every job in the batch is terminal or the
// session is cancelled.
func (o *Orchestrator) StartSceneBatch(ctx context.Context, draftID string, specs []generation.Spec) (*BatchReport, error) {
	return o.startBatch(ctx, draftID, specs, store.StatusGeneratingScenes, store.StatusScenesCompleted)
}

// StartVideoBatch runs the final video generation stage. When every scene
// video completes, the draft is COMPLETED and its snapshot archived.
func (o *Orchestrator) StartVideoBatch(ctx context.Context, draftID string, specs []generation.Spec) (*BatchReport, error) {
	return o.startBatch(ctx, draftID, specs, store.StatusGeneratingVideo, store.StatusCompleted)
}

func (o *Orchestrator) startBatch(ctx context.Context, draftID string, specs []generation.Spec, runningStatus, doneStatus string) (*BatchReport, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("batch requires at least one spec")
	}

	draft, err := o.loadDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if err := store.ValidTransition(draft.Status, runningStatus); err != nil {
		return nil, fmt.Errorf("draft %s: %w", draftID, err)
	}

	existing, err := o.store.ListJobs(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("load existing jobs: %w", err)
	}

	// A retry of an identical batch resubmits nothing for scenes whose
	// job is already committed, so it is not charged for them either.
	if cost := batchCost(gateway.Submittable(specs, existing)); cost > 0 {
		if err := o.admit(ctx, draft, cost); err != nil {
			return nil, err
		}
	}

	if draft.Status != runningStatus {
		if err := o.store.UpdateDraftStatus(ctx, draftID, runningStatus); err != nil {
			return nil, fmt.Errorf("checkpoint status: %w", err)
		}
		draft.Status = runningStatus
	}

	res, submitErr := o.gateway.Submit(ctx, specs, existing)
	for _, job := range res.Submitted {
		if putErr := o.store.PutJob(ctx, draftID, job); putErr != nil {
			log.Error().Err(putErr).Str("requestId", job.RequestID).Msg("Failed to checkpoint submitted job")
		}
	}
	if submitErr != nil {
		var subErr *generation.SubmissionError
		if errors.As(submitErr, &subErr) && len(res.Submitted)+len(res.Reused) > 0 {
			// Provider-committed siblings keep going; the rejected scene
			// is already tracked as a FAILED job.
			log.Warn().Err(submitErr).Str("draftId", draftID).Msg("Partial submission, polling committed jobs")
		} else {
			return nil, submitErr
		}
	}

	pollable := append(append([]*generation.Job{}, res.Submitted...), res.Reused...)
	return o.runBatch(ctx, draft, pollable, specsByScene(specs), doneStatus)
}

// Regenerate re-runs generation for a single scene. The draft keeps its
// current status; the version ledger assigns the next version number when
// the new job completes.
func (o *Orchestrator) Regenerate(ctx context.Context, draftID string, spec generation.Spec) (*BatchReport, error) {
	draft, err := o.loadDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if draft.Status == store.StatusCompleted {
		return nil, fmt.Errorf("draft %s is %s, regeneration closed", draftID, draft.Status)
	}

	existing, err := o.store.ListJobs(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("load existing jobs: %w", err)
	}

	if cost := batchCost(gateway.Submittable([]generation.Spec{spec}, existing)); cost > 0 {
		if err := o.admit(ctx, draft, cost); err != nil {
			return nil, err
		}
	}

	res, submitErr := o.gateway.Submit(ctx, []generation.Spec{spec}, existing)
	for _, job := range res.Submitted {
		if putErr := o.store.PutJob(ctx, draftID, job); putErr != nil {
			log.Error().Err(putErr).Str("requestId", job.RequestID).Msg("Failed to checkpoint submitted job")
		}
	}
	if submitErr != nil {
		return nil, submitErr
	}

	pollable := append(append([]*generation.Job{}, res.Submitted...), res.Reused...)
	return o.runBatch(ctx, draft, pollable, specsByScene([]generation.Spec{spec}), "")
}

// Resume re-polls a draft's persisted non-terminal jobs after a process
// restart. Nothing is resubmitted; the persisted request IDs are polled
// as-is.
func (o *Orchestrator) Resume(ctx context.Context, draftID string) (*BatchReport, error) {
	draft, err := o.loadDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}

	jobs, err := o.store.ListJobs(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	var pending []*generation.Job
	for _, job := range jobs {
		if !job.Status.Terminal() {
			pending = append(pending, job)
		}
	}
	if len(pending) == 0 {
		log.Info().Str("draftId", draftID).Msg("Nothing to resume, all jobs terminal")
		return &BatchReport{DraftID: draftID, Progress: o.Progress(ctx, draftID)}, nil
	}

	doneStatus := ""
	switch draft.Status {
	case store.StatusGeneratingScenes:
		doneStatus = store.StatusScenesCompleted
	case store.StatusGeneratingVideo:
		doneStatus = store.StatusCompleted
	}

	log.Info().Str("draftId", draftID).Int("jobs", len(pending)).Msg("Resuming in-flight jobs from checkpoint")
	return o.runBatch(ctx, draft, pending, nil, doneStatus)
}

// runBatch polls jobs to completion and handles each terminal transition:
// checkpoint, materialize, record version. doneStatus is the status the
// draft advances to when every batch job completed; empty means no
// advancement (regeneration).
func (o *Orchestrator) runBatch(ctx context.Context, draft *store.Draft, jobs []*generation.Job, specs map[int]generation.Spec, doneStatus string) (*BatchReport, error) {
	if len(jobs) == 0 {
		return nil, fmt.Errorf("no jobs to run for draft %s", draft.ID)
	}

	kind := jobs[0].Kind
	maxDuration := 0
	for _, spec := range specs {
		if spec.DurationSeconds > maxDuration {
			maxDuration = spec.DurationSeconds
		}
	}

	session := poll.NewSession()
	est := poll.NewEstimator(poll.ExpectedDuration(kind, len(jobs), maxDuration))
	o.register(draft.ID, session, est)
	defer o.unregister(draft.ID, session)

	// A fresh batch supersedes any leftover cancel request from an
	// earlier run of the same draft.
	if draft.CancelRequested {
		if err := o.store.UpdateCancelRequested(ctx, draft.ID, false); err != nil {
			return nil, fmt.Errorf("clear cancel flag: %w", err)
		}
		draft.CancelRequested = false
	}
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go o.watchCancelFlag(ctx, draft.ID, session, stopWatch)

	start := time.Now()
	onTerminal := func(job *generation.Job) {
		o.handleTerminal(ctx, draft.ID, job, specs)
	}

	outcome, err := o.scheduler.Run(ctx, session, jobs, poll.ConfigForKind(kind, len(jobs)), est, onTerminal)
	if err != nil {
		if errors.Is(err, generation.ErrCancelled) {
			log.Info().Str("draftId", draft.ID).Msg("Batch cancelled, in-flight results discarded")
		}
		return nil, err
	}

	if err := o.finishBatch(ctx, draft, outcome, doneStatus); err != nil {
		return nil, err
	}

	if o.events != nil {
		event := BatchTerminalEvent{
			DraftID:    draft.ID,
			OwnerID:    draft.OwnerID,
			Kind:       string(kind),
			Completed:  outcome.Completed,
			Failed:     outcome.Failed,
			DurationMs: time.Since(start).Milliseconds(),
		}
		if emitErr := o.events.EmitBatchTerminal(ctx, event); emitErr != nil {
			log.Warn().Err(emitErr).Str("draftId", draft.ID).Msg("Failed to emit batch-terminal event")
		}
	}

	return &BatchReport{
		DraftID:   draft.ID,
		Completed: outcome.Completed,
		Failed:    outcome.Failed,
		Errors:    outcome.Errors,
		Progress:  est.Value(),
	}, nil
}

// handleTerminal runs on each job's terminal transition, from the job's
// poll goroutine: checkpoint the job, then for completions materialize the
// result and record an asset version.
func (o *Orchestrator) handleTerminal(ctx context.Context, draftID string, job *generation.Job, specs map[int]generation.Spec) {
	if err := o.store.PutJob(ctx, draftID, job); err != nil {
		log.Error().Err(err).Str("requestId", job.RequestID).Msg("Failed to checkpoint terminal job")
	}
	if job.Status != generation.StatusCompleted {
		return
	}

	result, err := o.mat.Materialize(ctx, draftID, job)
	if err != nil {
		log.Error().Err(err).Str("requestId", job.RequestID).Msg("Materialization rejected job")
		return
	}

	nv := version.NewVersion{
		SceneIndex: job.SceneIndex,
		URL:        result.URL,
		SourceURL:  job.ResultURL,
		RequestID:  job.RequestID,
		Degraded:   result.Degraded,
	}
	if spec, ok := specs[job.SceneIndex]; ok {
		nv.Prompt = spec.Prompt
		nv.DurationSeconds = spec.DurationSeconds
		nv.Resolution = spec.Resolution
	}

	recorded, err := o.versions.Record(ctx, draftID, nv)
	if err != nil {
		log.Error().Err(err).Str("requestId", job.RequestID).Msg("Failed to record asset version")
		return
	}

	if result.Degraded {
		o.mat.RequestBackfill(ctx, materialize.BackfillRequest{
			DraftID:      draftID,
			SceneIndex:   job.SceneIndex,
			VersionID:    recorded.ID,
			RequestID:    job.RequestID,
			EphemeralURL: job.ResultURL,
		})
		if o.events != nil {
			event := DegradedAssetEvent{
				DraftID:      draftID,
				SceneIndex:   job.SceneIndex,
				VersionID:    recorded.ID,
				RequestID:    job.RequestID,
				EphemeralURL: job.ResultURL,
			}
			if err := o.events.EmitDegradedAsset(ctx, event); err != nil {
				log.Warn().Err(err).Str("versionId", recorded.ID).Msg("Failed to emit degraded-asset event")
			}
		}
	}
}

// finishBatch advances the draft lifecycle from the batch outcome. A
// regeneration (no doneStatus) never moves the draft, so a failed scene
// stays retryable no matter how many attempts it takes. For a stage
// batch, full failure parks the draft at FAILED until a retry reopens
// it; partial failure leaves the status where it is so individual scenes
// can be regenerated.
func (o *Orchestrator) finishBatch(ctx context.Context, draft *store.Draft, outcome poll.Outcome, doneStatus string) error {
	if doneStatus == "" {
		if len(outcome.Failed) > 0 {
			log.Warn().
				Str("draftId", draft.ID).
				Ints("failedScenes", outcome.Failed).
				Msg("Regeneration failed, scene can be retried")
		}
		return nil
	}

	switch {
	case len(outcome.Failed) == 0:
		if err := o.store.UpdateDraftStatus(ctx, draft.ID, doneStatus); err != nil {
			return fmt.Errorf("checkpoint status: %w", err)
		}
		draft.Status = doneStatus
		if doneStatus == store.StatusCompleted && o.exporter != nil {
			if _, err := o.exporter.Export(ctx, draft.ID); err != nil {
				log.Warn().Err(err).Str("draftId", draft.ID).Msg("Draft archive export failed")
			}
		}
	case len(outcome.Completed) == 0:
		if err := o.store.UpdateDraftStatus(ctx, draft.ID, store.StatusFailed); err != nil {
			return fmt.Errorf("checkpoint status: %w", err)
		}
		draft.Status = store.StatusFailed
	default:
		log.Info().
			Str("draftId", draft.ID).
			Ints("failedScenes", outcome.Failed).
			Msg("Batch finished with partial failures, draft status unchanged")
	}
	return nil
}

// watchCancelFlag polls the persisted cancel flag while a batch runs and
// cancels the session when another process has set it.
func (o *Orchestrator) watchCancelFlag(ctx context.Context, draftID string, session *poll.Session, stop <-chan struct{}) {
	ticker := time.NewTicker(cancelWatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			draft, err := o.store.GetDraft(ctx, draftID)
			if err != nil {
				log.Warn().Err(err).Str("draftId", draftID).Msg("Cancel flag check failed")
				continue
			}
			if draft != nil && draft.CancelRequested {
				session.Cancel()
				return
			}
		}
	}
}

// Cancel requests cooperative cancellation of the draft's running batch.
// The request is persisted, so a batch polling in another process stops
// on its next watcher tick. Returns false when no batch is in flight in
// this process.
func (o *Orchestrator) Cancel(ctx context.Context, draftID string) bool {
	if err := o.store.UpdateCancelRequested(ctx, draftID, true); err != nil {
		log.Warn().Err(err).Str("draftId", draftID).Msg("Failed to persist cancel flag")
	}

	o.mu.Lock()
	session, ok := o.sessions[draftID]
	o.mu.Unlock()
	if !ok {
		return false
	}

	session.Cancel()
	log.Info().Str("draftId", draftID).Msg("Cancellation requested")
	return true
}

// Progress reports the draft's generation progress in percent. While a
// batch is running the live estimator answers; otherwise progress derives
// from persisted job states and is exactly 100 only when every job
// completed.
func (o *Orchestrator) Progress(ctx context.Context, draftID string) float64 {
	o.mu.Lock()
	est, running := o.progress[draftID]
	o.mu.Unlock()
	if running {
		return est.Value()
	}

	jobs, err := o.store.ListJobs(ctx, draftID)
	if err != nil || len(jobs) == 0 {
		return 0
	}

	completed := 0
	for _, job := range jobs {
		if job.Status == generation.StatusCompleted {
			completed++
		}
	}
	// Exactly 100 only when every job completed; failed jobs hold the
	// draft below 100 until regenerated.
	if completed == len(jobs) {
		return 100
	}
	pct := float64(completed) / float64(len(jobs)) * 100
	if pct > 99 {
		pct = 99
	}
	return pct
}

// Reorder delegates to the sequence manager.
func (o *Orchestrator) Reorder(ctx context.Context, draftID string, from, to int) ([]int, error) {
	return o.seq.Reorder(ctx, draftID, from, to)
}

// Scenes returns the per-scene version history with active versions.
func (o *Orchestrator) Scenes(ctx context.Context, draftID string) ([]*store.SceneAsset, error) {
	return o.versions.Scenes(ctx, draftID)
}

// ActivateVersion switches a scene's active version.
func (o *Orchestrator) ActivateVersion(ctx context.Context, draftID string, sceneIndex int, versionID string) error {
	return o.versions.Activate(ctx, draftID, sceneIndex, versionID)
}

// GetDraft loads a draft checkpoint. Returns nil, nil when missing.
func (o *Orchestrator) GetDraft(ctx context.Context, draftID string) (*store.Draft, error) {
	return o.store.GetDraft(ctx, draftID)
}

// ListJobs returns the draft's persisted jobs.
func (o *Orchestrator) ListJobs(ctx context.Context, draftID string) ([]*generation.Job, error) {
	return o.store.ListJobs(ctx, draftID)
}

// admit runs the admission gate and reserves the batch cost. A denied
// admission creates no jobs and reserves nothing.
func (o *Orchestrator) admit(ctx context.Context, draft *store.Draft, cost int) error {
	decision, err := o.gate.Check(ctx, draft.OwnerID, cost)
	if err != nil {
		return fmt.Errorf("admission check: %w", err)
	}
	if !decision.Allowed {
		return &generation.AdmissionDeniedError{
			Required:  decision.Required,
			Available: decision.Available,
		}
	}

	if err := o.ledger.Reserve(ctx, draft.OwnerID, cost); err != nil {
		if errors.Is(err, credits.ErrInsufficientCredits) {
			// Balance moved between check and reserve.
			return &generation.AdmissionDeniedError{Required: cost, Available: decision.Available}
		}
		return fmt.Errorf("reserve credits: %w", err)
	}

	reserved := draft.CreditsReserved + cost
	if err := o.store.UpdateCreditsReserved(ctx, draft.ID, reserved); err != nil {
		log.Error().Err(err).Str("draftId", draft.ID).Msg("Failed to checkpoint credit reservation")
	} else {
		draft.CreditsReserved = reserved
	}

	metrics.ForOperation("admission").
		Metric("CreditsReserved", float64(cost), metrics.UnitCount).
		Property("draftId", draft.ID).
		Flush()
	return nil
}

func (o *Orchestrator) loadDraft(ctx context.Context, draftID string) (*store.Draft, error) {
	draft, err := o.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("load draft %s: %w", draftID, err)
	}
	if draft == nil {
		return nil, fmt.Errorf("draft %s not found", draftID)
	}
	return draft, nil
}

func (o *Orchestrator) register(draftID string, session *poll.Session, est *poll.Estimator) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sessions[draftID] = session
	o.progress[draftID] = est
}

func (o *Orchestrator) unregister(draftID string, session *poll.Session) {
	session.Dispose()
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sessions[draftID] == session {
		delete(o.sessions, draftID)
		delete(o.progress, draftID)
	}
}

// batchCost prices a batch from its specs.
func batchCost(specs []generation.Spec) int {
	cost := 0
	for _, spec := range specs {
		switch spec.Kind {
		case generation.KindVideo:
			seconds := spec.DurationSeconds
			if seconds == 0 {
				seconds = 5
			}
			cost += credits.VideoCost(1, seconds)
		case generation.KindEdit:
			cost += credits.CostPerEdit
		default:
			cost += credits.CostPerImage
		}
	}
	return cost
}

func specsByScene(specs []generation.Spec) map[int]generation.Spec {
	m := make(map[int]generation.Spec, len(specs))
	for _, spec := range specs {
		m[spec.SceneIndex] = spec
	}
	return m
}
