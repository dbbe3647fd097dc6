package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/adcraft/creative-orchestrator/internal/credits"
	"github.com/adcraft/creative-orchestrator/internal/gateway"
	"github.com/adcraft/creative-orchestrator/internal/generation"
	"github.com/adcraft/creative-orchestrator/internal/materialize"
	"github.com/adcraft/creative-orchestrator/internal/provider"
	"github.com/adcraft/creative-orchestrator/internal/store"
)

// fakeProvider assigns sequential request IDs on submit and answers status
// polls from per-request scripts. Exhausted scripts repeat the last entry.
type fakeProvider struct {
	mu        sync.Mutex
	submits   int
	scripts   map[string][]provider.StatusResponse
	submitErr map[int]error // sceneIndex -> rejection
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		scripts:   make(map[string][]provider.StatusResponse),
		submitErr: make(map[int]error),
	}
}

func (p *fakeProvider) Submit(_ context.Context, spec generation.Spec) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.submitErr[spec.SceneIndex]; err != nil {
		return "", err
	}
	p.submits++
	return fmt.Sprintf("req-scene-%d", spec.SceneIndex), nil
}

func (p *fakeProvider) Status(_ context.Context, requestID string) (provider.StatusResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	steps := p.scripts[requestID]
	if len(steps) == 0 {
		return provider.StatusResponse{}, errors.New("no script for " + requestID)
	}
	if len(steps) > 1 {
		p.scripts[requestID] = steps[1:]
	}
	return steps[0], nil
}

func (p *fakeProvider) submitCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submits
}

type fakeObjects struct {
	mu      sync.Mutex
	uploads map[string][]byte
}

func (f *fakeObjects) Upload(_ context.Context, key string, body io.Reader, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploads == nil {
		f.uploads = make(map[string][]byte)
	}
	f.uploads[key] = data
	return nil
}

func (f *fakeObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://durable.test/" + key, nil
}

type fakeBackfill struct {
	mu       sync.Mutex
	requests []materialize.BackfillRequest
}

func (f *fakeBackfill) StartBackfill(_ context.Context, req materialize.BackfillRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return nil
}

// assetServer serves a small PNG for materializer downloads.
func assetServer(t *testing.T) *httptest.Server {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for x := 0; x < 32; x++ {
		img.Set(x, x, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test PNG: %v", err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	t.Cleanup(server.Close)
	return server
}

func completedResp(url string) provider.StatusResponse {
	return provider.StatusResponse{State: generation.StatusCompleted, ResultURL: url}
}

type fixture struct {
	orch     *Orchestrator
	store    *store.MemoryStore
	ledger   *credits.MemoryLedger
	provider *fakeProvider
	objects  *fakeObjects
	backfill *fakeBackfill
}

func newFixture(t *testing.T, balance int) *fixture {
	t.Helper()
	f := &fixture{
		store:    store.NewMemoryStore(),
		ledger:   credits.NewMemoryLedger(),
		provider: newFakeProvider(),
		objects:  &fakeObjects{},
		backfill: &fakeBackfill{},
	}
	f.ledger.Grant("user-1", balance)
	f.orch = New(Deps{
		Store:        f.store,
		Ledger:       f.ledger,
		Provider:     f.provider,
		Materializer: materialize.NewMaterializer(f.objects, f.backfill),
	})
	return f
}

func (f *fixture) newDraft(t *testing.T, scenes int) *store.Draft {
	t.Helper()
	draft, err := f.orch.CreateDraft(context.Background(), "user-1", scenes)
	if err != nil {
		t.Fatalf("CreateDraft failed: %v", err)
	}
	return draft
}

func imageSpecs(scenes ...int) []generation.Spec {
	specs := make([]generation.Spec, 0, len(scenes))
	for _, s := range scenes {
		specs = append(specs, generation.Spec{
			SceneIndex: s,
			Kind:       generation.KindImage,
			Prompt:     fmt.Sprintf("scene %d product shot", s),
		})
	}
	return specs
}

func TestStartSceneBatchHappyPath(t *testing.T) {
	ctx := context.Background()
	server := assetServer(t)
	f := newFixture(t, 100)
	draft := f.newDraft(t, 3)

	for _, scene := range []int{0, 1, 2} {
		f.provider.scripts[fmt.Sprintf("req-scene-%d", scene)] = []provider.StatusResponse{
			completedResp(server.URL + fmt.Sprintf("/scene-%d.png", scene)),
		}
	}

	report, err := f.orch.StartSceneBatch(ctx, draft.ID, imageSpecs(0, 1, 2))
	if err != nil {
		t.Fatalf("StartSceneBatch failed: %v", err)
	}
	if !reflect.DeepEqual(report.Completed, []int{0, 1, 2}) {
		t.Errorf("Completed = %v", report.Completed)
	}
	if len(report.Failed) != 0 {
		t.Errorf("Failed = %v", report.Failed)
	}
	if report.Progress != 100 {
		t.Errorf("Progress = %v, want 100", report.Progress)
	}

	got, _ := f.store.GetDraft(ctx, draft.ID)
	if got.Status != store.StatusScenesCompleted {
		t.Errorf("draft status = %s, want SCENES_COMPLETED", got.Status)
	}
	if got.CreditsReserved != 3*credits.CostPerImage {
		t.Errorf("creditsReserved = %d", got.CreditsReserved)
	}
	balance, _ := f.ledger.Balance(ctx, "user-1")
	if balance != 100-3*credits.CostPerImage {
		t.Errorf("balance = %d", balance)
	}

	versions, _ := f.store.ListVersions(ctx, draft.ID)
	if len(versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(versions))
	}
	for _, v := range versions {
		if v.Version != 1 || !v.IsActive || v.Degraded {
			t.Errorf("version %+v", v)
		}
	}

	jobs, _ := f.store.ListJobs(ctx, draft.ID)
	if len(jobs) != 3 {
		t.Fatalf("expected 3 persisted jobs, got %d", len(jobs))
	}
	for _, job := range jobs {
		if job.Status != generation.StatusCompleted {
			t.Errorf("job %s status = %s", job.RequestID, job.Status)
		}
	}
}

func TestStartSceneBatchAdmissionDenied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 25)
	draft := f.newDraft(t, 8)

	specs := imageSpecs(0, 1, 2, 3, 4, 5, 6, 7)
	_, err := f.orch.StartSceneBatch(ctx, draft.ID, specs)

	var denied *generation.AdmissionDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected AdmissionDeniedError, got %v", err)
	}
	if denied.Required != 40 || denied.Available != 25 {
		t.Errorf("denied = {%d, %d}, want {40, 25}", denied.Required, denied.Available)
	}

	// Denial leaves no trace: no jobs, no reservation, status unchanged.
	if f.provider.submitCount() != 0 {
		t.Error("provider received submissions despite denial")
	}
	jobs, _ := f.store.ListJobs(ctx, draft.ID)
	if len(jobs) != 0 {
		t.Errorf("jobs persisted despite denial: %d", len(jobs))
	}
	balance, _ := f.ledger.Balance(ctx, "user-1")
	if balance != 25 {
		t.Errorf("balance = %d, want untouched 25", balance)
	}
	got, _ := f.store.GetDraft(ctx, draft.ID)
	if got.Status != store.StatusDraft {
		t.Errorf("draft status = %s, want DRAFT", got.Status)
	}
}

func TestPartialFailureThenRegenerate(t *testing.T) {
	ctx := context.Background()
	server := assetServer(t)
	f := newFixture(t, 100)
	draft := f.newDraft(t, 3)

	f.provider.scripts["req-scene-0"] = []provider.StatusResponse{completedResp(server.URL + "/0.png")}
	f.provider.scripts["req-scene-1"] = []provider.StatusResponse{{
		State:        generation.StatusFailed,
		ErrorKind:    generation.ErrKindContentPolicy,
		ErrorMessage: "flagged",
	}}
	f.provider.scripts["req-scene-2"] = []provider.StatusResponse{completedResp(server.URL + "/2.png")}

	report, err := f.orch.StartSceneBatch(ctx, draft.ID, imageSpecs(0, 1, 2))
	if err != nil {
		t.Fatalf("StartSceneBatch failed: %v", err)
	}
	if !reflect.DeepEqual(report.Completed, []int{0, 2}) || !reflect.DeepEqual(report.Failed, []int{1}) {
		t.Fatalf("report = %+v", report)
	}
	if !generation.IsContentPolicy(report.Errors[1]) {
		t.Errorf("scene 1 error = %v, want content policy", report.Errors[1])
	}

	// Partial failure keeps the draft regenerable, not failed.
	got, _ := f.store.GetDraft(ctx, draft.ID)
	if got.Status != store.StatusGeneratingScenes {
		t.Errorf("draft status = %s", got.Status)
	}

	// Regenerate only scene 1 with a revised prompt.
	f.provider.scripts["req-scene-1"] = []provider.StatusResponse{completedResp(server.URL + "/1b.png")}
	regen, err := f.orch.Regenerate(ctx, draft.ID, generation.Spec{
		SceneIndex: 1,
		Kind:       generation.KindImage,
		Prompt:     "scene 1 revised prompt",
	})
	if err != nil {
		t.Fatalf("Regenerate failed: %v", err)
	}
	if !reflect.DeepEqual(regen.Completed, []int{1}) {
		t.Errorf("regen completed = %v", regen.Completed)
	}

	// Siblings keep their single version; scene 1 gets its first asset.
	versions, _ := f.store.ListVersions(ctx, draft.ID)
	perScene := map[int]int{}
	for _, v := range versions {
		perScene[v.SceneIndex]++
	}
	if perScene[0] != 1 || perScene[1] != 1 || perScene[2] != 1 {
		t.Errorf("versions per scene = %v", perScene)
	}
}

func TestRegenerateCompletedSceneBumpsVersion(t *testing.T) {
	ctx := context.Background()
	server := assetServer(t)
	f := newFixture(t, 100)
	draft := f.newDraft(t, 1)

	f.provider.scripts["req-scene-0"] = []provider.StatusResponse{completedResp(server.URL + "/v1.png")}
	if _, err := f.orch.StartSceneBatch(ctx, draft.ID, imageSpecs(0)); err != nil {
		t.Fatalf("StartSceneBatch failed: %v", err)
	}

	f.provider.scripts["req-scene-0"] = []provider.StatusResponse{completedResp(server.URL + "/v2.png")}
	if _, err := f.orch.Regenerate(ctx, draft.ID, generation.Spec{
		SceneIndex: 0,
		Kind:       generation.KindImage,
		Prompt:     "different prompt",
	}); err != nil {
		t.Fatalf("Regenerate failed: %v", err)
	}

	versions, _ := f.store.ListVersions(ctx, draft.ID)
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
	if versions[0].Version != 1 || versions[1].Version != 2 {
		t.Errorf("version numbers = %d, %d", versions[0].Version, versions[1].Version)
	}
	if versions[0].IsActive || !versions[1].IsActive {
		t.Error("newest version should be the active one")
	}
}

func TestResumeRepollsWithoutResubmission(t *testing.T) {
	ctx := context.Background()
	server := assetServer(t)
	f := newFixture(t, 100)

	// Simulate a checkpoint left behind by a crashed run.
	if err := f.store.PutDraft(ctx, &store.Draft{
		ID: "d-resume", OwnerID: "user-1", Status: store.StatusGeneratingScenes, SceneOrder: []int{0, 1},
	}); err != nil {
		t.Fatalf("PutDraft failed: %v", err)
	}
	if err := f.store.PutJob(ctx, "d-resume", &generation.Job{
		RequestID: "req-old", Kind: generation.KindImage, SceneIndex: 0,
		Status: generation.StatusInProgress, SubmittedAt: time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("PutJob failed: %v", err)
	}
	if err := f.store.PutJob(ctx, "d-resume", &generation.Job{
		RequestID: "req-done", Kind: generation.KindImage, SceneIndex: 1,
		Status: generation.StatusCompleted, SubmittedAt: time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("PutJob failed: %v", err)
	}

	f.provider.scripts["req-old"] = []provider.StatusResponse{completedResp(server.URL + "/old.png")}

	report, err := f.orch.Resume(ctx, "d-resume")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if !reflect.DeepEqual(report.Completed, []int{0}) {
		t.Errorf("resumed completed = %v", report.Completed)
	}
	if f.provider.submitCount() != 0 {
		t.Error("resume must not resubmit persisted jobs")
	}

	got, _ := f.store.GetDraft(ctx, "d-resume")
	if got.Status != store.StatusScenesCompleted {
		t.Errorf("draft status = %s after resume", got.Status)
	}
}

func TestResumeWithAllTerminalJobs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	if err := f.store.PutDraft(ctx, &store.Draft{
		ID: "d1", OwnerID: "user-1", Status: store.StatusScenesCompleted,
	}); err != nil {
		t.Fatalf("PutDraft failed: %v", err)
	}
	if err := f.store.PutJob(ctx, "d1", &generation.Job{
		RequestID: "req-1", Status: generation.StatusCompleted, SceneIndex: 0,
	}); err != nil {
		t.Fatalf("PutJob failed: %v", err)
	}

	report, err := f.orch.Resume(ctx, "d1")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if report.Progress != 100 {
		t.Errorf("progress = %v, want 100 for completed draft", report.Progress)
	}
}

func TestCancelDiscardsInFlightBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	draft := f.newDraft(t, 1)

	// The job never completes on its own.
	f.provider.scripts["req-scene-0"] = []provider.StatusResponse{{State: generation.StatusInProgress, Progress: 10}}

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.StartSceneBatch(ctx, draft.ID, imageSpecs(0))
		done <- err
	}()

	deadline := time.After(5 * time.Second)
	for !f.orch.Cancel(ctx, draft.ID) {
		select {
		case <-deadline:
			t.Fatal("session never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	select {
	case err := <-done:
		if !errors.Is(err, generation.ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("batch did not stop after cancellation")
	}

	// Cancelled work records no assets.
	versions, _ := f.store.ListVersions(ctx, draft.ID)
	if len(versions) != 0 {
		t.Errorf("versions recorded despite cancellation: %d", len(versions))
	}
}

func TestCancelWithoutRunningBatch(t *testing.T) {
	f := newFixture(t, 100)
	if f.orch.Cancel(context.Background(), "nothing-running") {
		t.Error("Cancel reported a local session with no batch running")
	}
}

func TestCancelFromAnotherProcess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	draft := f.newDraft(t, 1)

	// The job never completes on its own.
	f.provider.scripts["req-scene-0"] = []provider.StatusResponse{{State: generation.StatusInProgress, Progress: 10}}

	// A second orchestrator over the same store, standing in for the API
	// process that receives the cancel request.
	remote := New(Deps{
		Store:        f.store,
		Ledger:       f.ledger,
		Provider:     f.provider,
		Materializer: materialize.NewMaterializer(f.objects, f.backfill),
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.StartSceneBatch(ctx, draft.ID, imageSpecs(0))
		done <- err
	}()

	deadline := time.After(5 * time.Second)
	for f.provider.submitCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("batch never submitted")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// No session lives in the remote orchestrator, but the persisted
	// flag reaches the polling batch through its watcher.
	if remote.Cancel(ctx, draft.ID) {
		t.Error("Cancel reported a local session in the wrong process")
	}

	select {
	case err := <-done:
		if !errors.Is(err, generation.ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("batch did not stop after cross-process cancellation")
	}

	versions, _ := f.store.ListVersions(ctx, draft.ID)
	if len(versions) != 0 {
		t.Errorf("versions recorded despite cancellation: %d", len(versions))
	}
}

func TestDegradedMaterializationRecordsAndBackfills(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)
	draft := f.newDraft(t, 1)

	// Result URL that always fails to download.
	gone := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer gone.Close()
	ephemeralURL := gone.URL + "/expired.png"

	f.provider.scripts["req-scene-0"] = []provider.StatusResponse{completedResp(ephemeralURL)}

	report, err := f.orch.StartSceneBatch(ctx, draft.ID, []generation.Spec{{
		SceneIndex: 0, Kind: generation.KindImage, Prompt: "p",
	}})
	if err != nil {
		t.Fatalf("StartSceneBatch failed: %v", err)
	}
	if !reflect.DeepEqual(report.Completed, []int{0}) {
		t.Fatalf("report = %+v", report)
	}

	versions, _ := f.store.ListVersions(ctx, draft.ID)
	if len(versions) != 1 {
		t.Fatalf("expected 1 version, got %d", len(versions))
	}
	if !versions[0].Degraded {
		t.Error("version not marked degraded")
	}
	if versions[0].URL != ephemeralURL {
		t.Errorf("degraded version URL = %s, want ephemeral", versions[0].URL)
	}

	f.backfill.mu.Lock()
	defer f.backfill.mu.Unlock()
	if len(f.backfill.requests) != 1 || f.backfill.requests[0].VersionID != versions[0].ID {
		t.Errorf("backfill requests = %+v", f.backfill.requests)
	}
}

func TestVideoBatchCompletesDraft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1000)

	video := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("\x00\x00\x00\x18ftypmp42 clip"))
	}))
	defer video.Close()

	if err := f.store.PutDraft(ctx, &store.Draft{
		ID: "d-video", OwnerID: "user-1", Status: store.StatusScenesCompleted, SceneOrder: []int{0},
	}); err != nil {
		t.Fatalf("PutDraft failed: %v", err)
	}

	f.provider.scripts["req-scene-0"] = []provider.StatusResponse{completedResp(video.URL + "/clip")}

	report, err := f.orch.StartVideoBatch(ctx, "d-video", []generation.Spec{{
		SceneIndex: 0, Kind: generation.KindVideo, Prompt: "pan across product", DurationSeconds: 5,
	}})
	if err != nil {
		t.Fatalf("StartVideoBatch failed: %v", err)
	}
	if !reflect.DeepEqual(report.Completed, []int{0}) {
		t.Fatalf("report = %+v", report)
	}

	got, _ := f.store.GetDraft(ctx, "d-video")
	if got.Status != store.StatusCompleted {
		t.Errorf("draft status = %s, want COMPLETED", got.Status)
	}

	balance, _ := f.ledger.Balance(ctx, "user-1")
	if balance != 1000-credits.VideoCost(1, 5) {
		t.Errorf("balance = %d", balance)
	}
}

func TestStartBatchOnTerminalDraft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100)

	if err := f.store.PutDraft(ctx, &store.Draft{
		ID: "d-done", OwnerID: "user-1", Status: store.StatusCompleted,
	}); err != nil {
		t.Fatalf("PutDraft failed: %v", err)
	}

	if _, err := f.orch.StartSceneBatch(ctx, "d-done", imageSpecs(0)); err == nil {
		t.Error("expected error starting batch on COMPLETED draft")
	}
	if _, err := f.orch.Regenerate(ctx, "d-done", generation.Spec{SceneIndex: 0, Kind: generation.KindImage}); err == nil {
		t.Error("expected error regenerating on COMPLETED draft")
	}
}

func failedResp(kind, msg string) provider.StatusResponse {
	return provider.StatusResponse{State: generation.StatusFailed, ErrorKind: kind, ErrorMessage: msg}
}

func TestRegenerateAfterFailedRegeneration(t *testing.T) {
	ctx := context.Background()
	server := assetServer(t)
	f := newFixture(t, 100)
	draft := f.newDraft(t, 2)

	f.provider.scripts["req-scene-0"] = []provider.StatusResponse{completedResp(server.URL + "/0.png")}
	f.provider.scripts["req-scene-1"] = []provider.StatusResponse{failedResp(generation.ErrKindProvider, "render error")}
	if _, err := f.orch.StartSceneBatch(ctx, draft.ID, imageSpecs(0, 1)); err != nil {
		t.Fatalf("StartSceneBatch failed: %v", err)
	}

	// First regeneration attempt fails too.
	f.provider.scripts["req-scene-1"] = []provider.StatusResponse{failedResp(generation.ErrKindProvider, "render error again")}
	regen, err := f.orch.Regenerate(ctx, draft.ID, generation.Spec{
		SceneIndex: 1, Kind: generation.KindImage, Prompt: "scene 1 second try",
	})
	if err != nil {
		t.Fatalf("Regenerate failed: %v", err)
	}
	if !reflect.DeepEqual(regen.Failed, []int{1}) {
		t.Fatalf("regen report = %+v", regen)
	}

	// A failed regeneration never demotes the draft; the scene stays
	// individually retryable.
	got, _ := f.store.GetDraft(ctx, draft.ID)
	if got.Status != store.StatusGeneratingScenes {
		t.Fatalf("draft status after failed regeneration = %s, want GENERATING_SCENES", got.Status)
	}

	f.provider.scripts["req-scene-1"] = []provider.StatusResponse{completedResp(server.URL + "/1c.png")}
	retry, err := f.orch.Regenerate(ctx, draft.ID, generation.Spec{
		SceneIndex: 1, Kind: generation.KindImage, Prompt: "scene 1 third try",
	})
	if err != nil {
		t.Fatalf("Regenerate after failed regeneration: %v", err)
	}
	if !reflect.DeepEqual(retry.Completed, []int{1}) {
		t.Errorf("retry completed = %v", retry.Completed)
	}

	versions, _ := f.store.ListVersions(ctx, draft.ID)
	perScene := map[int]int{}
	for _, v := range versions {
		perScene[v.SceneIndex]++
	}
	if perScene[1] != 1 {
		t.Errorf("scene 1 versions = %d, want 1", perScene[1])
	}
}

func TestRetryAfterFullBatchFailure(t *testing.T) {
	ctx := context.Background()
	server := assetServer(t)
	f := newFixture(t, 100)
	draft := f.newDraft(t, 2)

	for _, scene := range []int{0, 1} {
		f.provider.scripts[fmt.Sprintf("req-scene-%d", scene)] = []provider.StatusResponse{
			failedResp(generation.ErrKindProvider, "capacity"),
		}
	}
	if _, err := f.orch.StartSceneBatch(ctx, draft.ID, imageSpecs(0, 1)); err != nil {
		t.Fatalf("StartSceneBatch failed: %v", err)
	}
	got, _ := f.store.GetDraft(ctx, draft.ID)
	if got.Status != store.StatusFailed {
		t.Fatalf("draft status = %s, want FAILED", got.Status)
	}

	// A regeneration is still open on the failed draft.
	f.provider.scripts["req-scene-0"] = []provider.StatusResponse{completedResp(server.URL + "/0b.png")}
	regen, err := f.orch.Regenerate(ctx, draft.ID, generation.Spec{
		SceneIndex: 0, Kind: generation.KindImage, Prompt: "scene 0 retry",
	})
	if err != nil {
		t.Fatalf("Regenerate on FAILED draft: %v", err)
	}
	if !reflect.DeepEqual(regen.Completed, []int{0}) {
		t.Errorf("regen completed = %v", regen.Completed)
	}

	// Retrying the stage reopens the draft and can complete it.
	f.provider.scripts["req-scene-0"] = []provider.StatusResponse{completedResp(server.URL + "/0c.png")}
	f.provider.scripts["req-scene-1"] = []provider.StatusResponse{completedResp(server.URL + "/1c.png")}
	report, err := f.orch.StartSceneBatch(ctx, draft.ID, []generation.Spec{
		{SceneIndex: 0, Kind: generation.KindImage, Prompt: "scene 0 fresh"},
		{SceneIndex: 1, Kind: generation.KindImage, Prompt: "scene 1 fresh"},
	})
	if err != nil {
		t.Fatalf("retry batch on FAILED draft: %v", err)
	}
	if len(report.Failed) != 0 {
		t.Errorf("retry failed scenes = %v", report.Failed)
	}
	got, _ = f.store.GetDraft(ctx, draft.ID)
	if got.Status != store.StatusScenesCompleted {
		t.Errorf("draft status after retry = %s, want SCENES_COMPLETED", got.Status)
	}
}

func TestRetryBatchChargesOnlyUncommittedScenes(t *testing.T) {
	ctx := context.Background()
	server := assetServer(t)
	f := newFixture(t, credits.CostPerImage)

	specs := imageSpecs(0, 1)
	draft := &store.Draft{
		ID: "d-retry", OwnerID: "user-1", Status: store.StatusGeneratingScenes, SceneOrder: []int{0, 1},
	}
	if err := f.store.PutDraft(ctx, draft); err != nil {
		t.Fatalf("PutDraft failed: %v", err)
	}
	// Scene 0 was committed and finished before the crash; scene 1 never
	// made it to the provider.
	if err := f.store.PutJob(ctx, draft.ID, &generation.Job{
		RequestID:  "req-scene-0",
		Kind:       generation.KindImage,
		SceneIndex: 0,
		Status:     generation.StatusCompleted,
		ResultURL:  server.URL + "/0.png",
		InputHash:  gateway.InputHash(specs[0]),
	}); err != nil {
		t.Fatalf("PutJob failed: %v", err)
	}

	f.provider.scripts["req-scene-1"] = []provider.StatusResponse{completedResp(server.URL + "/1.png")}
	report, err := f.orch.StartSceneBatch(ctx, draft.ID, specs)
	if err != nil {
		t.Fatalf("retried batch failed: %v", err)
	}
	if !reflect.DeepEqual(report.Completed, []int{0, 1}) {
		t.Errorf("Completed = %v", report.Completed)
	}

	// Only the uncommitted scene was submitted and charged; the balance
	// covered exactly that one image.
	if f.provider.submitCount() != 1 {
		t.Errorf("submits = %d, want 1", f.provider.submitCount())
	}
	balance, _ := f.ledger.Balance(ctx, "user-1")
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}
	got, _ := f.store.GetDraft(ctx, draft.ID)
	if got.CreditsReserved != credits.CostPerImage {
		t.Errorf("creditsReserved = %d, want %d", got.CreditsReserved, credits.CostPerImage)
	}
	if got.Status != store.StatusScenesCompleted {
		t.Errorf("draft status = %s, want SCENES_COMPLETED", got.Status)
	}
}
