package materialize

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adcraft/creative-orchestrator/internal/generation"
)

type fakeObjectStore struct {
	uploads map[string][]byte
	types   map[string]string
	failPut bool
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{
		uploads: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (f *fakeObjectStore) Upload(_ context.Context, key string, body io.Reader, contentType string) error {
	if f.failPut {
		return io.ErrClosedPipe
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.uploads[key] = data
	f.types[key] = contentType
	return nil
}

func (f *fakeObjectStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://durable.example.com/" + key, nil
}

type recordingBackfill struct {
	requests []BackfillRequest
}

func (r *recordingBackfill) StartBackfill(_ context.Context, req BackfillRequest) error {
	r.requests = append(r.requests, req)
	return nil
}

func completedJob(kind generation.Kind, url string) *generation.Job {
	return &generation.Job{
		RequestID:  "req-test",
		Kind:       kind,
		SceneIndex: 2,
		Status:     generation.StatusCompleted,
		ResultURL:  url,
	}
}

func TestMaterializeImage(t *testing.T) {
	pngData := testPNG(t, 320, 240)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngData)
	}))
	defer server.Close()

	objects := newFakeObjectStore()
	m := NewMaterializer(objects, nil)

	result, err := m.Materialize(context.Background(), "d1", completedJob(generation.KindImage, server.URL+"/out.png"))
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if result.Degraded {
		t.Fatal("expected durable result, got degraded")
	}

	wantKey := "drafts/d1/scene-0002/req-test.jpg"
	if result.Key != wantKey {
		t.Errorf("key = %s, want %s", result.Key, wantKey)
	}
	if !strings.HasPrefix(result.URL, "https://durable.example.com/") {
		t.Errorf("URL not presigned: %s", result.URL)
	}
	if objects.types[wantKey] != "image/jpeg" {
		t.Errorf("stored content type = %s, want image/jpeg (recompressed)", objects.types[wantKey])
	}
	if len(objects.uploads[wantKey]) == 0 {
		t.Error("nothing uploaded")
	}
}

func TestMaterializeVideoPassthrough(t *testing.T) {
	// DetectContentType cannot identify this payload as an image, so it
	// must be stored untouched.
	videoBytes := []byte("\x00\x00\x00\x18ftypmp42 fake video payload")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(videoBytes)
	}))
	defer server.Close()

	objects := newFakeObjectStore()
	m := NewMaterializer(objects, nil)

	result, err := m.Materialize(context.Background(), "d1", completedJob(generation.KindVideo, server.URL+"/clip"))
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if result.Degraded {
		t.Fatal("unexpected degraded result")
	}
	wantKey := "drafts/d1/scene-0002/req-test.mp4"
	if result.Key != wantKey {
		t.Errorf("key = %s, want %s", result.Key, wantKey)
	}
	if string(objects.uploads[wantKey]) != string(videoBytes) {
		t.Error("video bytes modified in transit")
	}
}

func TestMaterializeRetriesOnce(t *testing.T) {
	pngData := testPNG(t, 64, 64)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write(pngData)
	}))
	defer server.Close()

	m := NewMaterializer(newFakeObjectStore(), nil)
	result, err := m.Materialize(context.Background(), "d1", completedJob(generation.KindImage, server.URL+"/a.png"))
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if result.Degraded {
		t.Fatal("retry should have succeeded")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("download attempts = %d, want 2", got)
	}
}

func TestMaterializeDegradesAfterRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ephemeralURL := server.URL + "/gone.png"
	m := NewMaterializer(newFakeObjectStore(), nil)

	result, err := m.Materialize(context.Background(), "d1", completedJob(generation.KindImage, ephemeralURL))
	if err != nil {
		t.Fatalf("degraded fallback must not error: %v", err)
	}
	if !result.Degraded {
		t.Fatal("expected degraded result")
	}
	if result.URL != ephemeralURL {
		t.Errorf("degraded URL = %s, want ephemeral %s", result.URL, ephemeralURL)
	}
	if result.Key != "" {
		t.Errorf("degraded result has key %s", result.Key)
	}
}

func TestMaterializeDegradesOnUploadFailure(t *testing.T) {
	pngData := testPNG(t, 64, 64)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngData)
	}))
	defer server.Close()

	objects := newFakeObjectStore()
	objects.failPut = true
	m := NewMaterializer(objects, nil)

	result, err := m.Materialize(context.Background(), "d1", completedJob(generation.KindImage, server.URL+"/a.png"))
	if err != nil {
		t.Fatalf("degraded fallback must not error: %v", err)
	}
	if !result.Degraded {
		t.Fatal("expected degraded result on upload failure")
	}
}

func TestMaterializeRejectsNonCompletedJob(t *testing.T) {
	m := NewMaterializer(newFakeObjectStore(), nil)

	job := completedJob(generation.KindImage, "https://x.invalid/a.png")
	job.Status = generation.StatusInProgress
	if _, err := m.Materialize(context.Background(), "d1", job); err == nil {
		t.Error("expected error for non-completed job")
	}

	job = completedJob(generation.KindImage, "")
	if _, err := m.Materialize(context.Background(), "d1", job); err == nil {
		t.Error("expected error for missing result URL")
	}
}

func TestRequestBackfill(t *testing.T) {
	backfill := &recordingBackfill{}
	m := NewMaterializer(newFakeObjectStore(), backfill)

	req := BackfillRequest{
		DraftID:      "d1",
		SceneIndex:   0,
		VersionID:    "ver-abc",
		RequestID:    "req-1",
		EphemeralURL: "https://cdn.provider.example/x.png",
	}
	m.RequestBackfill(context.Background(), req)

	if len(backfill.requests) != 1 || backfill.requests[0].VersionID != "ver-abc" {
		t.Errorf("backfill requests = %+v", backfill.requests)
	}

	// Nil pipeline is a quiet no-op.
	none := NewMaterializer(newFakeObjectStore(), nil)
	none.RequestBackfill(context.Background(), req)
}
