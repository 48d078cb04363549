package v1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	v1 "github.com/rephole/rephole/infrastructure/api/v1"
	"github.com/rephole/rephole/internal/database"

	"github.com/rephole/rephole/application/service"
	"github.com/rephole/rephole/domain/job"
	"github.com/rephole/rephole/domain/vectorrecord"
	"github.com/rephole/rephole/infrastructure/persistence"
)

func openTestDB(t *testing.T) database.Database {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.NewDatabase(context.Background(), "sqlite:///"+dbPath)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := persistence.AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type noopNotifier struct{}

func (noopNotifier) NotifyJobEnqueued(ctx context.Context, jobID string) error { return nil }

func TestIngestionsRouter_Enqueue(t *testing.T) {
	db := openTestDB(t)
	jobs := persistence.NewJobStore(db)
	producer := service.NewProducer(jobs, noopNotifier{}, 3)
	router := v1.NewIngestionsRouter(producer)

	body := bytes.NewBufferString(`{"repoUrl":"https://github.com/acme/demo.git"}`)
	req := httptest.NewRequest(http.MethodPost, "/repository", body)
	w := httptest.NewRecorder()

	router.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var resp struct {
		Status  string `json:"status"`
		JobID   string `json:"jobId"`
		RepoID  string `json:"repoId"`
		RepoURL string `json:"repoUrl"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "queued" {
		t.Errorf("status = %q, want queued", resp.Status)
	}
	if resp.JobID == "" {
		t.Error("jobId is empty")
	}
	if resp.RepoID != "demo" {
		t.Errorf("repoId = %q, want demo", resp.RepoID)
	}
}

func TestIngestionsRouter_Enqueue_InvalidURL(t *testing.T) {
	db := openTestDB(t)
	jobs := persistence.NewJobStore(db)
	producer := service.NewProducer(jobs, noopNotifier{}, 3)
	router := v1.NewIngestionsRouter(producer)

	body := bytes.NewBufferString(`{"repoUrl":"not-a-url"}`)
	req := httptest.NewRequest(http.MethodPost, "/repository", body)
	w := httptest.NewRecorder()

	router.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
}

func TestJobsRouter_GetJob(t *testing.T) {
	db := openTestDB(t)
	store := persistence.NewJobStore(db)
	router := v1.NewJobsRouter(store)

	j := job.New("job-1", job.Payload{RepoURL: "https://github.com/acme/demo.git", Ref: "main", RepoID: "demo"}, 3)
	if err := store.Enqueue(context.Background(), j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/job/job-1", nil)
	w := httptest.NewRecorder()
	router.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "job-1" || resp.State != "waiting" {
		t.Errorf("got id=%q state=%q, want id=job-1 state=waiting", resp.ID, resp.State)
	}
}

func TestJobsRouter_GetJob_NotFound(t *testing.T) {
	db := openTestDB(t)
	router := v1.NewJobsRouter(persistence.NewJobStore(db))

	req := httptest.NewRequest(http.MethodGet, "/job/missing", nil)
	w := httptest.NewRecorder()
	router.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestJobsRouter_RetryAll(t *testing.T) {
	db := openTestDB(t)
	store := persistence.NewJobStore(db)
	router := v1.NewJobsRouter(store)

	j := job.New("job-2", job.Payload{RepoURL: "https://github.com/acme/demo.git", RepoID: "demo"}, 1)
	j = j.Start().Fail("boom")
	if err := store.Enqueue(context.Background(), j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/retry/all", nil)
	w := httptest.NewRecorder()
	router.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
}

type fakeSearcher struct {
	results []vectorrecord.SearchResult
}

func (f fakeSearcher) SimilaritySearch(ctx context.Context, vector []float64, k int, filter vectorrecord.Filter) ([]vectorrecord.SearchResult, error) {
	return f.results, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{0.1, 0.2, 0.3}
	}
	return out, nil
}

func TestQueriesRouter_SearchChunks(t *testing.T) {
	record := vectorrecord.Build(vectorrecord.BuildParams{
		ChunkID: "c1", Vector: []float64{0.1, 0.2, 0.3}, Content: "func X() {}", RepoID: "demo",
	})
	searcher := fakeSearcher{results: []vectorrecord.SearchResult{{Record: record, Score: 0.9}}}
	retriever := service.NewRetriever(searcher, nil)
	query := service.NewQuery(fakeEmbedder{}, retriever)
	router := v1.NewQueriesRouter(query)

	body := bytes.NewBufferString(`{"prompt":"find X"}`)
	req := httptest.NewRequest(http.MethodPost, "/search/demo/chunk", body)
	w := httptest.NewRecorder()
	router.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Results []struct {
			ID      string `json:"id"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != "c1" {
		t.Errorf("results = %+v, want one hit with id c1", resp.Results)
	}
}

func TestQueriesRouter_NonIntegerKDefaults(t *testing.T) {
	record := vectorrecord.Build(vectorrecord.BuildParams{
		ChunkID: "c1", Vector: []float64{0.1, 0.2, 0.3}, Content: "func X() {}", RepoID: "demo",
	})
	searcher := fakeSearcher{results: []vectorrecord.SearchResult{{Record: record, Score: 0.9}}}
	retriever := service.NewRetriever(searcher, nil)
	query := service.NewQuery(fakeEmbedder{}, retriever)
	router := v1.NewQueriesRouter(query)

	body := bytes.NewBufferString(`{"prompt":"find X","k":2.5}`)
	req := httptest.NewRequest(http.MethodPost, "/search/demo/chunk", body)
	w := httptest.NewRecorder()
	router.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d for non-integer k; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestHealthRouter(t *testing.T) {
	router := v1.NewHealthRouter()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	router.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}
