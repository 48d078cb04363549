package api

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rephole/rephole/application/service"
	"github.com/rephole/rephole/infrastructure/persistence"
	"github.com/rephole/rephole/internal/database"
)

type noopNotifier struct{}

func (noopNotifier) NotifyJobEnqueued(ctx context.Context, jobID string) error { return nil }

func newTestAPIServer(t *testing.T) *APIServer {
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

	jobs := persistence.NewJobStore(db)
	producer := service.NewProducer(jobs, noopNotifier{}, 3)

	return NewAPIServer(producer, service.Query{}, jobs, slog.Default())
}

func TestAPIServer_Ingestions(t *testing.T) {
	a := newTestAPIServer(t)
	a.MountRoutes()

	body := bytes.NewBufferString(`{"repoUrl":"https://github.com/acme/demo.git"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingestions/repository", body)
	w := httptest.NewRecorder()

	a.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}
}

func TestAPIServer_JobNotFound(t *testing.T) {
	a := newTestAPIServer(t)
	a.MountRoutes()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job/missing", nil)
	w := httptest.NewRecorder()

	a.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPIServer_Health(t *testing.T) {
	a := newTestAPIServer(t)
	a.MountRoutes()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	a.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}
