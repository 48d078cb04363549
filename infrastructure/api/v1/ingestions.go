// Package v1 implements the REST surface: ingestion, job status, and
// query endpoints, each a thin adapter over application/service.
package v1

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rephole/rephole/application/service"
	"github.com/rephole/rephole/infrastructure/api/middleware"
)

// IngestionsRouter exposes POST /repository, the Ingestion Producer's
// single operation.
type IngestionsRouter struct {
	producer service.Producer
}

// NewIngestionsRouter creates an IngestionsRouter.
func NewIngestionsRouter(producer service.Producer) IngestionsRouter {
	return IngestionsRouter{producer: producer}
}

// Routes returns the mountable chi router.
func (ir IngestionsRouter) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/repository", ir.enqueue)
	return r
}

type ingestRequestBody struct {
	RepoURL string         `json:"repoUrl"`
	Ref     string         `json:"ref,omitempty"`
	Token   string         `json:"token,omitempty"`
	UserID  string         `json:"userId,omitempty"`
	RepoID  string         `json:"repoId,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

type ingestResponseBody struct {
	Status  string `json:"status"`
	JobID   string `json:"jobId"`
	RepoURL string `json:"repoUrl"`
	Ref     string `json:"ref"`
	RepoID  string `json:"repoId"`
}

func (ir IngestionsRouter) enqueue(w http.ResponseWriter, r *http.Request) {
	var body ingestRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.WriteError(w, middleware.NewAPIError(http.StatusBadRequest, "invalid request body", err))
		return
	}

	result, err := ir.producer.Enqueue(r.Context(), service.ProducerRequest{
		RepoURL: body.RepoURL,
		Ref:     body.Ref,
		Token:   body.Token,
		UserID:  body.UserID,
		RepoID:  body.RepoID,
		Meta:    body.Meta,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, ingestResponseBody{
		Status:  "queued",
		JobID:   result.JobID,
		RepoURL: result.RepoURL,
		Ref:     result.Ref,
		RepoID:  result.RepoID,
	})
}
