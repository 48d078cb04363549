package v1

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rephole/rephole/domain/job"
	"github.com/rephole/rephole/infrastructure/api/middleware"
	"github.com/rephole/rephole/infrastructure/persistence"
)

// JobsRouter exposes the job-status and retry endpoints.
type JobsRouter struct {
	jobs persistence.JobStore
}

// NewJobsRouter creates a JobsRouter.
func NewJobsRouter(jobs persistence.JobStore) JobsRouter {
	return JobsRouter{jobs: jobs}
}

// Routes returns the mountable chi router.
func (jr JobsRouter) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/job/{jobId}", jr.getJob)
	r.Get("/failed", jr.listFailed)
	r.Post("/retry/{jobId}", jr.retryOne)
	r.Post("/retry/all", jr.retryAll)
	return r
}

type jobStatusBody struct {
	ID       string      `json:"id"`
	State    job.State   `json:"state"`
	Progress int         `json:"progress"`
	Data     job.Payload `json:"data"`
}

func (jr JobsRouter) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobId")
	j, err := jr.jobs.Get(r.Context(), id)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, jobStatusBody{
		ID:       j.ID(),
		State:    j.State(),
		Progress: j.Progress(),
		Data:     j.Payload(),
	})
}

type failedJobBody struct {
	ID           string    `json:"id"`
	FailedReason string    `json:"failedReason"`
	AttemptsMade int       `json:"attemptsMade"`
	Timestamp    time.Time `json:"timestamp"`
}

func (jr JobsRouter) listFailed(w http.ResponseWriter, r *http.Request) {
	jobs, err := jr.jobs.ListFailed(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	out := make([]failedJobBody, len(jobs))
	for i, j := range jobs {
		out[i] = failedJobBody{
			ID:           j.ID(),
			FailedReason: j.FailedReason(),
			AttemptsMade: j.AttemptsMade(),
			Timestamp:    j.UpdatedAt(),
		}
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}

func (jr JobsRouter) retryOne(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobId")
	if err := jr.jobs.Retry(r.Context(), id); err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

func (jr JobsRouter) retryAll(w http.ResponseWriter, r *http.Request) {
	n, err := jr.jobs.RetryAll(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]int64{"retried": n})
}
