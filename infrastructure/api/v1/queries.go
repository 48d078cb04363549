package v1

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rephole/rephole/application/service"
	"github.com/rephole/rephole/infrastructure/api/middleware"
)

// QueriesRouter exposes the parent-mode and chunk-mode search endpoints.
type QueriesRouter struct {
	query service.Query
}

// NewQueriesRouter creates a QueriesRouter.
func NewQueriesRouter(query service.Query) QueriesRouter {
	return QueriesRouter{query: query}
}

// Routes returns the mountable chi router.
func (qr QueriesRouter) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/search/{repoId}", qr.search)
	r.Post("/search/{repoId}/chunk", qr.searchChunks)
	return r
}

type searchRequestBody struct {
	Prompt string         `json:"prompt"`
	K      json.Number    `json:"k,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// limit interprets k leniently: any JSON number is accepted, and a
// missing or non-integer value comes back as 0 so the query service
// applies its default.
func (b searchRequestBody) limit() int {
	n, err := b.K.Int64()
	if err != nil {
		return 0
	}
	return int(n)
}

type hitBody struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	RepoID   string         `json:"repoId"`
	Metadata map[string]any `json:"metadata"`
}

type searchResponseBody struct {
	Results []hitBody `json:"results"`
}

func (qr QueriesRouter) search(w http.ResponseWriter, r *http.Request) {
	qr.handle(w, r, qr.query.Search)
}

func (qr QueriesRouter) searchChunks(w http.ResponseWriter, r *http.Request) {
	qr.handle(w, r, qr.query.SearchChunks)
}

// searchFunc matches service.Query's Search and SearchChunks signatures,
// letting handle share the decode/respond plumbing between both modes.
type searchFunc func(ctx context.Context, req service.QueryRequest) ([]service.Hit, error)

func (qr QueriesRouter) handle(w http.ResponseWriter, r *http.Request, op searchFunc) {
	var body searchRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.WriteError(w, middleware.NewAPIError(http.StatusBadRequest, "invalid request body", err))
		return
	}

	hits, err := op(r.Context(), service.QueryRequest{
		RepoID: chi.URLParam(r, "repoId"),
		Prompt: body.Prompt,
		K:      body.limit(),
		Meta:   body.Meta,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	results := make([]hitBody, len(hits))
	for i, h := range hits {
		results[i] = hitBody{ID: h.ID, Content: h.Content, RepoID: h.RepoID, Metadata: h.Metadata}
	}
	middleware.WriteJSON(w, http.StatusOK, searchResponseBody{Results: results})
}
