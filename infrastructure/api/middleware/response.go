package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rephole/rephole/domain/rerrors"
	"github.com/rephole/rephole/internal/database"
)

// errorBody is the fixed wire shape for every validation/error
// response: {statusCode, message, error}.
type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Error      string `json:"error"`
}

// WriteJSON writes v as a JSON body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError classifies err against domain/rerrors's sentinel kinds and
// writes the matching status code and body. Errors that match no known
// kind are reported as 500.
func WriteError(w http.ResponseWriter, err error) {
	status, label := classify(err)
	WriteJSON(w, status, errorBody{
		StatusCode: status,
		Message:    err.Error(),
		Error:      label,
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, rerrors.ErrValidation):
		return http.StatusBadRequest, "Bad Request"
	case errors.Is(err, rerrors.ErrNotFound), errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, rerrors.ErrBadChunkBatch):
		return http.StatusBadRequest, "Bad Request"
	case errors.Is(err, rerrors.ErrTransientExternal):
		return http.StatusBadGateway, "Bad Gateway"
	case errors.Is(err, ErrAuthentication):
		return http.StatusUnauthorized, "Unauthorized"
	default:
		return http.StatusInternalServerError, "Internal Server Error"
	}
}
