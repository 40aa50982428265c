package soniclens

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/vincentchyu/sonic-lens/store"
)

// HTTPError is an error with a status code and a message safe to show to clients.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return e.Message
}

func badRequest(message string) error {
	return &HTTPError{Status: http.StatusBadRequest, Message: message}
}

func notFound(message string) error {
	return &HTTPError{Status: http.StatusNotFound, Message: message}
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError translates err into a JSON error response.
// Query failures surface their message with status 500, anything unknown is a bare 500.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	var httpErr *HTTPError
	var queryErr *store.QueryError
	switch {
	case errors.As(err, &httpErr):
		writeJSON(w, httpErr.Status, errorBody{Error: httpErr.Message})
	case errors.As(err, &queryErr):
		log.Error().Err(queryErr.Err).Str("query", queryErr.Query).Msg("Query failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: queryErr.Error()})
	default:
		log.Error().Err(err).Msg("Handler failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: http.StatusText(http.StatusInternalServerError)})
	}
}
