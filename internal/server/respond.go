package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/continuumhq/continuum/internal/ctxutil"
	"github.com/continuumhq/continuum/internal/llm"
	"github.com/continuumhq/continuum/internal/model"
	"github.com/continuumhq/continuum/internal/service/agent"
	"github.com/continuumhq/continuum/internal/storage"
)

func meta(r *http.Request) model.ResponseMeta {
	return model.ResponseMeta{
		RequestID: ctxutil.RequestIDFromContext(r.Context()),
		Timestamp: time.Now().UTC(),
		Path:      r.URL.Path,
	}
}

// writeJSON writes a success envelope.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{Data: data, Meta: meta(r)})
}

// writeList writes a pagination envelope.
func writeList(w http.ResponseWriter, r *http.Request, data any, total *int, limit, offset int, hasMore bool) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(model.ListResponse{
		Data:    data,
		Total:   total,
		HasMore: hasMore,
		Limit:   limit,
		Offset:  offset,
		Meta:    meta(r),
	})
}

// writeError writes an error envelope.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{Code: code, Message: message},
		Meta:  meta(r),
	})
}

// writeMappedError classifies a service error into a status and envelope.
func writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	var circuitOpen *llm.CircuitOpenError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
	case errors.Is(err, storage.ErrConflict):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
	case errors.Is(err, agent.ErrValidation):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
	case errors.As(err, &circuitOpen):
		secs := int(circuitOpen.RetryIn.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeExternalService,
			"language model temporarily unavailable")
	case errors.Is(err, llm.ErrPromptTooLarge):
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeUnprocessable, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError,
			"internal server error")
	}
}

// writeValidationErrors writes a 400 with per-field details.
func writeValidationErrors(w http.ResponseWriter, r *http.Request, errs []model.FieldError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{
			Code:    model.ErrCodeInvalidInput,
			Message: "validation failed",
			Details: errs,
		},
		Meta: meta(r),
	})
}

// decodeJSON parses a request body, rejecting unknown fields.
func decodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return err
	}
	// A body must contain exactly one JSON document.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// queryInt parses an integer query parameter with a default.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
