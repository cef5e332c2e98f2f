package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mind-engage/mindengage-assess/internal/exam"
	"github.com/mind-engage/mindengage-assess/internal/storage"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, exam.ErrTestNotFound),
		errors.Is(err, exam.ErrAttemptNotFound),
		errors.Is(err, exam.ErrQuestionNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, exam.ErrNotAttemptOwner):
		return http.StatusForbidden
	case errors.Is(err, exam.ErrAttemptLimitExceeded),
		errors.Is(err, exam.ErrSubmissionFinalized),
		errors.Is(err, exam.ErrSubmissionNotPendingGrading),
		errors.Is(err, exam.ErrGradingIncomplete),
		errors.Is(err, exam.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, exam.ErrInvalidPointsValue),
		errors.Is(err, exam.ErrInvalidAnswerShape),
		errors.Is(err, exam.ErrQuestionNotAnswered),
		errors.Is(err, exam.ErrInvalidTest),
		errors.Is(err, storage.ErrInvalidKey):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		msg = "internal error"
	}
	writeJSON(w, code, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad json: " + err.Error()})
		return false
	}
	return true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil && v >= 0 {
		return v
	}
	return def
}
