package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-assess/internal/exam"
	"github.com/mind-engage/mindengage-assess/internal/rbac"
)

type gradeReq struct {
	Points   *float64 `json:"points"`
	Feedback string   `json:"feedback,omitempty"`
}

// GET /attempts/{attemptID}/grading
func (a *API) PendingItemsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := a.Engine.PendingItems(r.Context(), chi.URLParam(r, "attemptID"))
		if err != nil {
			writeError(w, r, a.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	}
}

// POST /attempts/{attemptID}/grading/{questionID}  { "points": 7.5, "feedback": "..." }
func (a *API) GradeQuestionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req gradeReq
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Points == nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "points required"})
			return
		}
		att, err := a.Engine.GradeQuestion(r.Context(), chi.URLParam(r, "attemptID"),
			rbac.SubjectFromContext(r.Context()), chi.URLParam(r, "questionID"), *req.Points, req.Feedback)
		if err != nil {
			writeError(w, r, a.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, a.viewOf(r.Context(), exam.TestDefinition{}, att))
	}
}

// POST /attempts/{attemptID}/grading/finalize
func (a *API) FinalizeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		att, err := a.Engine.Finalize(r.Context(), chi.URLParam(r, "attemptID"), rbac.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, r, a.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, a.viewOf(r.Context(), exam.TestDefinition{}, att))
	}
}
