package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-assess/internal/exam"
	"github.com/mind-engage/mindengage-assess/internal/rbac"
)

// PUT /tests/{testID}
func (a *API) PutTestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := strings.TrimSpace(chi.URLParam(r, "testID"))
		var def exam.TestDefinition
		if !decodeJSON(w, r, &def) {
			return
		}
		if def.ID == "" {
			def.ID = testID
		}
		if def.ID != testID {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "id does not match path"})
			return
		}
		if err := exam.ValidateTest(def); err != nil {
			writeError(w, r, a.Log, err)
			return
		}
		if err := a.Store.PutTest(r.Context(), def); err != nil {
			writeError(w, r, a.Log, err)
			return
		}
		a.Log.Info("test stored", "test_id", def.ID, "questions", len(def.Questions), "published", def.IsPublished)
		writeJSON(w, http.StatusOK, exam.PublicTest(def))
	}
}

// GET /tests/{testID}
func (a *API) GetTestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def, err := a.Engine.PublishedTest(r.Context(), chi.URLParam(r, "testID"))
		if err != nil {
			writeError(w, r, a.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, exam.PublicTest(def))
	}
}

type ledgerView struct {
	exam.LedgerEntry
	Remaining int `json:"remaining"`
}

// GET /tests/{testID}/ledger
func (a *API) LedgerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l, err := a.Engine.Ledger(r.Context(), chi.URLParam(r, "testID"), rbac.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, r, a.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, ledgerView{LedgerEntry: l, Remaining: l.Remaining()})
	}
}
