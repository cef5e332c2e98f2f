package http

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-assess/internal/exam"
	"github.com/mind-engage/mindengage-assess/internal/rbac"
	"github.com/mind-engage/mindengage-assess/internal/storage"
)

// POST /tests/{testID}/attempts
// Resumes the caller's in-progress attempt when there is one.
func (a *API) StartAttemptHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		att, err := a.Engine.Start(ctx, chi.URLParam(r, "testID"), rbac.SubjectFromContext(ctx))
		if err != nil {
			writeError(w, r, a.Log, err)
			return
		}
		def, err := a.Engine.PublishedTest(ctx, att.TestID)
		if err != nil {
			writeError(w, r, a.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, a.viewOf(ctx, def, att))
	}
}

// GET /attempts?test_id=...&learner_id=...&status=...&limit=50&offset=0&sort=started_at
// Callers without attempt:view-all only ever see their own attempts.
func (a *API) ListAttemptsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		q := r.URL.Query()
		opts := exam.AttemptListOpts{
			TestID:    strings.TrimSpace(q.Get("test_id")),
			LearnerID: strings.TrimSpace(q.Get("learner_id")),
			Status:    exam.Status(strings.TrimSpace(q.Get("status"))),
			Limit:     parseIntDefault(q.Get("limit"), 50),
			Offset:    parseIntDefault(q.Get("offset"), 0),
			Sort:      strings.TrimSpace(q.Get("sort")),
		}
		if !isGrader(ctx) {
			opts.LearnerID = rbac.SubjectFromContext(ctx)
		}
		list, err := a.Store.ListAttempts(ctx, opts)
		if err != nil {
			writeError(w, r, a.Log, err)
			return
		}
		if !isGrader(ctx) {
			defs := map[string]exam.TestDefinition{}
			for i, att := range list {
				def, ok := defs[att.TestID]
				if !ok {
					if def, err = a.Store.GetTest(ctx, att.TestID); err != nil {
						writeError(w, r, a.Log, err)
						return
					}
					defs[att.TestID] = def
				}
				list[i] = exam.LearnerAttempt(def, att)
			}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// GET /attempts/{attemptID}
func (a *API) GetAttemptHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		att, def, err := a.visibleAttempt(r, chi.URLParam(r, "attemptID"))
		if err != nil {
			writeError(w, r, a.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, a.viewOf(r.Context(), def, att))
	}
}

// GET /attempts/{attemptID}/paper
func (a *API) PaperHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		att, def, err := a.visibleAttempt(r, chi.URLParam(r, "attemptID"))
		if err != nil {
			writeError(w, r, a.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, exam.BuildPaper(def, att, a.Engine.Now()))
	}
}

// PUT /attempts/{attemptID}/answers/{questionID}
func (a *API) RecordAnswerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		attemptID, questionID := chi.URLParam(r, "attemptID"), chi.URLParam(r, "questionID")
		var in exam.AnswerInput
		if !decodeJSON(w, r, &in) {
			return
		}
		v, err := in.Value()
		if err == nil {
			err = checkFileRef(attemptID, questionID, v)
		}
		if err != nil {
			writeError(w, r, a.Log, err)
			return
		}
		a.respondLearner(w, r, func() (exam.Attempt, error) {
			return a.Engine.RecordAnswer(ctx, attemptID, rbac.SubjectFromContext(ctx), questionID, v)
		})
	}
}

// POST /attempts/{attemptID}/answers/{questionID}/file  (multipart, field "file")
// Stores the upload and records its key as the answer.
func (a *API) UploadAnswerFileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		attemptID, questionID := chi.URLParam(r, "attemptID"), chi.URLParam(r, "questionID")
		sub := rbac.SubjectFromContext(ctx)

		// Refuse early so closed or foreign attempts leave no blobs behind.
		att, def, err := a.Engine.Attempt(ctx, attemptID)
		if err == nil && att.LearnerID != sub {
			err = exam.ErrNotAttemptOwner
		}
		if err == nil && att.Status != exam.StatusInProgress {
			err = fmt.Errorf("%w: attempt is %s", exam.ErrSubmissionFinalized, att.Status)
		}
		if err == nil {
			if q, ok := def.Question(questionID); !ok {
				err = fmt.Errorf("%w: %s", exam.ErrQuestionNotFound, questionID)
			} else if q.Type != exam.FileUpload {
				err = fmt.Errorf("%w: question %s does not take a file", exam.ErrInvalidAnswerShape, questionID)
			}
		}
		if err != nil {
			writeError(w, r, a.Log, err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		f, hdr, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "file required"})
			return
		}
		defer f.Close()

		key := storage.AnswerFileKey(attemptID, questionID, uuid.NewString(), hdr.Filename)
		if _, err := a.Blobs.Put(key, f); err != nil {
			writeError(w, r, a.Log, fmt.Errorf("store upload: %w", err))
			return
		}
		a.respondLearner(w, r, func() (exam.Attempt, error) {
			return a.Engine.RecordAnswer(ctx, attemptID, sub, questionID, exam.FileAnswer{Ref: key})
		})
	}
}

// GET /attempts/{attemptID}/answers/{questionID}/file
func (a *API) DownloadAnswerFileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attemptID, questionID := chi.URLParam(r, "attemptID"), chi.URLParam(r, "questionID")
		att, _, err := a.visibleAttempt(r, attemptID)
		if err != nil {
			writeError(w, r, a.Log, err)
			return
		}
		ans, ok := att.Answers[questionID]
		fa, isFile := ans.Value.(exam.FileAnswer)
		if !ok || !isFile {
			writeError(w, r, a.Log, fmt.Errorf("%w: no file for %s", storage.ErrNotFound, questionID))
			return
		}
		rc, err := a.Blobs.Get(fa.Ref)
		if err != nil {
			writeError(w, r, a.Log, err)
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.Copy(w, rc)
	}
}

type draftReq struct {
	Answers map[string]exam.AnswerInput `json:"answers"`
}

// PUT /attempts/{attemptID}/draft
// Replaces the whole answer map (last write wins).
func (a *API) SaveDraftHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		attemptID := chi.URLParam(r, "attemptID")
		var req draftReq
		if !decodeJSON(w, r, &req) {
			return
		}
		answers := make(map[string]exam.AnswerValue, len(req.Answers))
		for qid, in := range req.Answers {
			v, err := in.Value()
			if err == nil {
				err = checkFileRef(attemptID, qid, v)
			}
			if err != nil {
				writeError(w, r, a.Log, fmt.Errorf("question %s: %w", qid, err))
				return
			}
			answers[qid] = v
		}
		a.respondLearner(w, r, func() (exam.Attempt, error) {
			return a.Engine.SaveDraft(ctx, attemptID, rbac.SubjectFromContext(ctx), answers)
		})
	}
}

type submitView struct {
	attemptView
	exam.SubmitReport
}

// POST /attempts/{attemptID}/submit
func (a *API) SubmitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		att, rep, err := a.Engine.Submit(ctx, chi.URLParam(r, "attemptID"), rbac.SubjectFromContext(ctx))
		if err != nil {
			writeError(w, r, a.Log, err)
			return
		}
		def, err := a.Store.GetTest(ctx, att.TestID)
		if err != nil {
			writeError(w, r, a.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, submitView{attemptView: a.viewOf(ctx, def, att), SubmitReport: rep})
	}
}

// GET /attempts/{attemptID}/result
func (a *API) ResultHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		att, def, err := a.visibleAttempt(r, chi.URLParam(r, "attemptID"))
		if err != nil {
			writeError(w, r, a.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, exam.BuildResult(def, att, rbac.Can(r.Context(), rbac.PermAttemptGrade)))
	}
}

// GET /attempts/{attemptID}/events?limit=100
func (a *API) EventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attemptID := chi.URLParam(r, "attemptID")
		if _, _, err := a.visibleAttempt(r, attemptID); err != nil {
			writeError(w, r, a.Log, err)
			return
		}
		evs, err := a.Events.ListByKey(r.Context(), attemptID, parseIntDefault(r.URL.Query().Get("limit"), 100))
		if err != nil {
			writeError(w, r, a.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, evs)
	}
}

// respondLearner runs a learner mutation and renders the redacted attempt.
func (a *API) respondLearner(w http.ResponseWriter, r *http.Request, fn func() (exam.Attempt, error)) {
	att, err := fn()
	if err != nil {
		writeError(w, r, a.Log, err)
		return
	}
	def, err := a.Store.GetTest(r.Context(), att.TestID)
	if err != nil {
		writeError(w, r, a.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, a.viewOf(r.Context(), def, att))
}

// checkFileRef keeps learners from pointing an answer at somebody else's blob.
func checkFileRef(attemptID, questionID string, v exam.AnswerValue) error {
	f, ok := v.(exam.FileAnswer)
	if !ok {
		return nil
	}
	if !strings.HasPrefix(f.Ref, "attempts/"+attemptID+"/"+questionID+"/") {
		return fmt.Errorf("%w: file reference must come from an upload to this question", exam.ErrInvalidAnswerShape)
	}
	return nil
}
