package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/mind-engage/mindengage-assess/internal/audit"
	"github.com/mind-engage/mindengage-assess/internal/exam"
	"github.com/mind-engage/mindengage-assess/internal/rbac"
	"github.com/mind-engage/mindengage-assess/internal/storage"
)

// maxUploadBytes caps a single file_upload answer.
const maxUploadBytes = 32 << 20

// API holds the collaborators shared by every handler.
type API struct {
	Engine *exam.Engine
	Store  exam.Store // may be a cache-wrapped store
	Blobs  storage.BlobStore
	Events audit.Log
	Log    *slog.Logger
}

// isGrader reports whether the caller may see every attempt.
func isGrader(ctx context.Context) bool {
	return rbac.Can(ctx, rbac.PermAttemptViewAll)
}

// visibleAttempt loads an attempt the caller is allowed to read. Learners
// only ever see their own.
func (a *API) visibleAttempt(r *http.Request, id string) (exam.Attempt, exam.TestDefinition, error) {
	att, def, err := a.Engine.Attempt(r.Context(), id)
	if err != nil {
		return exam.Attempt{}, exam.TestDefinition{}, err
	}
	if !isGrader(r.Context()) && att.LearnerID != rbac.SubjectFromContext(r.Context()) {
		return exam.Attempt{}, exam.TestDefinition{}, exam.ErrNotAttemptOwner
	}
	return att, def, nil
}

type attemptView struct {
	exam.Attempt
	TimeRemainingSec *int64 `json:"time_remaining_sec"`
}

// viewOf redacts evaluation data for learners until results are released.
func (a *API) viewOf(ctx context.Context, def exam.TestDefinition, att exam.Attempt) attemptView {
	if !isGrader(ctx) {
		att = exam.LearnerAttempt(def, att)
	}
	return attemptView{Attempt: att, TimeRemainingSec: exam.TimeRemainingSec(att, a.Engine.Now())}
}
