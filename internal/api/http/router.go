package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	auth "github.com/mind-engage/mindengage-assess/internal/auth/middleware"
	"github.com/mind-engage/mindengage-assess/internal/rbac"
)

type RouterOptions struct {
	Auth        *auth.AuthService
	Login       *auth.Login // nil disables POST /auth/login
	CORSOrigins []string
	Ready       func(context.Context) error // backs /readyz; nil means always ready
}

// NewRouter mounts every route behind JWT auth and RBAC.
func NewRouter(a *API, o RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   o.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if o.Login != nil {
		r.Post("/auth/login", auth.LoginHandler(o.Auth, *o.Login))
	}

	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(o.Auth))

		pr.With(rbac.Require(rbac.PermTestCreate)).
			Put("/tests/{testID}", a.PutTestHandler())
		pr.With(rbac.Require(rbac.PermTestView)).
			Get("/tests/{testID}", a.GetTestHandler())
		pr.With(rbac.Require(rbac.PermAttemptCreate)).
			Get("/tests/{testID}/ledger", a.LedgerHandler())
		pr.With(rbac.Require(rbac.PermAttemptCreate)).
			Post("/tests/{testID}/attempts", a.StartAttemptHandler())

		viewer := rbac.RequireAny(rbac.PermAttemptViewOwn, rbac.PermAttemptViewAll)
		pr.With(viewer).Get("/attempts", a.ListAttemptsHandler())
		pr.Route("/attempts/{attemptID}", func(ar chi.Router) {
			ar.With(viewer).Get("/", a.GetAttemptHandler())
			ar.With(viewer).Get("/result", a.ResultHandler())
			ar.With(viewer).Get("/answers/{questionID}/file", a.DownloadAnswerFileHandler())

			ar.With(rbac.Require(rbac.PermAttemptSave)).Get("/paper", a.PaperHandler())
			ar.With(rbac.Require(rbac.PermAttemptSave)).Put("/answers/{questionID}", a.RecordAnswerHandler())
			ar.With(rbac.Require(rbac.PermAttemptSave)).Post("/answers/{questionID}/file", a.UploadAnswerFileHandler())
			ar.With(rbac.Require(rbac.PermAttemptSave)).Put("/draft", a.SaveDraftHandler())
			ar.With(rbac.Require(rbac.PermAttemptSubmit)).Post("/submit", a.SubmitHandler())

			ar.With(rbac.Require(rbac.PermAttemptViewAll)).Get("/events", a.EventsHandler())
			ar.With(rbac.Require(rbac.PermAttemptGrade)).Get("/grading", a.PendingItemsHandler())
			ar.With(rbac.Require(rbac.PermAttemptGrade)).Post("/grading/finalize", a.FinalizeHandler())
			ar.With(rbac.Require(rbac.PermAttemptGrade)).Post("/grading/{questionID}", a.GradeQuestionHandler())
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if o.Ready != nil {
			if err := o.Ready(r.Context()); err != nil {
				http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	return r
}
