package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-assess/internal/audit"
	auth "github.com/mind-engage/mindengage-assess/internal/auth/middleware"
	"github.com/mind-engage/mindengage-assess/internal/exam"
	"github.com/mind-engage/mindengage-assess/internal/storage"
)

type harness struct {
	t       *testing.T
	h       http.Handler
	authSvc *auth.AuthService
	store   exam.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := exam.NewInMemoryStore()
	events := audit.NewMemoryLog()
	blobs, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	hash, err := bcrypt.GenerateFromPassword([]byte("root-pass"), bcrypt.MinCost)
	require.NoError(t, err)

	api := &API{
		Engine: exam.NewEngine(store, exam.WithAuditor(events), exam.WithLogger(log)),
		Store:  store,
		Blobs:  blobs,
		Events: events,
		Log:    log,
	}
	authSvc := auth.NewAuthService("test-secret")
	h := NewRouter(api, RouterOptions{
		Auth:        authSvc,
		Login:       &auth.Login{AdminUser: "admin", AdminPassHash: string(hash), DevLogin: true},
		CORSOrigins: []string{"http://localhost:3000"},
	})
	return &harness{t: t, h: h, authSvc: authSvc, store: store}
}

func (h *harness) token(sub, role string) string {
	tok, err := h.authSvc.IssueJWT(sub, role)
	require.NoError(h.t, err)
	return tok
}

func (h *harness) do(method, path, tok string, body any) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(h.t, err)
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rd)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func quiz(id string) exam.TestDefinition {
	return exam.TestDefinition{
		ID: id, Title: "Capitals", MaxAttempts: 1, PassingScore: 60,
		ValidationType: exam.ValidationAutomatic, IsPublished: true,
		Questions: []exam.Question{{
			ID: "q1", Type: exam.SingleChoice, Points: 1, IsRequired: true,
			Options: []exam.Option{{ID: "paris", IsCorrect: true}, {ID: "lyon"}},
		}},
	}
}

func portfolio(id string) exam.TestDefinition {
	return exam.TestDefinition{
		ID: id, Title: "Portfolio", MaxAttempts: 2, PassingScore: 50,
		ValidationType: exam.ValidationMixed, IsPublished: true,
		Questions: []exam.Question{
			{ID: "q1", Type: exam.TrueFalse, Points: 4, Options: []exam.Option{{ID: "t", IsCorrect: true}, {ID: "f"}}},
			{ID: "q2", Type: exam.FileUpload, Points: 6},
		},
	}
}

func TestAuthAndRBAC(t *testing.T) {
	h := newHarness(t)
	student := h.token("sam", "student")

	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/tests/x", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPut, "/tests/x", student, quiz("x")).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/tests/x/attempts", h.token("tia", "teacher"), nil).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/readyz", "", nil).Code)

	rec := h.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "admin", "password": "root-pass"})
	require.Equal(t, http.StatusOK, rec.Code)
	tok := decode[map[string]any](t, rec)["access_token"].(string)
	assert.Equal(t, http.StatusOK, h.do(http.MethodPut, "/tests/x", tok, quiz("x")).Code)
}

func TestLearnerFlow(t *testing.T) {
	h := newHarness(t)
	teacher := h.token("tia", "teacher")
	sam := h.token("sam", "student")

	bad := quiz("cap")
	bad.MaxAttempts = 0
	assert.Equal(t, http.StatusUnprocessableEntity, h.do(http.MethodPut, "/tests/cap", teacher, bad).Code)
	require.Equal(t, http.StatusOK, h.do(http.MethodPut, "/tests/cap", teacher, quiz("cap")).Code)

	rec := h.do(http.MethodGet, "/tests/cap", sam, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "is_correct")

	rec = h.do(http.MethodPost, "/tests/cap/attempts", sam, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	att := decode[exam.Attempt](t, rec)
	assert.Equal(t, exam.StatusInProgress, att.Status)

	again := decode[exam.Attempt](t, h.do(http.MethodPost, "/tests/cap/attempts", sam, nil))
	assert.Equal(t, att.ID, again.ID, "start resumes the open attempt")

	paper := decode[exam.Paper](t, h.do(http.MethodGet, "/attempts/"+att.ID+"/paper", sam, nil))
	require.Len(t, paper.Questions, 1)
	assert.Nil(t, paper.TimeRemainingSec)

	base := "/attempts/" + att.ID
	rec = h.do(http.MethodPut, base+"/answers/q1", sam, map[string]any{"selected_option_ids": []string{"nowhere"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = h.do(http.MethodPut, base+"/answers/q1", h.token("eve", "student"), map[string]any{"selected_option_ids": []string{"paris"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, base, h.token("eve", "student"), nil).Code)

	rec = h.do(http.MethodPut, base+"/answers/q1", sam, map[string]any{"selected_option_ids": []string{"paris"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodPost, base+"/submit", sam, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sub := decode[map[string]any](t, rec)
	assert.Equal(t, string(exam.StatusGraded), sub["status"])
	assert.Nil(t, sub["score"], "score hidden until results are released")

	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, base+"/submit", sam, nil).Code)
	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/tests/cap/attempts", sam, nil).Code)

	ledger := decode[map[string]any](t, h.do(http.MethodGet, "/tests/cap/ledger", sam, nil))
	assert.EqualValues(t, 1, ledger["used"])
	assert.EqualValues(t, 0, ledger["remaining"])

	learner := decode[exam.ResultView](t, h.do(http.MethodGet, base+"/result", sam, nil))
	assert.False(t, learner.Released)
	grader := decode[exam.ResultView](t, h.do(http.MethodGet, base+"/result", teacher, nil))
	require.True(t, grader.Released)
	assert.Equal(t, 100, *grader.Score)
	assert.True(t, *grader.Passed)

	mine := decode[[]exam.Attempt](t, h.do(http.MethodGet, "/attempts?learner_id=someone-else", sam, nil))
	require.Len(t, mine, 1)
	assert.Equal(t, "sam", mine[0].LearnerID)
	assert.Empty(t, decode[[]exam.Attempt](t, h.do(http.MethodGet, "/attempts", h.token("eve", "student"), nil)))
	assert.Len(t, decode[[]exam.Attempt](t, h.do(http.MethodGet, "/attempts?test_id=cap", teacher, nil)), 1)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/attempts/nope", teacher, nil).Code)
}

func upload(t *testing.T, h *harness, path, tok, name string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	return rec
}

func TestManualGradingFlow(t *testing.T) {
	h := newHarness(t)
	teacher := h.token("tia", "teacher")
	jo := h.token("jo", "student")
	require.Equal(t, http.StatusOK, h.do(http.MethodPut, "/tests/port", teacher, portfolio("port")).Code)

	att := decode[exam.Attempt](t, h.do(http.MethodPost, "/tests/port/attempts", jo, nil))
	base := "/attempts/" + att.ID

	rec := h.do(http.MethodPut, base+"/answers/q2", jo, map[string]any{"answer_file_reference": "attempts/other/q2/x-secret.pdf"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = upload(t, h, base+"/answers/q2/file", h.token("eve", "student"), "essay.pdf", []byte("%PDF"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = upload(t, h, base+"/answers/q2/file", jo, "../essay final.pdf", []byte("%PDF-1.7 body"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPut, base+"/draft", jo, map[string]any{"answers": map[string]any{
		"q1": map[string]any{"selected_option_ids": []string{"t"}},
		"q2": map[string]any{"answer_file_reference": decode[exam.Attempt](t, rec).Answers["q2"].Value.(exam.FileAnswer).Ref},
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, base+"/submit", jo, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(exam.StatusPendingManualGrading), decode[map[string]any](t, rec)["status"])

	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, base+"/grading", jo, nil).Code)
	items := decode[[]exam.PendingItem](t, h.do(http.MethodGet, base+"/grading", teacher, nil))
	require.Len(t, items, 1)
	assert.Equal(t, "q2", items[0].QuestionID)

	rec = h.do(http.MethodGet, base+"/answers/q2/file", teacher, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF-1.7 body", rec.Body.String())

	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, base+"/grading/finalize", teacher, nil).Code)
	assert.Equal(t, http.StatusUnprocessableEntity,
		h.do(http.MethodPost, base+"/grading/q2", teacher, map[string]any{"points": 7}).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, base+"/grading/q2", teacher, map[string]any{}).Code)

	rec = h.do(http.MethodPost, base+"/grading/q2", teacher, map[string]any{"points": 3, "feedback": "thin argument"})
	require.Equal(t, http.StatusOK, rec.Code)
	graded := decode[exam.Attempt](t, rec)
	assert.Equal(t, exam.StatusGraded, graded.Status)
	assert.Equal(t, 70, *graded.Score)
	assert.Equal(t, "tia", graded.Answers["q2"].GradedBy)

	assert.Equal(t, http.StatusConflict,
		h.do(http.MethodPost, base+"/grading/q2", teacher, map[string]any{"points": 6}).Code)

	evs := decode[[]audit.Event](t, h.do(http.MethodGet, base+"/events", teacher, nil))
	var types []string
	for _, e := range evs {
		types = append(types, e.Type)
	}
	assert.ElementsMatch(t, []string{exam.EventAttemptStarted, exam.EventAttemptSubmitted, exam.EventAttemptGraded}, types)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, base+"/events", jo, nil).Code)
}
