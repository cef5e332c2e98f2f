package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-assess/internal/grading"
)

// Audit event types.
const (
	EventAttemptStarted   = "AttemptStarted"
	EventAttemptSubmitted = "AttemptSubmitted"
	EventAttemptExpired   = "AttemptExpired"
	EventAttemptGraded    = "AttemptGraded"
)

// Auditor appends lifecycle events. Failures are logged, never returned to
// the learner.
type Auditor interface {
	Append(ctx context.Context, typ, key string, data any) error
}

const (
	mutateRetries = 5
	startAttempts = 3
	sweepBatch    = 100
)

// errNoChange lets a mutation finish without writing.
var errNoChange = errors.New("no change")

type Engine struct {
	tests  TestReader
	store  Store
	grader grading.Grader
	audit  Auditor
	now    func() time.Time
	newID  func() string
	log    *slog.Logger
}

type EngineOption func(*Engine)

// WithTestReader overrides where definitions are read from (e.g. a cache).
func WithTestReader(r TestReader) EngineOption { return func(e *Engine) { e.tests = r } }
func WithGrader(g grading.Grader) EngineOption { return func(e *Engine) { e.grader = g } }
func WithAuditor(a Auditor) EngineOption       { return func(e *Engine) { e.audit = a } }
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}
func WithIDGenerator(f func() string) EngineOption { return func(e *Engine) { e.newID = f } }
func WithLogger(l *slog.Logger) EngineOption       { return func(e *Engine) { e.log = l } }

func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{
		tests:  store,
		store:  store,
		grader: grading.NewDefaultGrader(),
		now:    time.Now,
		newID:  uuid.NewString,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// clock returns the current time at second precision, which is what the
// SQL store persists.
func (e *Engine) clock() time.Time { return e.now().UTC().Truncate(time.Second) }

// Now exposes the engine clock to read-side callers.
func (e *Engine) Now() time.Time { return e.clock() }

// PublishedTest loads a definition learners may see.
func (e *Engine) PublishedTest(ctx context.Context, testID string) (TestDefinition, error) {
	t, err := e.tests.GetTest(ctx, testID)
	if err != nil {
		return TestDefinition{}, err
	}
	if !t.IsPublished {
		return TestDefinition{}, fmt.Errorf("%w: %s is not published", ErrTestNotFound, testID)
	}
	return t, nil
}

// Start resumes the learner's in-progress attempt or creates the next one.
// A resumed attempt whose deadline already passed is expired first.
func (e *Engine) Start(ctx context.Context, testID, learnerID string) (Attempt, error) {
	t, err := e.PublishedTest(ctx, testID)
	if err != nil {
		return Attempt{}, err
	}
	for i := 0; i < startAttempts; i++ {
		now := e.clock()
		req := StartRequest{
			ID:          e.newID(),
			TestID:      testID,
			LearnerID:   learnerID,
			MaxAttempts: t.MaxAttempts,
			StartedAt:   now,
		}
		if d := t.Duration(); d > 0 {
			dl := now.Add(d)
			req.Deadline = &dl
		}
		a, resumed, err := e.store.StartAttempt(ctx, req)
		if err != nil {
			return Attempt{}, err
		}
		if !resumed {
			e.log.Info("attempt started", "attempt_id", a.ID, "test_id", testID, "learner_id", learnerID, "attempt_number", a.AttemptNumber)
			e.record(ctx, EventAttemptStarted, a)
			return a, nil
		}
		if !a.Overdue(now) {
			return a, nil
		}
		if _, _, err := e.close(ctx, t, a.ID, EndTimeout); err != nil {
			return Attempt{}, err
		}
	}
	return Attempt{}, fmt.Errorf("start attempt for %s/%s: %w", testID, learnerID, ErrVersionConflict)
}

// Attempt loads an attempt with its test, expiring it first when overdue.
func (e *Engine) Attempt(ctx context.Context, attemptID string) (Attempt, TestDefinition, error) {
	a, err := e.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, TestDefinition{}, err
	}
	t, err := e.tests.GetTest(ctx, a.TestID)
	if err != nil {
		return Attempt{}, TestDefinition{}, err
	}
	if a.Overdue(e.clock()) {
		if a, _, err = e.close(ctx, t, a.ID, EndTimeout); err != nil {
			return Attempt{}, TestDefinition{}, err
		}
	}
	return a, t, nil
}

// RecordAnswer replaces the learner's answer to one question. Nothing is
// evaluated until the attempt closes.
func (e *Engine) RecordAnswer(ctx context.Context, attemptID, learnerID, questionID string, v AnswerValue) (Attempt, error) {
	return e.learnerMutate(ctx, attemptID, learnerID, func(t TestDefinition, a *Attempt) error {
		q, ok := t.Question(questionID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrQuestionNotFound, questionID)
		}
		if err := checkAnswer(q, v); err != nil {
			return err
		}
		a.Answers[questionID] = Answer{QuestionID: questionID, Value: v}
		return nil
	})
}

// SaveDraft replaces the whole answer map. Concurrent drafts are last write
// wins.
func (e *Engine) SaveDraft(ctx context.Context, attemptID, learnerID string, answers map[string]AnswerValue) (Attempt, error) {
	return e.learnerMutate(ctx, attemptID, learnerID, func(t TestDefinition, a *Attempt) error {
		next := make(map[string]Answer, len(answers))
		for qid, v := range answers {
			q, ok := t.Question(qid)
			if !ok {
				return fmt.Errorf("%w: %s", ErrQuestionNotFound, qid)
			}
			if err := checkAnswer(q, v); err != nil {
				return err
			}
			next[qid] = Answer{QuestionID: qid, Value: v}
		}
		a.Answers = next
		return nil
	})
}

// SubmitReport carries soft warnings from Submit.
type SubmitReport struct {
	UnansweredRequired []string `json:"unanswered_required,omitempty"`
}

// Submit closes the attempt and runs scoring. Unanswered required questions
// are reported, not rejected.
func (e *Engine) Submit(ctx context.Context, attemptID, learnerID string) (Attempt, SubmitReport, error) {
	var rep SubmitReport
	a, err := e.learnerMutate(ctx, attemptID, learnerID, func(t TestDefinition, a *Attempt) error {
		rep = SubmitReport{UnansweredRequired: unansweredRequired(t, *a)}
		return e.closeInPlace(ctx, t, a, EndSubmitted)
	})
	if err != nil {
		return Attempt{}, SubmitReport{}, err
	}
	e.logClosed(ctx, a)
	return a, rep, nil
}

// Expire closes an overdue attempt with end_reason=timeout. Calling it again,
// or on an attempt that is not yet due, changes nothing.
func (e *Engine) Expire(ctx context.Context, attemptID string) (Attempt, error) {
	a, _, err := e.expire(ctx, attemptID)
	return a, err
}

func (e *Engine) expire(ctx context.Context, attemptID string) (Attempt, bool, error) {
	a, err := e.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, false, err
	}
	t, err := e.tests.GetTest(ctx, a.TestID)
	if err != nil {
		return Attempt{}, false, err
	}
	return e.close(ctx, t, attemptID, EndTimeout)
}

// ExpireOverdue expires every attempt past its deadline and returns how many
// were closed.
func (e *Engine) ExpireOverdue(ctx context.Context) (int, error) {
	ids, err := e.store.ListOverdue(ctx, e.clock(), sweepBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		_, closed, err := e.expire(ctx, id)
		if err != nil {
			e.log.Error("expire attempt failed", "attempt_id", id, "err", err)
			continue
		}
		if closed {
			n++
		}
	}
	return n, nil
}

// Ledger reports attempts used and remaining for a learner.
func (e *Engine) Ledger(ctx context.Context, testID, learnerID string) (LedgerEntry, error) {
	t, err := e.PublishedTest(ctx, testID)
	if err != nil {
		return LedgerEntry{}, err
	}
	l, err := e.store.Ledger(ctx, testID, learnerID)
	if err != nil {
		return LedgerEntry{}, err
	}
	l.MaxAttempts = t.MaxAttempts
	return l, nil
}

func (e *Engine) learnerMutate(ctx context.Context, attemptID, learnerID string, fn func(TestDefinition, *Attempt) error) (Attempt, error) {
	cur, err := e.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if cur.LearnerID != learnerID {
		return Attempt{}, ErrNotAttemptOwner
	}
	t, err := e.tests.GetTest(ctx, cur.TestID)
	if err != nil {
		return Attempt{}, err
	}
	if cur.Overdue(e.clock()) {
		if _, _, err := e.close(ctx, t, attemptID, EndTimeout); err != nil {
			return Attempt{}, err
		}
		return Attempt{}, fmt.Errorf("%w: deadline passed", ErrSubmissionFinalized)
	}
	return e.mutate(ctx, attemptID, func(a *Attempt) error {
		if a.Status != StatusInProgress {
			return fmt.Errorf("%w: attempt is %s", ErrSubmissionFinalized, a.Status)
		}
		return fn(t, a)
	})
}

// mutate applies fn to a fresh copy of the attempt and writes it back under
// the version check, re-reading when another writer got in first.
func (e *Engine) mutate(ctx context.Context, attemptID string, fn func(*Attempt) error) (Attempt, error) {
	for i := 0; i < mutateRetries; i++ {
		a, err := e.store.GetAttempt(ctx, attemptID)
		if err != nil {
			return Attempt{}, err
		}
		if err := fn(&a); err != nil {
			if errors.Is(err, errNoChange) {
				return a, nil
			}
			return Attempt{}, err
		}
		err = e.store.UpdateAttempt(ctx, &a)
		if errors.Is(err, ErrVersionConflict) {
			e.log.Debug("attempt version conflict, retrying", "attempt_id", attemptID, "try", i+1)
			continue
		}
		if err != nil {
			return Attempt{}, err
		}
		return a, nil
	}
	return Attempt{}, fmt.Errorf("attempt %s: %w", attemptID, ErrVersionConflict)
}

// close is the system path into closeInPlace. A timeout on an attempt that
// already left in_progress, or is not yet due, is a no-op.
func (e *Engine) close(ctx context.Context, t TestDefinition, attemptID string, reason EndReason) (Attempt, bool, error) {
	closed := false
	a, err := e.mutate(ctx, attemptID, func(a *Attempt) error {
		if reason == EndTimeout && !a.Overdue(e.clock()) {
			return errNoChange
		}
		if a.Status != StatusInProgress {
			return fmt.Errorf("%w: attempt is %s", ErrSubmissionFinalized, a.Status)
		}
		closed = true
		return e.closeInPlace(ctx, t, a, reason)
	})
	if err != nil {
		return Attempt{}, false, err
	}
	if closed {
		e.logClosed(ctx, a)
	}
	return a, closed, nil
}

func (e *Engine) closeInPlace(ctx context.Context, t TestDefinition, a *Attempt, reason EndReason) error {
	now := e.clock()
	at := now
	if reason == EndTimeout && a.Deadline != nil {
		at = *a.Deadline
	}
	a.Status = StatusSubmitted
	a.EndReason = reason
	a.SubmittedAt = &at

	if err := e.evaluate(ctx, t, a); err != nil {
		return err
	}
	if t.ValidationType == ValidationAutomatic && fullyEvaluated(*a) {
		final := StatusGraded
		if reason == EndTimeout {
			final = StatusExpired
		}
		applyScore(t, a, now, final)
		return nil
	}
	a.Status = StatusPendingManualGrading
	return nil
}

// evaluate runs the automatic strategies over every answer the grader can
// score on its own. Free-form answers and manual tests stay unevaluated.
func (e *Engine) evaluate(ctx context.Context, t TestDefinition, a *Attempt) error {
	for qid, ans := range a.Answers {
		q, ok := t.Question(qid)
		if !ok {
			e.log.Warn("dropping answer to unknown question", "attempt_id", a.ID, "question_id", qid)
			delete(a.Answers, qid)
			continue
		}
		ans.clearEvaluation()
		if t.ValidationType == ValidationManual || !grading.IsAutoGradable(string(q.Type)) {
			a.Answers[qid] = ans
			continue
		}
		res, err := e.grader.Grade(ctx, gradingQuestion(q), ans.Value.response())
		if err != nil {
			return fmt.Errorf("score question %s: %w", qid, err)
		}
		if !res.NeedsManual {
			pts, ok := res.Points, res.Correct
			ans.PointsEarned = &pts
			ans.IsCorrect = &ok
		}
		a.Answers[qid] = ans
	}
	return nil
}

func gradingQuestion(q Question) grading.Q {
	return grading.Q{Type: string(q.Type), Points: q.Points, CorrectIDs: q.CorrectOptionIDs()}
}

func fullyEvaluated(a Attempt) bool {
	for _, ans := range a.Answers {
		if !ans.Evaluated() {
			return false
		}
	}
	return true
}

// applyScore sets the aggregate. Unanswered questions count in the
// denominator and earn nothing.
func applyScore(t TestDefinition, a *Attempt, now time.Time, status Status) {
	earned := 0.0
	for _, ans := range a.Answers {
		if ans.PointsEarned != nil {
			earned += *ans.PointsEarned
		}
	}
	score := grading.Percent(earned, t.TotalPoints())
	passed := grading.Passed(score, t.PassingScore)
	a.Score = &score
	a.Passed = &passed
	a.GradedAt = &now
	a.Status = status
}

func unansweredRequired(t TestDefinition, a Attempt) []string {
	var out []string
	for _, q := range t.Questions {
		if !q.IsRequired {
			continue
		}
		if _, ok := a.Answers[q.ID]; !ok {
			out = append(out, q.ID)
		}
	}
	return out
}

func (e *Engine) logClosed(ctx context.Context, a Attempt) {
	typ := EventAttemptSubmitted
	if a.EndReason == EndTimeout {
		typ = EventAttemptExpired
	}
	e.log.Info("attempt closed", "attempt_id", a.ID, "end_reason", a.EndReason, "status", a.Status)
	e.record(ctx, typ, a)
	if a.Status.Final() {
		e.record(ctx, EventAttemptGraded, a)
	}
}

func (e *Engine) record(ctx context.Context, typ string, a Attempt) {
	if e.audit == nil {
		return
	}
	data := map[string]any{
		"attempt_id":     a.ID,
		"test_id":        a.TestID,
		"learner_id":     a.LearnerID,
		"attempt_number": a.AttemptNumber,
		"status":         a.Status,
	}
	if a.Score != nil {
		data["score"] = *a.Score
		data["passed"] = *a.Passed
	}
	if err := e.audit.Append(ctx, typ, a.ID, data); err != nil {
		e.log.Warn("audit append failed", "type", typ, "attempt_id", a.ID, "err", err)
	}
}
