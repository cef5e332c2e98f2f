package exam

import (
	"context"
	"fmt"
	"math"
)

// PendingItem is an answer a grader still has to score.
type PendingItem struct {
	QuestionID string       `json:"question_id"`
	Type       QuestionType `json:"type"`
	Text       string       `json:"text"`
	MaxPoints  float64      `json:"max_points"`
	Answer     Answer       `json:"answer"`
}

// GradeQuestion records a grader's points for one answered question. Once
// every answer carries points the attempt is scored and becomes graded.
// Already evaluated answers may be overridden while the attempt is pending.
func (e *Engine) GradeQuestion(ctx context.Context, attemptID, graderID, questionID string, points float64, feedback string) (Attempt, error) {
	t, err := e.testOf(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	graded := false
	a, err := e.mutate(ctx, attemptID, func(a *Attempt) error {
		if a.Status != StatusPendingManualGrading {
			return fmt.Errorf("%w: attempt is %s", ErrSubmissionNotPendingGrading, a.Status)
		}
		q, ok := t.Question(questionID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrQuestionNotFound, questionID)
		}
		ans, ok := a.Answers[questionID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrQuestionNotAnswered, questionID)
		}
		if math.IsNaN(points) || points < 0 || points > q.Points {
			return fmt.Errorf("%w: %v not in [0, %v]", ErrInvalidPointsValue, points, q.Points)
		}

		correct := points == q.Points
		ans.PointsEarned = &points
		ans.IsCorrect = &correct
		ans.GraderFeedback = feedback
		ans.GradedBy = graderID
		a.Answers[questionID] = ans

		if fullyEvaluated(*a) {
			applyScore(t, a, e.clock(), StatusGraded)
			graded = true
		}
		return nil
	})
	if err != nil {
		return Attempt{}, err
	}
	e.log.Info("question graded", "attempt_id", attemptID, "question_id", questionID, "grader_id", graderID, "points", points)
	if graded {
		e.record(ctx, EventAttemptGraded, a)
	}
	return a, nil
}

// Finalize closes a pending attempt whose answers are all evaluated, for
// instance a mixed test that only received choice answers.
func (e *Engine) Finalize(ctx context.Context, attemptID, graderID string) (Attempt, error) {
	t, err := e.testOf(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	a, err := e.mutate(ctx, attemptID, func(a *Attempt) error {
		if a.Status != StatusPendingManualGrading {
			return fmt.Errorf("%w: attempt is %s", ErrSubmissionNotPendingGrading, a.Status)
		}
		if n := len(pendingItems(t, *a)); n > 0 {
			return fmt.Errorf("%w: %d answers still need points", ErrGradingIncomplete, n)
		}
		applyScore(t, a, e.clock(), StatusGraded)
		return nil
	})
	if err != nil {
		return Attempt{}, err
	}
	e.log.Info("attempt finalized", "attempt_id", attemptID, "grader_id", graderID, "score", *a.Score)
	e.record(ctx, EventAttemptGraded, a)
	return a, nil
}

// PendingItems lists answers without points, in test order.
func (e *Engine) PendingItems(ctx context.Context, attemptID string) ([]PendingItem, error) {
	a, t, err := e.Attempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	return pendingItems(t, a), nil
}

func pendingItems(t TestDefinition, a Attempt) []PendingItem {
	out := make([]PendingItem, 0)
	for _, q := range t.Questions {
		ans, ok := a.Answers[q.ID]
		if !ok || ans.Evaluated() {
			continue
		}
		out = append(out, PendingItem{QuestionID: q.ID, Type: q.Type, Text: q.Text, MaxPoints: q.Points, Answer: ans})
	}
	return out
}

func (e *Engine) testOf(ctx context.Context, attemptID string) (TestDefinition, error) {
	a, err := e.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return TestDefinition{}, err
	}
	return e.tests.GetTest(ctx, a.TestID)
}
