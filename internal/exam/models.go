package exam

import (
	"time"

	"github.com/mind-engage/mindengage-assess/internal/grading"
)

type QuestionType string

const (
	SingleChoice   QuestionType = grading.TypeSingleChoice
	MultipleChoice QuestionType = grading.TypeMultipleChoice
	TrueFalse      QuestionType = grading.TypeTrueFalse
	ShortAnswer    QuestionType = grading.TypeShortAnswer
	LongAnswer     QuestionType = grading.TypeLongAnswer
	FileUpload     QuestionType = grading.TypeFileUpload
)

// IsChoice reports whether answers to this type select options.
func (t QuestionType) IsChoice() bool {
	return t == SingleChoice || t == MultipleChoice || t == TrueFalse
}

// AnswerKind is the payload variant a question type accepts.
func (t QuestionType) AnswerKind() AnswerKind {
	switch t {
	case SingleChoice, MultipleChoice, TrueFalse:
		return KindChoice
	case ShortAnswer, LongAnswer:
		return KindText
	case FileUpload:
		return KindFile
	}
	return ""
}

type ValidationType string

const (
	ValidationAutomatic ValidationType = "automatic"
	ValidationManual    ValidationType = "manual"
	ValidationMixed     ValidationType = "mixed"
)

type Option struct {
	ID        string `json:"id" validate:"required"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
	Feedback  string `json:"feedback,omitempty"`
}

type Question struct {
	ID          string       `json:"id" validate:"required"`
	Text        string       `json:"text"`
	Type        QuestionType `json:"type" validate:"required,oneof=single_choice multiple_choice true_false short_answer long_answer file_upload"`
	Points      float64      `json:"points" validate:"gt=0"`
	IsRequired  bool         `json:"is_required"`
	Order       int          `json:"order"`
	Explanation string       `json:"explanation,omitempty"`
	Options     []Option     `json:"options,omitempty" validate:"dive"`
}

// CorrectOptionIDs lists the ids flagged correct, in authored order.
func (q Question) CorrectOptionIDs() []string {
	var out []string
	for _, o := range q.Options {
		if o.IsCorrect {
			out = append(out, o.ID)
		}
	}
	return out
}

func (q Question) hasOption(id string) bool {
	for _, o := range q.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}

// TestDefinition is owned by the authoring collaborator; the engine only
// reads it.
type TestDefinition struct {
	ID           string `json:"id" validate:"required"`
	Title        string `json:"title"`
	TestableType string `json:"testable_type,omitempty"`
	TestableID   string `json:"testable_id,omitempty"`

	Questions []Question `json:"questions" validate:"dive"`

	DurationMinutes        *int           `json:"duration_minutes,omitempty" validate:"omitempty,gt=0"`
	PassingScore           int            `json:"passing_score" validate:"min=0,max=100"`
	MaxAttempts            int            `json:"max_attempts" validate:"min=1"`
	ShuffleQuestions       bool           `json:"shuffle_questions"`
	RandomizeOptions       bool           `json:"randomize_options"`
	AllowBackNavigation    bool           `json:"allow_back_navigation"`
	AutoSaveDraft          bool           `json:"auto_save_draft"`
	ValidationType         ValidationType `json:"validation_type" validate:"required,oneof=automatic manual mixed"`
	IsPublished            bool           `json:"is_published"`
	ShowResultsImmediately bool           `json:"show_results_immediately"`
	ShowCorrectAnswers     bool           `json:"show_correct_answers"`
}

// Question looks a question up by id.
func (t TestDefinition) Question(id string) (Question, bool) {
	for _, q := range t.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// TotalPoints is the denominator of the aggregate score.
func (t TestDefinition) TotalPoints() float64 {
	sum := 0.0
	for _, q := range t.Questions {
		sum += q.Points
	}
	return sum
}

// Duration is zero when the test is untimed.
func (t TestDefinition) Duration() time.Duration {
	if t.DurationMinutes == nil || *t.DurationMinutes <= 0 {
		return 0
	}
	return time.Duration(*t.DurationMinutes) * time.Minute
}

type Status string

const (
	StatusInProgress           Status = "in_progress"
	StatusSubmitted            Status = "submitted" // transient, between submit and scoring
	StatusPendingManualGrading Status = "pending_manual_grading"
	StatusGraded               Status = "graded"
	StatusExpired              Status = "expired"
)

// Final reports whether no principal may mutate the attempt anymore.
func (s Status) Final() bool { return s == StatusGraded || s == StatusExpired }

// EndReason records how an attempt left in_progress.
type EndReason string

const (
	EndSubmitted EndReason = "submitted"
	EndTimeout   EndReason = "timeout"
)

type Attempt struct {
	ID            string            `json:"id"`
	TestID        string            `json:"test_id"`
	LearnerID     string            `json:"learner_id"`
	AttemptNumber int               `json:"attempt_number"`
	Status        Status            `json:"status"`
	EndReason     EndReason         `json:"end_reason,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	Deadline      *time.Time        `json:"deadline,omitempty"`
	SubmittedAt   *time.Time        `json:"submitted_at,omitempty"`
	Answers       map[string]Answer `json:"answers"`
	Score         *int              `json:"score,omitempty"`
	Passed        *bool             `json:"passed,omitempty"`
	GradedAt      *time.Time        `json:"graded_at,omitempty"`
	Version       int64             `json:"version"`
}

// Overdue reports whether the deadline has elapsed while still in progress.
func (a Attempt) Overdue(now time.Time) bool {
	return a.Status == StatusInProgress && a.Deadline != nil && !now.Before(*a.Deadline)
}

// TimeRemaining is max(0, deadline-now); ok is false for untimed attempts.
func (a Attempt) TimeRemaining(now time.Time) (d time.Duration, ok bool) {
	if a.Deadline == nil {
		return 0, false
	}
	d = a.Deadline.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// clone copies the answer map so callers never alias stored state.
func (a Attempt) clone() Attempt {
	out := a
	out.Answers = make(map[string]Answer, len(a.Answers))
	for k, v := range a.Answers {
		out.Answers[k] = v.clone()
	}
	return out
}

// LedgerEntry summarises attempt usage for one (test, learner) pair.
type LedgerEntry struct {
	TestID          string `json:"test_id"`
	LearnerID       string `json:"learner_id"`
	MaxAttempts     int    `json:"max_attempts"`
	Used            int    `json:"used"` // finalized attempts
	ActiveAttemptID string `json:"active_attempt_id,omitempty"`
}

// Remaining counts attempts that may still be started.
func (l LedgerEntry) Remaining() int {
	if r := l.MaxAttempts - l.Used; r > 0 {
		return r
	}
	return 0
}
