package exam

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/mind-engage/mindengage-assess/internal/grading"
)

type AnswerKind string

const (
	KindChoice AnswerKind = "choice"
	KindText   AnswerKind = "text"
	KindFile   AnswerKind = "file"
)

// AnswerValue is the payload of an Answer. The set of implementations is
// closed: ChoiceAnswer, TextAnswer and FileAnswer.
type AnswerValue interface {
	Kind() AnswerKind
	response() grading.Response
}

// ChoiceAnswer holds a normalized (sorted, de-duplicated) set of option ids.
type ChoiceAnswer struct {
	SelectedOptionIDs []string
}

func NewChoiceAnswer(ids ...string) ChoiceAnswer {
	set := slices.Clone(ids)
	slices.Sort(set)
	set = slices.Compact(set)
	if set == nil {
		set = []string{}
	}
	return ChoiceAnswer{SelectedOptionIDs: set}
}

func (ChoiceAnswer) Kind() AnswerKind { return KindChoice }
func (c ChoiceAnswer) response() grading.Response {
	return grading.Response{Selected: slices.Clone(c.SelectedOptionIDs)}
}

type TextAnswer struct {
	Text string
}

func (TextAnswer) Kind() AnswerKind             { return KindText }
func (t TextAnswer) response() grading.Response { return grading.Response{Text: t.Text} }

// FileAnswer references a blob written through the storage layer.
type FileAnswer struct {
	Ref string
}

func (FileAnswer) Kind() AnswerKind             { return KindFile }
func (f FileAnswer) response() grading.Response { return grading.Response{FileRef: f.Ref} }

// Answer is one learner response plus its evaluation. IsCorrect and
// PointsEarned stay nil until the scoring engine or a grader resolves it.
type Answer struct {
	QuestionID     string
	Value          AnswerValue
	IsCorrect      *bool
	PointsEarned   *float64
	GraderFeedback string
	GradedBy       string
}

// Evaluated reports whether points have been assigned.
func (a Answer) Evaluated() bool { return a.PointsEarned != nil }

func (a Answer) clone() Answer {
	out := a
	if c, ok := a.Value.(ChoiceAnswer); ok {
		out.Value = ChoiceAnswer{SelectedOptionIDs: slices.Clone(c.SelectedOptionIDs)}
	}
	if a.IsCorrect != nil {
		v := *a.IsCorrect
		out.IsCorrect = &v
	}
	if a.PointsEarned != nil {
		v := *a.PointsEarned
		out.PointsEarned = &v
	}
	return out
}

// clearEvaluation drops any score so the answer can be re-evaluated.
func (a *Answer) clearEvaluation() {
	a.IsCorrect = nil
	a.PointsEarned = nil
	a.GraderFeedback = ""
	a.GradedBy = ""
}

type answerJSON struct {
	QuestionID          string     `json:"question_id"`
	Kind                AnswerKind `json:"kind"`
	SelectedOptionIDs   []string   `json:"selected_option_ids,omitempty"`
	AnswerText          *string    `json:"answer_text,omitempty"`
	AnswerFileReference *string    `json:"answer_file_reference,omitempty"`
	IsCorrect           *bool      `json:"is_correct"`
	PointsEarned        *float64   `json:"points_earned"`
	GraderFeedback      string     `json:"grader_feedback,omitempty"`
	GradedBy            string     `json:"graded_by,omitempty"`
}

func (a Answer) MarshalJSON() ([]byte, error) {
	w := answerJSON{
		QuestionID:     a.QuestionID,
		IsCorrect:      a.IsCorrect,
		PointsEarned:   a.PointsEarned,
		GraderFeedback: a.GraderFeedback,
		GradedBy:       a.GradedBy,
	}
	switch v := a.Value.(type) {
	case ChoiceAnswer:
		w.Kind = KindChoice
		w.SelectedOptionIDs = v.SelectedOptionIDs
		if w.SelectedOptionIDs == nil {
			w.SelectedOptionIDs = []string{}
		}
	case TextAnswer:
		w.Kind = KindText
		w.AnswerText = &v.Text
	case FileAnswer:
		w.Kind = KindFile
		w.AnswerFileReference = &v.Ref
	case nil:
	default:
		return nil, fmt.Errorf("unknown answer value %T", v)
	}
	return json.Marshal(w)
}

func (a *Answer) UnmarshalJSON(b []byte) error {
	var w answerJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*a = Answer{
		QuestionID:     w.QuestionID,
		IsCorrect:      w.IsCorrect,
		PointsEarned:   w.PointsEarned,
		GraderFeedback: w.GraderFeedback,
		GradedBy:       w.GradedBy,
	}
	switch w.Kind {
	case KindChoice:
		a.Value = NewChoiceAnswer(w.SelectedOptionIDs...)
	case KindText:
		a.Value = TextAnswer{Text: deref(w.AnswerText)}
	case KindFile:
		a.Value = FileAnswer{Ref: deref(w.AnswerFileReference)}
	case "":
	default:
		return fmt.Errorf("%w: unknown answer kind %q", ErrInvalidAnswerShape, w.Kind)
	}
	return nil
}

// AnswerInput is the wire shape a learner submits for one question. Exactly
// one field must be set.
type AnswerInput struct {
	SelectedOptionIDs   *[]string `json:"selected_option_ids,omitempty"`
	AnswerText          *string   `json:"answer_text,omitempty"`
	AnswerFileReference *string   `json:"answer_file_reference,omitempty"`
}

func (in AnswerInput) Value() (AnswerValue, error) {
	var out AnswerValue
	n := 0
	if in.SelectedOptionIDs != nil {
		out = NewChoiceAnswer(*in.SelectedOptionIDs...)
		n++
	}
	if in.AnswerText != nil {
		out = TextAnswer{Text: *in.AnswerText}
		n++
	}
	if in.AnswerFileReference != nil {
		out = FileAnswer{Ref: *in.AnswerFileReference}
		n++
	}
	if n != 1 {
		return nil, fmt.Errorf("%w: expected exactly one of selected_option_ids, answer_text, answer_file_reference", ErrInvalidAnswerShape)
	}
	return out, nil
}

// checkAnswer verifies v is an acceptable payload for q.
func checkAnswer(q Question, v AnswerValue) error {
	if v == nil {
		return fmt.Errorf("%w: empty answer", ErrInvalidAnswerShape)
	}
	if want := q.Type.AnswerKind(); v.Kind() != want {
		return fmt.Errorf("%w: question %s takes a %s answer, got %s", ErrInvalidAnswerShape, q.ID, want, v.Kind())
	}
	switch v := v.(type) {
	case ChoiceAnswer:
		if q.Type != MultipleChoice && len(v.SelectedOptionIDs) > 1 {
			return fmt.Errorf("%w: question %s accepts a single option", ErrInvalidAnswerShape, q.ID)
		}
		for _, id := range v.SelectedOptionIDs {
			if !q.hasOption(id) {
				return fmt.Errorf("%w: question %s has no option %q", ErrInvalidAnswerShape, q.ID, id)
			}
		}
	case FileAnswer:
		if v.Ref == "" {
			return fmt.Errorf("%w: empty file reference", ErrInvalidAnswerShape)
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
