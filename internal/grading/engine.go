package grading

import (
	"context"
	"errors"
)

// Question types understood by the default grader.
const (
	TypeSingleChoice   = "single_choice"
	TypeMultipleChoice = "multiple_choice"
	TypeTrueFalse      = "true_false"
	TypeShortAnswer    = "short_answer"
	TypeLongAnswer     = "long_answer"
	TypeFileUpload     = "file_upload"
)

// ErrResponseShape is returned when a response does not carry the payload a
// strategy needs (e.g. text for a choice question).
var ErrResponseShape = errors.New("response shape does not match question type")

// Q is a minimal view of a question needed for grading.
type Q struct {
	Type       string
	Points     float64
	CorrectIDs []string // option ids flagged correct; empty for free-form types
}

// Response is the learner payload for one question. Exactly one of the
// fields is meaningful, chosen by the question type.
type Response struct {
	Selected []string
	Text     string
	FileRef  string
}

// Result is the outcome of grading a single question response.
type Result struct {
	Points      float64  // points awarded automatically
	MaxPoints   float64  // the question's max points
	Correct     bool     // only meaningful when NeedsManual is false
	NeedsManual bool     // true if a grader must supply points
	Feedback    []string // optional notes
}

// Strategy grades a single question.
type Strategy interface {
	Grade(ctx context.Context, q Q, r Response) (Result, error)
}

// Grader routes by question type to the correct Strategy.
type Grader interface {
	Grade(ctx context.Context, q Q, r Response) (Result, error)
}

type defaultGrader struct {
	strategies map[string]Strategy
}

func (g *defaultGrader) Grade(ctx context.Context, q Q, r Response) (Result, error) {
	s, ok := g.strategies[q.Type]
	if !ok {
		return Result{MaxPoints: q.Points, NeedsManual: true, Feedback: []string{"no strategy available"}}, nil
	}
	return s.Grade(ctx, q, r)
}

// Engine options

type Option func(*config)

type config struct {
	AllowPartialMulti bool // proportional credit for multiple_choice without false positives
}

func WithPartialMulti(b bool) Option { return func(c *config) { c.AllowPartialMulti = b } }

// NewDefaultGrader installs built-in strategies. Multiple choice is
// all-or-nothing unless WithPartialMulti(true) is given.
func NewDefaultGrader(opts ...Option) Grader {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	return &defaultGrader{
		strategies: map[string]Strategy{
			TypeSingleChoice:   singleChoiceStrategy{},
			TypeTrueFalse:      singleChoiceStrategy{},
			TypeMultipleChoice: multipleChoiceStrategy{allowPartial: cfg.AllowPartialMulti},
			TypeShortAnswer:    manualStrategy{},
			TypeLongAnswer:     manualStrategy{},
			TypeFileUpload:     manualStrategy{},
		},
	}
}

// IsAutoGradable reports whether the default grader scores questionType
// without human input.
func IsAutoGradable(questionType string) bool {
	switch questionType {
	case TypeSingleChoice, TypeTrueFalse, TypeMultipleChoice:
		return true
	default:
		return false
	}
}

// --- Strategies ---

type singleChoiceStrategy struct{}

func (singleChoiceStrategy) Grade(_ context.Context, q Q, r Response) (Result, error) {
	res := Result{MaxPoints: q.Points}
	if r.Text != "" || r.FileRef != "" {
		return res, ErrResponseShape
	}
	if len(q.CorrectIDs) != 1 {
		return res, errors.New("single answer question must have exactly one correct option")
	}
	sel := toSet(r.Selected)
	if _, ok := sel[q.CorrectIDs[0]]; ok && len(sel) == 1 {
		res.Points = q.Points
		res.Correct = true
	}
	return res, nil
}

type multipleChoiceStrategy struct{ allowPartial bool }

func (s multipleChoiceStrategy) Grade(_ context.Context, q Q, r Response) (Result, error) {
	res := Result{MaxPoints: q.Points}
	if r.Text != "" || r.FileRef != "" {
		return res, ErrResponseShape
	}
	correct := toSet(q.CorrectIDs)
	resp := toSet(r.Selected)

	if len(correct) > 0 && setEqual(correct, resp) {
		res.Points = q.Points
		res.Correct = true
		return res, nil
	}
	if !s.allowPartial || len(correct) == 0 {
		return res, nil
	}
	inter := 0
	for k := range resp {
		if _, ok := correct[k]; !ok {
			// any false positive forfeits partial credit
			return res, nil
		}
		inter++
	}
	res.Points = q.Points * (float64(inter) / float64(len(correct)))
	if inter > 0 {
		res.Feedback = append(res.Feedback, "partial credit")
	}
	return res, nil
}

type manualStrategy struct{}

func (manualStrategy) Grade(_ context.Context, q Q, r Response) (Result, error) {
	if len(r.Selected) > 0 {
		return Result{MaxPoints: q.Points}, ErrResponseShape
	}
	return Result{MaxPoints: q.Points, NeedsManual: true, Feedback: []string{"manual grading required"}}, nil
}

// helpers

func toSet(arr []string) map[string]struct{} {
	m := make(map[string]struct{}, len(arr))
	for _, s := range arr {
		m[s] = struct{}{}
	}
	return m
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
