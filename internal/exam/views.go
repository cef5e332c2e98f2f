package exam

import (
	"sort"
	"time"

	"github.com/mind-engage/mindengage-assess/internal/shuffle"
)

// PublicOption and PublicQuestion never carry answer keys.
type PublicOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type PublicQuestion struct {
	ID         string         `json:"id"`
	Text       string         `json:"text"`
	Type       QuestionType   `json:"type"`
	Points     float64        `json:"points"`
	IsRequired bool           `json:"is_required"`
	Order      int            `json:"order"`
	Options    []PublicOption `json:"options,omitempty"`
}

type TestView struct {
	ID                  string           `json:"id"`
	Title               string           `json:"title"`
	TestableType        string           `json:"testable_type,omitempty"`
	TestableID          string           `json:"testable_id,omitempty"`
	DurationMinutes     *int             `json:"duration_minutes,omitempty"`
	PassingScore        int              `json:"passing_score"`
	MaxAttempts         int              `json:"max_attempts"`
	AllowBackNavigation bool             `json:"allow_back_navigation"`
	AutoSaveDraft       bool             `json:"auto_save_draft"`
	ValidationType      ValidationType   `json:"validation_type"`
	TotalPoints         float64          `json:"total_points"`
	Questions           []PublicQuestion `json:"questions"`
}

// PublicTest is the learner-safe view in authored order.
func PublicTest(t TestDefinition) TestView {
	v := TestView{
		ID:                  t.ID,
		Title:               t.Title,
		TestableType:        t.TestableType,
		TestableID:          t.TestableID,
		DurationMinutes:     t.DurationMinutes,
		PassingScore:        t.PassingScore,
		MaxAttempts:         t.MaxAttempts,
		AllowBackNavigation: t.AllowBackNavigation,
		AutoSaveDraft:       t.AutoSaveDraft,
		ValidationType:      t.ValidationType,
		TotalPoints:         t.TotalPoints(),
		Questions:           make([]PublicQuestion, 0, len(t.Questions)),
	}
	for _, q := range authoredOrder(t.Questions) {
		v.Questions = append(v.Questions, publicQuestion(q, q.Options))
	}
	return v
}

// Paper is the question sheet for one attempt. Its order is re-derived from
// the attempt id on every call.
type Paper struct {
	AttemptID           string            `json:"attempt_id"`
	TestID              string            `json:"test_id"`
	Title               string            `json:"title"`
	Status              Status            `json:"status"`
	AllowBackNavigation bool              `json:"allow_back_navigation"`
	AutoSaveDraft       bool              `json:"auto_save_draft"`
	TimeRemainingSec    *int64            `json:"time_remaining_sec"`
	Questions           []PublicQuestion  `json:"questions"`
	Answers             map[string]Answer `json:"answers"`
}

func BuildPaper(t TestDefinition, a Attempt, now time.Time) Paper {
	qs := authoredOrder(t.Questions)
	if t.ShuffleQuestions {
		qs = shuffle.Order(a.ID, qs)
	}
	p := Paper{
		AttemptID:           a.ID,
		TestID:              t.ID,
		Title:               t.Title,
		Status:              a.Status,
		AllowBackNavigation: t.AllowBackNavigation,
		AutoSaveDraft:       t.AutoSaveDraft,
		TimeRemainingSec:    TimeRemainingSec(a, now),
		Questions:           make([]PublicQuestion, 0, len(qs)),
		Answers:             make(map[string]Answer, len(a.Answers)),
	}
	for _, q := range qs {
		opts := q.Options
		if t.RandomizeOptions && len(opts) > 1 {
			opts = shuffle.Order(a.ID+q.ID, opts)
		}
		p.Questions = append(p.Questions, publicQuestion(q, opts))
	}
	for qid, ans := range a.Answers {
		p.Answers[qid] = Answer{QuestionID: qid, Value: ans.clone().Value}
	}
	return p
}

// TimeRemainingSec is max(0, deadline-now) in seconds, or nil when untimed.
func TimeRemainingSec(a Attempt, now time.Time) *int64 {
	d, ok := a.TimeRemaining(now)
	if !ok {
		return nil
	}
	s := int64(d / time.Second)
	return &s
}

// LearnerAttempt hides evaluations until results are released to learners.
func LearnerAttempt(t TestDefinition, a Attempt) Attempt {
	out := a.clone()
	if resultsReleased(t, a) {
		return out
	}
	out.Score = nil
	out.Passed = nil
	for qid, ans := range out.Answers {
		ans.clearEvaluation()
		out.Answers[qid] = ans
	}
	return out
}

type ResultItem struct {
	QuestionID       string   `json:"question_id"`
	MaxPoints        float64  `json:"max_points"`
	Answered         bool     `json:"answered"`
	Answer           *Answer  `json:"answer,omitempty"`
	IsCorrect        *bool    `json:"is_correct,omitempty"`
	PointsEarned     *float64 `json:"points_earned,omitempty"`
	GraderFeedback   string   `json:"grader_feedback,omitempty"`
	CorrectOptionIDs []string `json:"correct_option_ids,omitempty"`
	OptionFeedback   []string `json:"option_feedback,omitempty"`
	Explanation      string   `json:"explanation,omitempty"`
}

type ResultView struct {
	AttemptID   string       `json:"attempt_id"`
	TestID      string       `json:"test_id"`
	Status      Status       `json:"status"`
	EndReason   EndReason    `json:"end_reason,omitempty"`
	Released    bool         `json:"released"`
	Score       *int         `json:"score,omitempty"`
	Passed      *bool        `json:"passed,omitempty"`
	GradedAt    *time.Time   `json:"graded_at,omitempty"`
	Items       []ResultItem `json:"items,omitempty"`
	Pending     int          `json:"pending_items"`
}

// BuildResult renders the result of an attempt. Learners only see per
// question outcomes when show_results_immediately is set, and answer keys
// only with show_correct_answers. Graders see everything.
func BuildResult(t TestDefinition, a Attempt, grader bool) ResultView {
	v := ResultView{
		AttemptID: a.ID,
		TestID:    a.TestID,
		Status:    a.Status,
		EndReason: a.EndReason,
		Pending:   len(pendingItems(t, a)),
	}
	if a.Status == StatusInProgress {
		return v
	}
	v.Released = grader || resultsReleased(t, a)
	if !v.Released {
		return v
	}
	v.Score, v.Passed, v.GradedAt = a.Score, a.Passed, a.GradedAt

	showKeys := grader || t.ShowCorrectAnswers
	for _, q := range authoredOrder(t.Questions) {
		item := ResultItem{QuestionID: q.ID, MaxPoints: q.Points}
		if ans, ok := a.Answers[q.ID]; ok {
			ans := ans.clone()
			item.Answered = true
			item.Answer = &ans
			item.IsCorrect = ans.IsCorrect
			item.PointsEarned = ans.PointsEarned
			item.GraderFeedback = ans.GraderFeedback
			if c, ok := ans.Value.(ChoiceAnswer); ok && showKeys {
				item.OptionFeedback = optionFeedback(q, c.SelectedOptionIDs)
			}
		}
		if showKeys {
			item.CorrectOptionIDs = q.CorrectOptionIDs()
			item.Explanation = q.Explanation
		}
		v.Items = append(v.Items, item)
	}
	return v
}

// resultsReleased reports whether a learner may see scores. Nothing is
// released before the attempt is scored.
func resultsReleased(t TestDefinition, a Attempt) bool {
	return t.ShowResultsImmediately && a.Status.Final()
}

func optionFeedback(q Question, selected []string) []string {
	var out []string
	for _, id := range selected {
		for _, o := range q.Options {
			if o.ID == id && o.Feedback != "" {
				out = append(out, o.Feedback)
			}
		}
	}
	return out
}

func publicQuestion(q Question, opts []Option) PublicQuestion {
	pq := PublicQuestion{
		ID:         q.ID,
		Text:       q.Text,
		Type:       q.Type,
		Points:     q.Points,
		IsRequired: q.IsRequired,
		Order:      q.Order,
	}
	for _, o := range opts {
		pq.Options = append(pq.Options, PublicOption{ID: o.ID, Text: o.Text})
	}
	return pq
}

// authoredOrder sorts by Order, keeping list position for ties.
func authoredOrder(qs []Question) []Question {
	out := make([]Question, len(qs))
	copy(out, qs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
