package exam

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shuffledTest() TestDefinition {
	def := TestDefinition{
		ID: "shuf", MaxAttempts: 1, PassingScore: 50, ValidationType: ValidationAutomatic, IsPublished: true,
		ShuffleQuestions: true, RandomizeOptions: true,
	}
	for i := 0; i < 8; i++ {
		def.Questions = append(def.Questions, Question{
			ID: fmt.Sprintf("q%d", i), Type: SingleChoice, Points: 1, Order: i,
			Options: []Option{{ID: "a", IsCorrect: true}, {ID: "b"}, {ID: "c"}, {ID: "d"}},
		})
	}
	return def
}

func questionIDs(p Paper) []string {
	out := make([]string, 0, len(p.Questions))
	for _, q := range p.Questions {
		out = append(out, q.ID)
	}
	return out
}

func TestBuildPaper_StablePerAttempt(t *testing.T) {
	def := shuffledTest()
	now := time.Unix(0, 0)
	a := Attempt{ID: "attempt-1", Status: StatusInProgress}

	first := BuildPaper(def, a, now)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first.Questions, BuildPaper(def, a, now).Questions)
	}
	assert.ElementsMatch(t, []string{"q0", "q1", "q2", "q3", "q4", "q5", "q6", "q7"}, questionIDs(first))

	differs := 0
	for i := 2; i < 12; i++ {
		other := BuildPaper(def, Attempt{ID: fmt.Sprintf("attempt-%d", i)}, now)
		if !assert.ObjectsAreEqual(questionIDs(first), questionIDs(other)) {
			differs++
		}
	}
	assert.Greater(t, differs, 7)
}

func TestBuildPaper_HidesKeysAndKeepsOrderWhenNotShuffled(t *testing.T) {
	def := mixedTest("m")
	def.Questions[0].Order, def.Questions[1].Order = 2, 1
	a := Attempt{ID: "x", Answers: map[string]Answer{}}

	p := BuildPaper(def, a, time.Unix(0, 0))
	assert.Equal(t, []string{"q2", "q1"}, questionIDs(p))
	assert.Equal(t, []PublicOption{{ID: "a"}, {ID: "b"}}, p.Questions[1].Options)
	assert.Nil(t, p.TimeRemainingSec)
}

func TestTimeRemainingNeverNegative(t *testing.T) {
	start := time.Unix(1000, 0)
	dl := start.Add(time.Minute)
	a := Attempt{Status: StatusInProgress, Deadline: &dl}

	assert.Equal(t, int64(60), *TimeRemainingSec(a, start))
	assert.Equal(t, int64(15), *TimeRemainingSec(a, start.Add(45*time.Second)))
	assert.Equal(t, int64(0), *TimeRemainingSec(a, start.Add(time.Hour)))
	assert.Nil(t, TimeRemainingSec(Attempt{}, start))
}

func TestBuildResult_Gating(t *testing.T) {
	ctx := context.Background()
	def := singleChoiceTest("t1")
	def.Questions[0].Explanation = "Paris is the capital"
	def.Questions[0].Options[1].Feedback = "Lyon is not the capital"
	e, _, _ := newTestEngine(t, def)

	a, err := e.Start(ctx, "t1", "alice")
	require.NoError(t, err)
	assert.False(t, BuildResult(def, a, false).Released)

	_, err = e.RecordAnswer(ctx, a.ID, "alice", "q1", NewChoiceAnswer("2"))
	require.NoError(t, err)
	a, _, err = e.Submit(ctx, a.ID, "alice")
	require.NoError(t, err)

	hidden := BuildResult(def, a, false)
	assert.False(t, hidden.Released)
	assert.Nil(t, hidden.Score)
	assert.Empty(t, hidden.Items)
	redacted := LearnerAttempt(def, a)
	assert.Nil(t, redacted.Score)
	assert.Nil(t, redacted.Answers["q1"].PointsEarned)
	assert.NotNil(t, a.Score, "redaction works on a copy")

	def.ShowResultsImmediately = true
	scores := BuildResult(def, a, false)
	require.True(t, scores.Released)
	assert.Equal(t, 0, *scores.Score)
	require.Len(t, scores.Items, 1)
	assert.False(t, *scores.Items[0].IsCorrect)
	assert.Empty(t, scores.Items[0].CorrectOptionIDs)

	def.ShowCorrectAnswers = true
	keys := BuildResult(def, a, false)
	assert.Equal(t, []string{"1"}, keys.Items[0].CorrectOptionIDs)
	assert.Equal(t, []string{"Lyon is not the capital"}, keys.Items[0].OptionFeedback)
	assert.Equal(t, "Paris is the capital", keys.Items[0].Explanation)

	def.ShowResultsImmediately, def.ShowCorrectAnswers = false, false
	grader := BuildResult(def, a, true)
	assert.True(t, grader.Released)
	assert.Equal(t, []string{"1"}, grader.Items[0].CorrectOptionIDs)
}
