package grading

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultGrader_SingleChoice(t *testing.T) {
	g := NewDefaultGrader()
	q := Q{Type: TypeSingleChoice, Points: 10, CorrectIDs: []string{"1"}}

	tests := []struct {
		name     string
		selected []string
		points   float64
		correct  bool
	}{
		{name: "correct option", selected: []string{"1"}, points: 10, correct: true},
		{name: "wrong option", selected: []string{"2"}},
		{name: "nothing selected", selected: nil},
		{name: "correct plus extra", selected: []string{"1", "2"}},
		{name: "duplicate correct id", selected: []string{"1", "1"}, points: 10, correct: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := g.Grade(context.Background(), q, Response{Selected: tc.selected})
			require.NoError(t, err)
			assert.False(t, res.NeedsManual)
			assert.Equal(t, tc.points, res.Points)
			assert.Equal(t, tc.correct, res.Correct)
			assert.Equal(t, 10.0, res.MaxPoints)
		})
	}
}

func TestDefaultGrader_TrueFalseUsesSingleRule(t *testing.T) {
	g := NewDefaultGrader()
	q := Q{Type: TypeTrueFalse, Points: 2, CorrectIDs: []string{"true"}}

	res, err := g.Grade(context.Background(), q, Response{Selected: []string{"true"}})
	require.NoError(t, err)
	assert.Equal(t, 2.0, res.Points)

	res, err = g.Grade(context.Background(), q, Response{Selected: []string{"false"}})
	require.NoError(t, err)
	assert.Zero(t, res.Points)
	assert.False(t, res.Correct)
}

func TestDefaultGrader_MultipleChoiceExactMatch(t *testing.T) {
	g := NewDefaultGrader()
	q := Q{Type: TypeMultipleChoice, Points: 20, CorrectIDs: []string{"4", "5"}}

	tests := []struct {
		name     string
		selected []string
		points   float64
	}{
		{name: "exact set", selected: []string{"5", "4"}, points: 20},
		{name: "one wrong one right", selected: []string{"4", "6"}},
		{name: "subset", selected: []string{"4"}},
		{name: "superset", selected: []string{"4", "5", "6"}},
		{name: "empty", selected: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := g.Grade(context.Background(), q, Response{Selected: tc.selected})
			require.NoError(t, err)
			assert.Equal(t, tc.points, res.Points)
			assert.Equal(t, tc.points == 20, res.Correct)
		})
	}
}

func TestDefaultGrader_MultipleChoicePartialOptIn(t *testing.T) {
	g := NewDefaultGrader(WithPartialMulti(true))
	q := Q{Type: TypeMultipleChoice, Points: 20, CorrectIDs: []string{"4", "5"}}

	res, err := g.Grade(context.Background(), q, Response{Selected: []string{"4"}})
	require.NoError(t, err)
	assert.Equal(t, 10.0, res.Points)
	assert.False(t, res.Correct)

	// a false positive forfeits partial credit
	res, err = g.Grade(context.Background(), q, Response{Selected: []string{"4", "6"}})
	require.NoError(t, err)
	assert.Zero(t, res.Points)
}

func TestDefaultGrader_FreeFormNeedsManual(t *testing.T) {
	g := NewDefaultGrader()
	for _, typ := range []string{TypeShortAnswer, TypeLongAnswer, TypeFileUpload} {
		res, err := g.Grade(context.Background(), Q{Type: typ, Points: 5}, Response{Text: "an essay"})
		require.NoError(t, err, typ)
		assert.True(t, res.NeedsManual, typ)
		assert.Zero(t, res.Points, typ)
		assert.False(t, IsAutoGradable(typ), typ)
	}
}

func TestDefaultGrader_ShapeMismatch(t *testing.T) {
	g := NewDefaultGrader()
	_, err := g.Grade(context.Background(), Q{Type: TypeSingleChoice, Points: 1, CorrectIDs: []string{"a"}}, Response{Text: "a"})
	assert.ErrorIs(t, err, ErrResponseShape)

	_, err = g.Grade(context.Background(), Q{Type: TypeShortAnswer, Points: 1}, Response{Selected: []string{"a"}})
	assert.ErrorIs(t, err, ErrResponseShape)
}

func TestDefaultGrader_UnknownTypeFallsBackToManual(t *testing.T) {
	res, err := NewDefaultGrader().Grade(context.Background(), Q{Type: "matching", Points: 3}, Response{})
	require.NoError(t, err)
	assert.True(t, res.NeedsManual)
}

func TestPercentAndPassed(t *testing.T) {
	assert.Equal(t, 100, Percent(10, 10))
	assert.Equal(t, 0, Percent(0, 10))
	assert.Equal(t, 67, Percent(2, 3))
	assert.Equal(t, 33, Percent(1, 3))
	assert.Equal(t, 50, Percent(15, 30))
	assert.Equal(t, 0, Percent(5, 0))

	assert.True(t, Passed(70, 70), "boundary is inclusive")
	assert.True(t, Passed(71, 70))
	assert.False(t, Passed(69, 70))
}
