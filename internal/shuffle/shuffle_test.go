package shuffle

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrder_SameSeedSameSequence(t *testing.T) {
	items := []string{"q1", "q2", "q3", "q4", "q5", "q6", "q7", "q8"}
	first := Order("attempt-42", items)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Order("attempt-42", items))
	}
}

func TestOrder_IsPermutation(t *testing.T) {
	items := []int{5, 1, 9, 3, 7, 2}
	got := Order("seed", items)
	require.Len(t, got, len(items))

	a := append([]int(nil), items...)
	b := append([]int(nil), got...)
	sort.Ints(a)
	sort.Ints(b)
	assert.Equal(t, a, b)
}

func TestOrder_DoesNotMutateInput(t *testing.T) {
	items := []string{"a", "b", "c", "d"}
	_ = Order("x", items)
	assert.Equal(t, []string{"a", "b", "c", "d"}, items)
}

func TestOrder_DifferentSeedsUsuallyDiffer(t *testing.T) {
	items := make([]int, 10)
	for i := range items {
		items[i] = i
	}
	base := Order("attempt-0", items)
	differ := 0
	for i := 1; i <= 50; i++ {
		if !assert.ObjectsAreEqual(base, Order(fmt.Sprintf("attempt-%d", i), items)) {
			differ++
		}
	}
	// 10! orderings; a collision or two is tolerable, fifty is not.
	assert.Greater(t, differ, 45)
}

func TestPermutation_SmallInputs(t *testing.T) {
	assert.Equal(t, []int{}, Permutation("s", 0))
	assert.Equal(t, []int{0}, Permutation("s", 1))
}
