// Package shuffle derives stable presentation orders from a string seed.
//
// The same seed always yields the same permutation, so an attempt can
// re-derive its question and option order on every request without storing
// it. Scoring never depends on these orders.
package shuffle

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"
)

// Permutation returns a permutation of [0, n) determined by seed.
func Permutation(seed string, n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	if n < 2 {
		return idx
	}
	r := source(seed)
	// Fisher-Yates driven directly by PCG output so the sequence only
	// depends on the PCG algorithm, which is fixed.
	for i := n - 1; i > 0; i-- {
		j := int(r.Uint64() % uint64(i+1))
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx
}

// Order returns a reordered copy of items. The input slice is not modified.
func Order[T any](seed string, items []T) []T {
	out := make([]T, len(items))
	for i, p := range Permutation(seed, len(items)) {
		out[i] = items[p]
	}
	return out
}

func source(seed string) *rand.PCG {
	sum := sha256.Sum256([]byte(seed))
	return rand.NewPCG(binary.LittleEndian.Uint64(sum[0:8]), binary.LittleEndian.Uint64(sum[8:16]))
}
