// Package generate implements the input generators (C4): synthesizing
// fresh candidates from scratch, for the blackbox loop's random trials and
// for greybox's initial-seed fallback.
package generate

import (
	"math/rand/v2"
	"strconv"
)

// RandomString returns a byte string of exactly size bytes, each uniform in
// [lo, hi].
func RandomString(size, lo, hi int) []byte {
	out := make([]byte, size)
	span := hi - lo + 1
	for i := range out {
		out[i] = byte(lo + rand.IntN(span))
	}
	return out
}

// RandomInput returns, with equal probability, either a random
// printable-ASCII string of length uniform in [1,1024] (bytes in [33,126]),
// or the decimal representation of an integer uniform in [1,1000000].
func RandomInput() []byte {
	if rand.IntN(2) == 0 {
		size := 1 + rand.IntN(1024)
		return RandomString(size, 33, 126)
	}
	n := 1 + rand.IntN(1_000_000)
	return []byte(strconv.Itoa(n))
}
