package generate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestInvariant6_RandomString covers: |s| == size and every byte in [lo,hi].
func TestInvariant6_RandomString(t *testing.T) {
	for i := 0; i < 50; i++ {
		s := RandomString(17, 40, 90)
		assert.Len(t, s, 17)
		for _, b := range s {
			assert.GreaterOrEqual(t, int(b), 40)
			assert.LessOrEqual(t, int(b), 90)
		}
	}
}

func TestRandomInput_WithinBounds(t *testing.T) {
	for i := 0; i < 200; i++ {
		in := RandomInput()
		assert.NotEmpty(t, in)
		assert.LessOrEqual(t, len(in), 1024)
	}
}
