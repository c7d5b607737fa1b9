package retry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequence(t *testing.T) {
	t.Parallel()

	seq := newSequence(maxRetryIn)
	var got []int
	for i := 0; i < 12; i++ {
		got = append(got, seq.step())
	}

	assert.Equal(t, []int{1, 1, 2, 3, 5, 8, 13, 21, 34, 55, 60, 60}, got)
}

func TestSequenceSmallCeiling(t *testing.T) {
	t.Parallel()

	seq := newSequence(2)
	assert.Equal(t, 1, seq.step())
	assert.Equal(t, 1, seq.step())
	assert.Equal(t, 2, seq.step())
	assert.Equal(t, 2, seq.step())
}
