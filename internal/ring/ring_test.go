package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_EvictsOldestFirst(t *testing.T) {
	b := New[int](3)
	for i := 1; i <= 5; i++ {
		b.Add(i)
	}

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []int{3, 4, 5}, b.Ordered())
	assert.Equal(t, []int{5, 4, 3}, b.Recent(0))
	assert.Equal(t, []int{5, 4}, b.Recent(2))

	last, ok := b.Last()
	require.True(t, ok)
	assert.Equal(t, 5, last)
}

func TestBuffer_Empty(t *testing.T) {
	b := New[string](0)
	assert.Equal(t, defaultCapacity, b.Cap())
	assert.Nil(t, b.Recent(10))
	assert.Empty(t, b.Ordered())
	_, ok := b.Last()
	assert.False(t, ok)
}

func TestBuffer_PartiallyFilled(t *testing.T) {
	b := New[int](4)
	b.Add(7)
	b.Add(8)
	assert.Equal(t, []int{7, 8}, b.Ordered())
	assert.Equal(t, []int{8, 7}, b.Recent(5))
}
