package console

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferDefaultCapacity(t *testing.T) {
	b := NewBuffer(0)
	assert.Equal(t, DefaultCapacity, b.Capacity())
	assert.Empty(t, b.Lines())
}

func TestBufferKeepsLastNLines(t *testing.T) {
	const capacity = 5
	for _, total := range []int{capacity, capacity + 1, 3*capacity + 2} {
		t.Run(fmt.Sprintf("appends=%d", total), func(t *testing.T) {
			b := NewBuffer(capacity)
			for i := 0; i < total; i++ {
				b.Append(fmt.Sprintf("line-%d", i))
			}
			got := b.Lines()
			require.Len(t, got, capacity)
			for i, line := range got {
				assert.Equal(t, fmt.Sprintf("line-%d", total-capacity+i), line)
			}
		})
	}
}

func TestBufferPartialFill(t *testing.T) {
	b := NewBuffer(10)
	b.Append("a")
	b.Append("b")
	assert.Equal(t, []string{"a", "b"}, b.Lines())
	assert.Equal(t, 2, b.Len())
}

func TestBufferSnapshotIsolation(t *testing.T) {
	b := NewBuffer(3)
	b.Append("one")
	b.Append("two")

	first := b.Lines()
	second := b.Lines()
	assert.Equal(t, first, second)

	b.Append("three")
	b.Append("four")
	assert.Equal(t, []string{"one", "two"}, first, "snapshot must not observe later appends")
	assert.Equal(t, []string{"two", "three", "four"}, b.Lines())

	first[0] = "mutated"
	assert.Equal(t, "two", b.Lines()[0], "mutating a snapshot must not touch the buffer")
}

func TestBufferConcurrentAppendAndRead(t *testing.T) {
	b := NewBuffer(50)
	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				b.Append(fmt.Sprintf("w%d-%d", w, i))
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				lines := b.Lines()
				assert.LessOrEqual(t, len(lines), 50)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, b.Len())
}
