package timerheap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeClock(start time.Time) (*time.Time, func() time.Time) {
	now := start
	return &now, func() time.Time { return now }
}

func TestAddOrdersByDeadline(t *testing.T) {
	nowPtr, fn := fakeClock(time.Unix(0, 0))
	_ = nowPtr
	h := New(fn)

	fired := []int{}
	h.Add(1, 30*time.Millisecond, func() { fired = append(fired, 1) })
	h.Add(2, 10*time.Millisecond, func() { fired = append(fired, 2) })
	h.Add(3, 20*time.Millisecond, func() { fired = append(fired, 3) })

	*nowPtr = nowPtr.Add(25 * time.Millisecond)
	h.Tick()
	assert.Equal(t, []int{2, 3}, fired)
	assert.Equal(t, 1, h.Len())
}

func TestEqualDeadlinesFireInInsertionOrder(t *testing.T) {
	nowPtr, fn := fakeClock(time.Unix(0, 0))
	h := New(fn)

	fired := []int{}
	h.Add(5, 10*time.Millisecond, func() { fired = append(fired, 5) })
	h.Add(3, 10*time.Millisecond, func() { fired = append(fired, 3) })
	h.Add(9, 10*time.Millisecond, func() { fired = append(fired, 9) })

	*nowPtr = nowPtr.Add(10 * time.Millisecond)
	h.Tick()
	assert.Equal(t, []int{5, 3, 9}, fired)
}

func TestAdjustReordersHeap(t *testing.T) {
	nowPtr, fn := fakeClock(time.Unix(0, 0))
	h := New(fn)

	fired := []int{}
	h.Add(1, 10*time.Millisecond, func() { fired = append(fired, 1) })
	h.Add(2, 20*time.Millisecond, func() { fired = append(fired, 2) })

	// extiende el id=1 más allá del id=2: ahora 2 debe vencer primero
	h.Adjust(1, 50*time.Millisecond)

	*nowPtr = nowPtr.Add(25 * time.Millisecond)
	h.Tick()
	assert.Equal(t, []int{2}, fired)
}

func TestDelIsIdempotent(t *testing.T) {
	_, fn := fakeClock(time.Unix(0, 0))
	h := New(fn)
	h.Add(1, time.Second, func() {})
	h.Del(1)
	h.Del(1) // no debe entrar en pánico ni duplicar nada
	assert.Equal(t, 0, h.Len())
}

func TestDoWorkInvokesAndRemoves(t *testing.T) {
	_, fn := fakeClock(time.Unix(0, 0))
	h := New(fn)
	called := false
	h.Add(7, time.Hour, func() { called = true })
	h.DoWork(7)
	assert.True(t, called)
	assert.Equal(t, 0, h.Len())
}

func TestNextTickMSReturnsMinusOneWhenEmpty(t *testing.T) {
	_, fn := fakeClock(time.Unix(0, 0))
	h := New(fn)
	assert.Equal(t, -1, h.NextTickMS())
}

func TestNextTickMSFiresDueThenReportsRemaining(t *testing.T) {
	nowPtr, fn := fakeClock(time.Unix(0, 0))
	h := New(fn)
	fired := false
	h.Add(1, 5*time.Millisecond, func() { fired = true })
	h.Add(2, 100*time.Millisecond, func() {})

	*nowPtr = nowPtr.Add(10 * time.Millisecond)
	ms := h.NextTickMS()
	require.True(t, fired)
	assert.Greater(t, ms, 0)
	assert.LessOrEqual(t, ms, 90)
}

func TestClearDropsWithoutFiring(t *testing.T) {
	_, fn := fakeClock(time.Unix(0, 0))
	h := New(fn)
	called := false
	h.Add(1, time.Millisecond, func() { called = true })
	h.Clear()
	assert.Equal(t, 0, h.Len())
	assert.False(t, called)
}

func TestHeapInvariantUnderChurn(t *testing.T) {
	nowPtr, fn := fakeClock(time.Unix(0, 0))
	h := New(fn)

	for i := 0; i < 50; i++ {
		h.Add(i, time.Duration(i+1)*time.Millisecond, func() {})
	}
	for i := 0; i < 50; i += 2 {
		h.Adjust(i, time.Duration(100-i)*time.Millisecond)
	}
	for i := 1; i < 50; i += 3 {
		h.Del(i)
	}

	// invariante: para cada nodo, su índice en ref coincide con su
	// posición real, y el padre siempre vence antes o igual que el hijo.
	for id, n := range h.ref {
		assert.Equal(t, n, h.h[n.index])
		assert.Equal(t, id, n.id)
	}
	for i := 1; i < h.h.Len(); i++ {
		parent := (i - 1) / 2
		assert.False(t, h.h[i].deadline.Before(h.h[parent].deadline))
	}

	_ = nowPtr
}
