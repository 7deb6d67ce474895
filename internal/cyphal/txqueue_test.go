package cyphal_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cyphal-go/udptransport/internal/cyphal"
	"github.com/cyphal-go/udptransport/internal/cystatus"
)

func TestQueuePriorityOrdering(t *testing.T) {
	q := cyphal.NewQueue(1 << 20)
	deadline := time.Now().Add(time.Minute)

	for range 50 {
		require.True(t, q.Push(cyphal.Nominal, []byte("n"), deadline, nil).OK())
	}
	require.True(t, q.Push(cyphal.Immediate, []byte("i"), deadline, nil).OK())

	item, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, cyphal.Immediate, item.Priority)
	require.Equal(t, "i", string(item.Payload))
}

func TestQueueFIFOWithinPriority(t *testing.T) {
	q := cyphal.NewQueue(1 << 20)
	deadline := time.Now().Add(time.Minute)

	require.True(t, q.Push(cyphal.Nominal, []byte("first"), deadline, nil).OK())
	require.True(t, q.Push(cyphal.Nominal, []byte("second"), deadline, nil).OK())

	item, _ := q.Pop()
	require.Equal(t, "first", string(item.Payload))
	item, _ = q.Pop()
	require.Equal(t, "second", string(item.Payload))
}

func TestQueuePushRejectsOverCapacity(t *testing.T) {
	q := cyphal.NewQueue(4)
	deadline := time.Now().Add(time.Minute)

	require.True(t, q.Push(cyphal.Nominal, []byte("1234"), deadline, nil).OK())
	st := q.Push(cyphal.Nominal, []byte("x"), deadline, nil)
	require.False(t, st.OK())
	require.Equal(t, cystatus.MemoryError, st.Kind)
}

func TestQueuePopReadyDropsExpired(t *testing.T) {
	q := cyphal.NewQueue(1 << 20)
	now := time.Now()

	require.True(t, q.Push(cyphal.Nominal, []byte("expired"), now.Add(-time.Second), nil).OK())
	require.True(t, q.Push(cyphal.Nominal, []byte("fresh"), now.Add(time.Minute), nil).OK())

	item, ok := q.PopReady(now)
	require.True(t, ok)
	require.Equal(t, "fresh", string(item.Payload))
	require.Equal(t, uint64(1), q.Dropped())
}
