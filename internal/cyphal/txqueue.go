package cyphal

import (
	"container/heap"
	"time"

	"github.com/cyphal-go/udptransport/internal/cystatus"
	"github.com/cyphal-go/udptransport/internal/udpsock"
)

// Item is one pending datagram in a per-interface transmit queue (
// section 3.6).
type Item struct {
	Deadline time.Time
	Priority Priority
	Payload  []byte
	// Socket is the output socket this item was pushed for. Several
	// output sessions can share one interface's Queue while each
	// holding a socket connected to its own destination group, so the
	// drain side must send through this exact socket rather than
	// guessing at one (section 3.2/4.1: every datagram is addressed to
	// one multicast group).
	Socket *udpsock.Socket
	serial uint64
}

// itemHeap implements container/heap.Interface, ordering by priority
// ascending (a lower numeric Priority sorts first, i.e. higher
// precedence) and, within a priority, by serial number ascending;
// section 4.5: "items ordered by (priority ascending, serial
// number ascending)".
type itemHeap []Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].serial < h[j].serial
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) {
	*h = append(*h, x.(Item)) //nolint:forcetypeassert // container/heap contract
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is the per-interface transmit queue: a priority FIFO of
// ready-to-send datagrams bounded by a byte capacity, with deadline
// expiry applied as items are drained (sections 3.6, 4.5).
type Queue struct {
	items        itemHeap
	capacity     int
	usedBytes    int
	nextSerial   uint64
	droppedCount uint64
}

// NewQueue returns an empty Queue with the given byte capacity (
// section 6.2: tx_queue_capacity_per_iface).
func NewQueue(capacityBytes int) *Queue {
	q := &Queue{capacity: capacityBytes}
	heap.Init(&q.items)
	return q
}

// Push enqueues payload at the given priority and deadline, to be sent
// through sock once drained. It returns a MemoryError status if the
// queue's configured byte capacity would be exceeded.
func (q *Queue) Push(priority Priority, payload []byte, deadline time.Time, sock *udpsock.Socket) cystatus.Status {
	if q.usedBytes+len(payload) > q.capacity {
		return cystatus.New(cystatus.MemoryError, cystatus.LayerTransport)
	}

	heap.Push(&q.items, Item{
		Deadline: deadline,
		Priority: priority,
		Payload:  payload,
		Socket:   sock,
		serial:   q.nextSerial,
	})
	q.nextSerial++
	q.usedBytes += len(payload)

	return cystatus.OK()
}

// Peek returns the head item (highest priority, earliest serial)
// without removing it.
func (q *Queue) Peek() (Item, bool) {
	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.items[0], true
}

// Pop removes and returns the head item.
func (q *Queue) Pop() (Item, bool) {
	if len(q.items) == 0 {
		return Item{}, false
	}
	item, _ := heap.Pop(&q.items).(Item)
	q.usedBytes -= len(item.Payload)
	return item, true
}

// Len returns the number of items currently queued.
func (q *Queue) Len() int {
	return len(q.items)
}

// PopReady drops every expired item at the head of the queue (deadline
// before now) and returns the first non-expired item, if any (
// section 4.5: "items whose deadline is in the past are dropped with
// no retry"). The number of items dropped this call is added to the
// queue's running drop counter, readable via Dropped.
func (q *Queue) PopReady(now time.Time) (Item, bool) {
	for {
		item, ok := q.Peek()
		if !ok {
			return Item{}, false
		}
		if item.Deadline.After(now) {
			return q.Pop()
		}
		_, _ = q.Pop()
		q.droppedCount++
	}
}

// Dropped returns the running count of items dropped due to deadline
// expiry.
func (q *Queue) Dropped() uint64 {
	return q.droppedCount
}

// Depth returns the current byte occupancy of the queue.
func (q *Queue) Depth() int {
	return q.usedBytes
}
