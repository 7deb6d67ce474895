package cyphal

import "sync"

// Arena is a pluggable byte-buffer allocator (section 11: "config &
// memory plumbing ... pluggable allocators per arena"). The transport
// coordinator owns one Arena per concern (TX queue items, RX payload
// buffers, session objects) and passes it to the component that needs
// it; no component allocates outside the arena it was given.
type Arena interface {
	// Get returns a buffer with at least the requested capacity, or nil
	// if the arena refuses the allocation. Its length is unspecified;
	// callers reslice to the length they need.
	Get(size int) []byte
	// Put returns a buffer to the arena for reuse. Callers must not use
	// buf after calling Put.
	Put(buf []byte)
	// Stats reports the arena's current allocation statistics.
	Stats() ArenaStats
}

// ArenaStats tracks allocation pressure for one arena, adding the kind
// of high-water-mark instrumentation libcyphal's tracking memory
// resource provides on top of the allocator-plumbing contract above.
type ArenaStats struct {
	// Allocated is the number of buffers currently checked out.
	Allocated int64
	// HighWater is the largest Allocated has ever been.
	HighWater int64
	// Denied counts Get calls that could not be satisfied because the
	// arena had reached its configured limit.
	Denied int64
}

// PoolArena is a sync.Pool-backed Arena with an optional ceiling on the
// number of buffers checked out at once, mirroring the cached-buffer
// pattern gobfd's packet listener uses (sync.Pool of fixed-size byte
// slices) generalized to a bounded pool so Push-side MemoryError
// reporting (section 4.5) has a real limit to report against.
type PoolArena struct {
	pool     sync.Pool
	mu       sync.Mutex
	limit    int64
	inFlight int64
	highWater int64
	denied   int64
}

// NewPoolArena returns a PoolArena that hands out buffers of at least
// bufSize bytes and refuses Get once limit buffers are checked out. A
// non-positive limit means unlimited.
func NewPoolArena(bufSize int, limit int64) *PoolArena {
	return &PoolArena{
		limit: limit,
		pool: sync.Pool{
			New: func() any {
				buf := make([]byte, bufSize)
				return &buf
			},
		},
	}
}

// Get returns a buffer of at least size bytes, or nil if the arena's
// limit has been reached.
func (a *PoolArena) Get(size int) []byte {
	a.mu.Lock()
	if a.limit > 0 && a.inFlight >= a.limit {
		a.denied++
		a.mu.Unlock()
		return nil
	}
	a.inFlight++
	if a.inFlight > a.highWater {
		a.highWater = a.inFlight
	}
	a.mu.Unlock()

	bufPtr, _ := a.pool.Get().(*[]byte) //nolint:forcetypeassert // pool.New always returns *[]byte
	buf := *bufPtr
	if cap(buf) < size {
		buf = make([]byte, size)
	}
	return buf[:size]
}

// Put returns buf to the pool.
func (a *PoolArena) Put(buf []byte) {
	a.mu.Lock()
	if a.inFlight > 0 {
		a.inFlight--
	}
	a.mu.Unlock()

	b := buf[:cap(buf)]
	a.pool.Put(&b)
}

// Stats returns a snapshot of the arena's allocation counters.
func (a *PoolArena) Stats() ArenaStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ArenaStats{
		Allocated: a.inFlight,
		HighWater: a.highWater,
		Denied:    a.denied,
	}
}
